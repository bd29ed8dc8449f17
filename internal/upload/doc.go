// Package upload implements the upload stage, which places normalized audio in
// the configured object store so the recognition backend can read it.
package upload
