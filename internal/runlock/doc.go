// Package runlock keeps two castindex processes from writing the same item
// store and ledger at once.
package runlock
