// Package transcription implements the transcribe stage on top of a
// long-running recognition backend.
//
// A job is submitted once per item and its handle is stored in the ledger
// straight away. The executor then polls at a fixed interval up to a ceiling;
// reaching the ceiling is a transient failure that keeps the handle, so the
// next run resumes polling the same job rather than paying for a second one.
// Segments are joined with newlines, and an empty transcript is a failure.
package transcription
