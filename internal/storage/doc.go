// Package storage implements the durable object store that normalized audio is
// uploaded to before recognition.
//
// Objects are addressed by deterministic keys derived from artifact identity;
// Exists treats zero-length objects as absent so a truncated upload is
// retried. Local keeps objects on disk (used with the WhisperX recognizer and
// in tests); GCS targets a Cloud Storage bucket for Google recognition.
package storage
