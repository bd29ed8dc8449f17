// Package speech adapts Google Cloud Speech-to-Text long-running recognition
// to the transcription.Recognizer contract. Operation names are the job
// handles, so a job started by one process can be polled by the next.
package speech
