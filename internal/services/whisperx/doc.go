// Package whisperx runs WhisperX locally through uvx and exposes it as a
// transcription.Recognizer.
//
// Each job writes JSON into its own directory under the configured work dir,
// and that directory is the job handle. Polling a handle whose process is not
// tracked by this service still succeeds when the output already exists, so a
// run interrupted after WhisperX finished does not transcribe twice.
package whisperx
