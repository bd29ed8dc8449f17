package transcription

import "context"

// RecognitionConfig describes the audio and the recognition options sent with
// every job.
type RecognitionConfig struct {
	Encoding             string
	SampleRateHz         int
	Channels             int
	LanguageCode         string
	Model                string
	AutomaticPunctuation bool
	UseEnhanced          bool
}

// PollResult is the state of a submitted job. Segments are only meaningful
// when Done is true and arrive in result order.
type PollResult struct {
	Done     bool
	Progress int
	Segments []string
}

// Recognizer runs long-running speech recognition jobs. Errors marked
// services.ErrTransient leave the job resumable; any other error means the job
// itself is gone or failed.
type Recognizer interface {
	Submit(ctx context.Context, audioURI string, cfg RecognitionConfig) (string, error)
	Poll(ctx context.Context, handle string) (PollResult, error)
}
