package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speechapi "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"castindex/internal/services"
	"castindex/internal/transcription"
)

// Config configures the Cloud Speech client.
type Config struct {
	CredentialsFile string
}

// Client submits and polls long-running recognition operations.
type Client struct {
	client *speechapi.Client
}

// New opens a Cloud Speech client. Credentials come from the configured file
// or application default credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := speechapi.NewClient(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "speech", "new client", "", err)
	}
	return &Client{client: client}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// BuildRequest translates a recognition config into the API request.
func BuildRequest(audioURI string, cfg transcription.RecognitionConfig) *speechpb.LongRunningRecognizeRequest {
	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding(cfg.Encoding),
			SampleRateHertz:            int32(cfg.SampleRateHz),
			AudioChannelCount:          int32(cfg.Channels),
			LanguageCode:               cfg.LanguageCode,
			EnableAutomaticPunctuation: cfg.AutomaticPunctuation,
			Model:                      cfg.Model,
			UseEnhanced:                cfg.UseEnhanced,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audioURI},
		},
	}
}

func encoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "FLAC", "":
		return speechpb.RecognitionConfig_FLAC
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// Submit starts a long-running recognition job and returns the operation name.
func (c *Client) Submit(ctx context.Context, audioURI string, cfg transcription.RecognitionConfig) (string, error) {
	if !strings.HasPrefix(audioURI, "gs://") {
		return "", services.Wrap(services.ErrConfiguration, "speech", "submit",
			fmt.Sprintf("audio %q is not a gs:// URI; use storage.backend gcs", audioURI), nil)
	}
	op, err := c.client.LongRunningRecognize(ctx, BuildRequest(audioURI, cfg))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "speech", "submit", audioURI, err)
	}
	return op.Name(), nil
}

// Poll checks a job once. A finished operation that reports an error is a
// failed job, an unknown or malformed operation name is not found, and other
// errors are transient.
func (c *Client) Poll(ctx context.Context, handle string) (transcription.PollResult, error) {
	op := c.client.LongRunningRecognizeOperation(handle)
	resp, err := op.Poll(ctx)
	if err != nil {
		return transcription.PollResult{}, pollError(handle, op.Done(), err)
	}
	if !op.Done() {
		result := transcription.PollResult{}
		if meta, metaErr := op.Metadata(); metaErr == nil && meta != nil {
			result.Progress = int(meta.GetProgressPercent())
		}
		return result, nil
	}
	if resp == nil {
		return transcription.PollResult{}, services.Wrap(services.ErrExternalTool, "speech", "operation", "finished without a response", errors.New(handle))
	}
	return transcription.PollResult{Done: true, Progress: 100, Segments: Segments(resp)}, nil
}

func pollError(handle string, done bool, err error) error {
	if done {
		return services.Wrap(services.ErrExternalTool, "speech", "operation failed", handle, err)
	}
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument:
		return services.Wrap(services.ErrNotFound, "speech", "poll", "operation "+handle+" does not exist", err)
	}
	return services.Wrap(services.ErrTransient, "speech", "poll", handle, err)
}

// Segments returns the top alternative of each result in order.
func Segments(resp *speechpb.LongRunningRecognizeResponse) []string {
	if resp == nil {
		return nil
	}
	segments := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		segments = append(segments, alternatives[0].GetTranscript())
	}
	return segments
}
