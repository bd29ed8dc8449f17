package annotation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"castindex/internal/fileutil"
	"castindex/internal/logging"
	"castindex/internal/services"
	"castindex/internal/services/llm"
	"castindex/internal/stage"
	"castindex/internal/textutil"
)

// Generator produces a free-text completion for a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Settings shape prompts and pacing.
type Settings struct {
	TranscriptLimit int
	RawLimit        int
	RateDelay       time.Duration
}

// Executor implements the annotate stage.
type Executor struct {
	generator Generator
	settings  Settings
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleeper replaces the wait applied after each model call.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New builds an annotate executor.
func New(generator Generator, settings Settings, opts ...Option) *Executor {
	if settings.TranscriptLimit <= 0 {
		settings.TranscriptLimit = DefaultTranscriptLimit
	}
	if settings.RawLimit <= 0 {
		settings.RawLimit = DefaultRawLimit
	}
	e := &Executor{
		generator: generator,
		settings:  settings,
		sleep:     sleepContext,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements stage.Executor.
func (e *Executor) Name() stage.Name { return stage.Annotate }

// SetLogger implements stage.LoggerAware.
func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, "annotate")
}

// Produce implements stage.Executor. An unparseable model response is still
// written, as the error variant, and reported with stage.DegradedError.
func (e *Executor) Produce(ctx context.Context, job stage.Job) error {
	if e.generator == nil {
		return services.Wrap(services.ErrConfiguration, "annotate", "generator", "not configured", nil)
	}
	transcript, err := os.ReadFile(job.Input.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "annotate", "read transcript", job.Input.Path, err)
		}
		return services.Wrap(services.ErrSetup, "annotate", "read transcript", job.Input.Path, err)
	}
	text := strings.TrimSpace(string(transcript))
	if text == "" {
		return services.Wrap(services.ErrData, "annotate", "read transcript", "transcript is empty", nil)
	}

	prompt := BuildPrompt(job.Item.Title, text, e.settings.TranscriptLimit)
	content, callErr := e.generator.Complete(ctx, prompt)
	e.pause(ctx)
	if callErr != nil {
		return classify(callErr)
	}

	ann, parseErr := Parse(content, e.settings.RawLimit)
	ann.ItemID = job.Item.ID
	ann.Title = job.Item.Title
	data, err := ann.Encode()
	if err != nil {
		return services.Wrap(services.ErrData, "annotate", "encode annotation", job.Item.ID, err)
	}
	if err := fileutil.WriteFileAtomic(job.Output.Path, data, 0o644); err != nil {
		return services.Wrap(services.ErrSetup, "annotate", "write annotation", job.Output.Path, err)
	}
	if parseErr != nil {
		return &stage.DegradedError{Err: services.Wrap(services.ErrData, "annotate", "parse response", ParseFailure, parseErr)}
	}
	e.logger.Info("annotation written",
		logging.String("output", job.Output.Path),
		logging.Int("tech_tags", len(ann.TechTags)),
		logging.Int("business_tags", len(ann.BusinessTags)),
		logging.Int("key_topics", len(ann.KeyTopics)),
	)
	return nil
}

// Parse decodes a model response into a normalized annotation. On failure it
// returns the error variant alongside the decode error.
func Parse(content string, rawLimit int) (Annotation, error) {
	var resp response
	if err := llm.DecodeJSON(content, &resp); err != nil {
		if rawLimit <= 0 {
			rawLimit = DefaultRawLimit
		}
		return Annotation{
			Error: ParseFailure,
			Raw:   textutil.Truncate(strings.TrimSpace(content), rawLimit),
		}, err
	}
	return Annotation{
		TechTags:     dedupe(resp.TechTags),
		BusinessTags: dedupe(resp.BusinessTags),
		KeyTopics:    dedupe(resp.KeyTopics),
		Guest:        parseGuest(resp.Guest),
		Summary:      strings.Join(strings.Fields(resp.Summary), " "),
	}, nil
}

func (e *Executor) pause(ctx context.Context) {
	if e.settings.RateDelay <= 0 {
		return
	}
	_ = e.sleep(ctx, e.settings.RateDelay)
}

// HealthCheck implements stage.Executor.
func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	if e.generator == nil {
		return stage.Unhealthy(stage.Annotate, "generator not configured")
	}
	if checker, ok := e.generator.(interface{ HealthCheck(context.Context) error }); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return stage.Unhealthy(stage.Annotate, err.Error())
		}
	}
	return stage.Healthy(stage.Annotate)
}

// classify maps generator failures. Rejected credentials are a configuration
// problem; everything else is retried on the next run.
func classify(err error) error {
	if code, ok := llm.StatusCode(err); ok && (code == http.StatusUnauthorized || code == http.StatusForbidden) {
		return services.Wrap(services.ErrConfiguration, "annotate", "complete", "credentials rejected", err)
	}
	if services.Kind(err) != services.KindTransient || errors.Is(err, services.ErrTransient) {
		return err
	}
	return services.Wrap(services.ErrTransient, "annotate", "complete", "", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
