package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"castindex/internal/fileutil"
	"castindex/internal/logging"
	"castindex/internal/services"
	"castindex/internal/stage"
)

// JobStore persists remote job handles so an interrupted run resumes polling
// instead of submitting the same audio again.
type JobStore interface {
	SaveJobHandle(ctx context.Context, runID, itemID string, name stage.Name, handle string) error
	JobHandle(ctx context.Context, itemID string, name stage.Name) (string, error)
	ClearJobHandle(ctx context.Context, itemID string, name stage.Name) error
}

// Policy bounds the polling loop.
type Policy struct {
	Interval time.Duration
	Ceiling  time.Duration
}

// Executor implements the transcribe stage on top of a Recognizer.
type Executor struct {
	recognizer Recognizer
	jobs       JobStore
	config     RecognitionConfig
	policy     Policy
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
	logger     *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleeper replaces the wait between polls.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithClock replaces the time source used to measure elapsed polling time.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds a transcribe executor.
func New(recognizer Recognizer, jobs JobStore, cfg RecognitionConfig, policy Policy, opts ...Option) *Executor {
	if policy.Interval <= 0 {
		policy.Interval = 10 * time.Second
	}
	if policy.Ceiling < policy.Interval {
		policy.Ceiling = policy.Interval
	}
	e := &Executor{
		recognizer: recognizer,
		jobs:       jobs,
		config:     cfg,
		policy:     policy,
		sleep:      sleepContext,
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements stage.Executor.
func (e *Executor) Name() stage.Name { return stage.Transcribe }

// SetLogger implements stage.LoggerAware.
func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, "transcribe")
}

// Produce implements stage.Executor.
func (e *Executor) Produce(ctx context.Context, job stage.Job) error {
	if e.recognizer == nil {
		return services.Wrap(services.ErrConfiguration, "transcribe", "recognizer", "not configured", nil)
	}
	itemID := job.Item.ID

	handle, err := e.handle(ctx, itemID)
	if err != nil {
		return err
	}
	resumed := handle != ""
	if resumed {
		e.logger.Info("resuming recognition job", logging.String("job", handle))
	} else if handle, err = e.submit(ctx, job); err != nil {
		return err
	}

	text, err := e.await(ctx, itemID, handle)
	if resumed && errors.Is(err, services.ErrNotFound) {
		logging.WarnWithContext(e.logger, "recognition job no longer exists; submitting again", "job_handle_stale",
			logging.String("job", handle),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "jobs expire on the service side after a few days"),
			logging.String(logging.FieldImpact, "audio is recognized again from the start"),
		)
		if handle, err = e.submit(ctx, job); err != nil {
			return err
		}
		text, err = e.await(ctx, itemID, handle)
	}
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(job.Output.Path, []byte(text), 0o644); err != nil {
		return services.Wrap(services.ErrSetup, "transcribe", "write transcript", job.Output.Path, err)
	}
	e.logger.Info("transcript written",
		logging.String("output", job.Output.Path),
		logging.Int("chars", len([]rune(text))),
	)
	return nil
}

func (e *Executor) handle(ctx context.Context, itemID string) (string, error) {
	if e.jobs == nil {
		return "", nil
	}
	handle, err := e.jobs.JobHandle(ctx, itemID, stage.Transcribe)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "load job handle", itemID, err)
	}
	return strings.TrimSpace(handle), nil
}

// submit starts a new job and persists its handle before any polling.
func (e *Executor) submit(ctx context.Context, job stage.Job) (string, error) {
	audio := job.Input.URI
	if audio == "" {
		audio = job.Input.Path
	}
	handle, err := e.recognizer.Submit(ctx, audio, e.config)
	if err != nil {
		return "", classify(err, "submit job")
	}
	if e.jobs != nil {
		if err := e.jobs.SaveJobHandle(ctx, job.RunID, job.Item.ID, stage.Transcribe, handle); err != nil {
			return "", services.Wrap(services.ErrTransient, "transcribe", "save job handle", handle, err)
		}
	}
	e.logger.Info("recognition job submitted",
		logging.String("job", handle),
		logging.String("audio", audio),
	)
	return handle, nil
}

// await polls handle at the policy interval until the job finishes or the
// ceiling is reached. The ceiling leaves the handle in place for the next run.
func (e *Executor) await(ctx context.Context, itemID, handle string) (string, error) {
	started := e.now()
	for attempt := 1; ; attempt++ {
		result, err := e.recognizer.Poll(ctx, handle)
		if err != nil {
			if !services.IsTransient(err) {
				e.forget(ctx, itemID)
			}
			return "", classify(err, "poll job")
		}
		elapsed := e.now().Sub(started)
		if result.Done {
			text := strings.TrimSpace(strings.Join(result.Segments, "\n"))
			if text == "" {
				e.forget(ctx, itemID)
				return "", services.Wrap(services.ErrData, "transcribe", "collect result", "recognition returned no text", nil)
			}
			e.logger.Info("recognition job finished",
				logging.String("job", handle),
				logging.Int("segments", len(result.Segments)),
				logging.Duration("elapsed", elapsed.Round(time.Second)),
			)
			return text, nil
		}

		e.logger.Info("recognition in progress",
			logging.String("job", handle),
			logging.Int("poll", attempt),
			logging.Int("progress_percent", result.Progress),
			logging.Duration("elapsed", elapsed.Round(time.Second)),
		)
		if elapsed+e.policy.Interval > e.policy.Ceiling {
			return "", services.Wrap(services.ErrTransient, "transcribe", "poll job",
				fmt.Sprintf("ceiling of %s reached after %d polls; job %s will be resumed", e.policy.Ceiling, attempt, handle), nil)
		}
		if err := e.sleep(ctx, e.policy.Interval); err != nil {
			return "", services.Wrap(services.ErrTransient, "transcribe", "poll job", "interrupted", err)
		}
	}
}

func (e *Executor) forget(ctx context.Context, itemID string) {
	if e.jobs == nil {
		return
	}
	if err := e.jobs.ClearJobHandle(ctx, itemID, stage.Transcribe); err != nil {
		e.logger.Warn("failed to clear job handle",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_handle_clear_failed"),
			logging.String(logging.FieldErrorHint, "reset the transcribe stage for this item"),
			logging.String(logging.FieldImpact, "next run polls the stale job first"),
		)
	}
}

// HealthCheck implements stage.Executor.
func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	if e.recognizer == nil {
		return stage.Unhealthy(stage.Transcribe, "recognizer not configured")
	}
	if checker, ok := e.recognizer.(interface{ Check(context.Context) error }); ok {
		if err := checker.Check(ctx); err != nil {
			return stage.Unhealthy(stage.Transcribe, err.Error())
		}
	}
	return stage.Healthy(stage.Transcribe)
}

// classify keeps an existing marker and treats unmarked recognizer errors as
// transient.
func classify(err error, operation string) error {
	if services.Kind(err) != services.KindTransient || errors.Is(err, services.ErrTransient) {
		return err
	}
	return services.Wrap(services.ErrTransient, "transcribe", operation, "", err)
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
