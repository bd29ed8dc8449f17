package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"castindex/internal/artifacts"
	"castindex/internal/itemstore"
	"castindex/internal/ledger"
	"castindex/internal/logging"
	"castindex/internal/notifications"
	"castindex/internal/services"
	"castindex/internal/stage"
)

// Outcome reports what Run did for one stage.
type Outcome int

const (
	// Skipped means the artifact already existed and the executor was not called.
	Skipped Outcome = iota
	// Produced means the executor ran and its artifact now exists.
	Produced
	// Failed means the stage did not produce its artifact.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Produced:
		return "produced"
	default:
		return "failed"
	}
}

// Options controls stage execution and ledger persistence.
type Options struct {
	Logger   *slog.Logger
	Ledger   *ledger.Store
	Cache    *artifacts.Cache
	Notifier notifications.Service
	Executor stage.Executor
	RunID    string
	Item     itemstore.Item
}

// Run executes one stage for one item. The artifact cache is consulted first:
// an existing artifact is never produced twice. Failures are recorded in the
// ledger and returned; they never panic past this boundary.
func Run(ctx context.Context, opts Options) (Outcome, error) {
	if opts.Executor == nil {
		return Failed, errors.New("stage executor unavailable")
	}
	if opts.Ledger == nil {
		return Failed, errors.New("ledger is required")
	}
	if opts.Cache == nil {
		return Failed, errors.New("artifact cache is required")
	}

	name := opts.Executor.Name()
	item := opts.Item
	stageCtx := services.WithStage(ctx, string(name))
	stageLogger := logging.WithContext(stageCtx, opts.Logger)

	input := opts.Cache.Input(item, name)
	output := opts.Cache.Ref(item, name)

	exists, err := opts.Cache.Exists(stageCtx, output)
	if err != nil {
		return fail(stageCtx, stageLogger, opts, services.Wrap(services.ErrTransient, string(name), "check artifact", output.String(), err))
	}
	record, err := opts.Ledger.Record(stageCtx, item.ID, name)
	if err != nil {
		return Failed, fmt.Errorf("read ledger record: %w", err)
	}

	if exists {
		if record == nil || record.Status != ledger.StatusDone || record.Artifact != output.String() {
			if err := opts.Ledger.MarkSkipped(stageCtx, opts.RunID, item.ID, name, output.String()); err != nil {
				return Failed, fmt.Errorf("persist skipped stage: %w", err)
			}
		}
		stageLogger.Info(
			"stage skipped",
			logging.String(logging.FieldEventType, "stage_skip"),
			logging.String("artifact", output.String()),
			logging.String("reason", "artifact exists"),
		)
		return Skipped, nil
	}

	if record != nil && record.Status == ledger.StatusDone {
		logging.WarnWithContext(stageLogger, "ledger drift: stage recorded done but artifact is missing",
			"ledger_drift",
			logging.String("artifact", output.String()),
			logging.String("recorded_artifact", record.Artifact),
			logging.String(logging.FieldErrorHint, "stage will run again"),
			logging.String(logging.FieldImpact, "stage is re-executed to restore the missing artifact"),
		)
		if err := opts.Ledger.MarkPending(stageCtx, opts.RunID, item.ID, name, "artifact missing: "+output.String()); err != nil {
			return Failed, fmt.Errorf("persist ledger drift: %w", err)
		}
	}

	inputReady, err := opts.Cache.Exists(stageCtx, input)
	if err != nil {
		return fail(stageCtx, stageLogger, opts, services.Wrap(services.ErrTransient, string(name), "check input", input.String(), err))
	}
	if !inputReady {
		detail := input.String()
		if detail == "" {
			detail = "no " + string(input.Stage) + " artifact recorded"
		}
		return fail(stageCtx, stageLogger, opts, services.Wrap(services.ErrNotFound, string(name), "input missing", detail, nil))
	}

	if aware, ok := opts.Executor.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	if err := opts.Ledger.MarkRunning(stageCtx, opts.RunID, item.ID, name); err != nil {
		return Failed, fmt.Errorf("persist running transition: %w", err)
	}
	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("input", input.String()),
		logging.String("output", output.String()),
		logging.String("title", item.DisplayTitle()),
	)

	started := time.Now()
	produceErr := opts.Executor.Produce(stageCtx, stage.Job{
		RunID:  opts.RunID,
		Item:   item,
		Input:  input,
		Output: output,
	})
	var degraded *stage.DegradedError
	if produceErr != nil && !errors.As(produceErr, &degraded) {
		return fail(stageCtx, stageLogger, opts, produceErr)
	}
	// A produced artifact is recorded even if the run is interrupted now.
	stageCtx = context.WithoutCancel(stageCtx)

	ok, err := opts.Cache.Exists(stageCtx, output)
	if err != nil {
		return fail(stageCtx, stageLogger, opts, services.Wrap(services.ErrTransient, string(name), "verify artifact", output.String(), err))
	}
	if !ok {
		return fail(stageCtx, stageLogger, opts, services.Wrap(services.ErrData, string(name), "verify artifact", "executor returned without producing "+output.String(), nil))
	}

	if degraded != nil {
		if err := opts.Ledger.RecordEvent(stageCtx, ledger.Event{
			RunID:     opts.RunID,
			ItemID:    item.ID,
			Stage:     name,
			Event:     ledger.EventDataError,
			ErrorKind: services.Kind(degraded.Err),
			Detail:    services.Message(degraded.Err),
		}); err != nil {
			return Failed, fmt.Errorf("persist data error event: %w", err)
		}
		logging.WarnWithContext(stageLogger, "stage stored an error artifact",
			"stage_degraded",
			logging.String("artifact", output.String()),
			logging.Error(degraded.Err),
			logging.String(logging.FieldErrorHint, "inspect the artifact, then reset the stage to regenerate it"),
			logging.String(logging.FieldImpact, "item is excluded from aggregate counts"),
		)
	}

	if err := opts.Ledger.MarkDone(stageCtx, opts.RunID, item.ID, name, output.String()); err != nil {
		return Failed, fmt.Errorf("persist stage result: %w", err)
	}
	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("artifact", output.String()),
		logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)),
	)
	return Produced, nil
}

func fail(ctx context.Context, logger *slog.Logger, opts Options, stageErr error) (Outcome, error) {
	// The failure is recorded even when ctx was cancelled mid-stage.
	ctx = context.WithoutCancel(ctx)
	name := opts.Executor.Name()
	kind := services.Kind(stageErr)
	message := strings.TrimSpace(services.Message(stageErr))
	if message == "" {
		message = "stage failed"
	}

	logger.Error(
		"stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_kind", kind),
		logging.String("error_message", message),
		logging.Bool("retryable", services.IsTransient(stageErr)),
		logging.Error(stageErr),
	)
	if err := opts.Ledger.MarkFailed(ctx, opts.RunID, opts.Item.ID, name, kind, message); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}

	if opts.Notifier != nil {
		if err := opts.Notifier.Publish(ctx, notifications.EventStageFailed, notifications.Payload{
			"stage": string(name),
			"item":  opts.Item.ID,
			"error": message,
		}); err != nil {
			logger.Debug("stage failure notification failed", logging.Error(err))
		}
	}

	return Failed, stageErr
}
