package pipeline

import (
	"context"
	"errors"

	"castindex/internal/fileutil"
	"castindex/internal/itemstore"
	"castindex/internal/ledger"
	"castindex/internal/logging"
	"castindex/internal/services"
	"castindex/internal/stage"
	"castindex/internal/stageexec"
)

// Outcome classifies how far one item got in a run.
type Outcome string

const (
	// Completed means every stage in the run has its artifact.
	Completed Outcome = "completed"
	// PartiallyCompleted means the item stopped between stages without a
	// failure, for example when the run was interrupted. StageReached names
	// the last stage with an artifact.
	PartiallyCompleted Outcome = "partial"
	// Failed means a stage failed. FailedStage and Cause describe it;
	// StageReached still names the last stage that finished.
	Failed Outcome = "failed"
)

// ItemResult reports one item's progress through a run.
type ItemResult struct {
	ItemID       string
	Outcome      Outcome
	StageReached stage.Name
	FailedStage  stage.Name
	Cause        error
	Produced     int
	Skipped      int
}

// Process runs every configured stage for item, in order, and stops at the
// first failure. Stage errors are recorded in the ledger and returned in the
// result; they never escape as a Go error.
func (o *Orchestrator) Process(ctx context.Context, run ledger.Run, item itemstore.Item) ItemResult {
	ctx = services.WithItemID(ctx, item.ID)
	ctx = services.WithRunID(ctx, run.ID)
	logger := logging.WithContext(ctx, o.logger)
	result := ItemResult{ItemID: item.ID, Outcome: Completed}

	item = o.locateRaw(ctx, item)

	for _, exec := range o.executors {
		if ctx.Err() != nil {
			result.Outcome = PartiallyCompleted
			break
		}
		outcome, err := stageexec.Run(ctx, stageexec.Options{
			Logger:   logger,
			Ledger:   o.ledger,
			Cache:    o.cache,
			Notifier: o.notifier,
			Executor: exec,
			RunID:    run.ID,
			Item:     item,
		})
		switch outcome {
		case stageexec.Skipped:
			result.Skipped++
			result.StageReached = exec.Name()
			continue
		case stageexec.Produced:
			result.Produced++
			result.StageReached = exec.Name()
			continue
		}
		if err == nil {
			err = errors.New("stage failed")
		}
		result.fail(exec.Name(), err)
		break
	}
	return result
}

func (r *ItemResult) fail(name stage.Name, cause error) {
	r.Outcome = Failed
	r.FailedStage = name
	r.Cause = cause
}

// locateRaw fills in the raw audio path through the resolver when the recorded
// file is gone. A resolved path is persisted to the item store.
func (o *Orchestrator) locateRaw(ctx context.Context, item itemstore.Item) itemstore.Item {
	if o.resolver == nil || o.cache == nil {
		return item
	}
	if raw := o.cache.Raw(item).Path; raw != "" {
		if ok, _ := fileutil.NonEmptyFile(raw); ok {
			return item
		}
	}
	path, ok := o.resolver.Resolve(item)
	if !ok {
		return item
	}
	item.LocalPath = path
	logger := logging.WithContext(ctx, o.logger)
	if o.items == nil {
		return item
	}
	if err := o.items.SetLocalPath(item.ID, path); err != nil {
		logging.WarnWithContext(logger, "failed to record resolved raw audio", "identity_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "resolution repeats on the next run"),
		)
		return item
	}
	if err := o.items.Save(); err != nil {
		logging.WarnWithContext(logger, "failed to save item store", "identity_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "resolution repeats on the next run"),
		)
	}
	return item
}
