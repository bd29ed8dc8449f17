package pipeline

import (
	"context"
	"fmt"
	"time"

	"castindex/internal/aggregate"
	"castindex/internal/ledger"
	"castindex/internal/logging"
	"castindex/internal/notifications"
	"castindex/internal/services"
	"castindex/internal/stage"
)

// Summary describes a finished run.
type Summary struct {
	RunID       string
	Items       int
	Completed   int
	Partial     int
	Failed      int
	Requeued    int
	Transcripts int
	Annotations int
	Analyzed    int
	TopTech     []string
	IndexPath   string
	Duration    time.Duration
	Interrupted bool
	Results     []ItemResult
}

// Run processes every item in sequence order, then rebuilds the aggregate
// index once. The returned error is reserved for setup problems; per-item
// failures are reported in the summary.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if o.items == nil || o.ledger == nil || o.cache == nil || o.cfg == nil {
		return summary, services.Wrap(services.ErrSetup, "pipeline", "init", "orchestrator is missing a dependency", nil)
	}
	if err := o.items.RequireItems(); err != nil {
		return summary, err
	}
	if len(o.executors) == 0 {
		return summary, services.Wrap(services.ErrConfiguration, "pipeline", "init", "no stages selected", nil)
	}

	items := o.items.Items()
	run, err := o.ledger.BeginRun(ctx, o.Stages(), len(items))
	if err != nil {
		return summary, services.Wrap(services.ErrSetup, "pipeline", "begin run", "", err)
	}
	started := o.now()
	ctx = services.WithRunID(ctx, run.ID)
	logger := logging.WithContext(ctx, o.logger)
	summary = Summary{RunID: run.ID, Items: len(items), Requeued: run.Requeued}

	logger.Info("pipeline run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("items", len(items)),
		logging.Any("stages", o.Stages()),
		logging.Int("requeued", run.Requeued),
	)
	o.publish(ctx, notifications.EventRunStarted, notifications.Payload{"items": len(items), "run_id": run.ID})

	delay := o.cfg.ItemDelay()
	for idx, item := range items {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
		logger.Info("processing item",
			logging.String(logging.FieldItemID, item.ID),
			logging.Int("position", idx+1),
			logging.Int("total", len(items)),
			logging.String("title", item.DisplayTitle()),
		)
		result := o.Process(ctx, run, item)
		summary.Results = append(summary.Results, result)
		switch result.Outcome {
		case Completed:
			summary.Completed++
		case PartiallyCompleted:
			summary.Partial++
		default:
			summary.Failed++
		}
		if idx < len(items)-1 {
			if err := o.sleep(ctx, delay); err != nil {
				summary.Interrupted = true
				break
			}
		}
	}
	if ctx.Err() != nil {
		summary.Interrupted = true
	}

	// Bookkeeping below must land even when the run was interrupted.
	finishCtx := context.WithoutCancel(ctx)
	var aggErr error
	index, err := aggregate.Generate(o.cfg.Aggregate, o.cache, o.items.Items(), o.now())
	if err != nil {
		aggErr = services.Wrap(services.ErrSetup, "aggregate", "write index", o.cfg.Aggregate.IndexPath, err)
		logger.Error("aggregation failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "aggregate_failed"),
			logging.String(logging.FieldErrorHint, "check that the analysis directory is writable"),
		)
	} else {
		summary.Analyzed = index.ItemsAnalyzed
		summary.TopTech = aggregate.TopTags(index.RankedTechTags, 5)
		summary.IndexPath = o.cfg.Aggregate.IndexPath
		logger.Info("aggregate index written",
			logging.String(logging.FieldEventType, "aggregate_complete"),
			logging.String("path", summary.IndexPath),
			logging.Int("items_analyzed", index.ItemsAnalyzed),
			logging.Int("skipped", len(index.Skipped)),
			logging.Any("top_tech", summary.TopTech),
			logging.Any("top_business", aggregate.TopTags(index.RankedBusinessTags, 5)),
		)
	}

	summary.Transcripts = o.cache.Count(stage.Transcribe)
	summary.Annotations = o.cache.Count(stage.Annotate)
	summary.Duration = o.now().Sub(started)

	run.Completed = summary.Completed
	run.Partial = summary.Partial
	run.Failed = summary.Failed
	run.IndexPath = summary.IndexPath
	if summary.Interrupted {
		run.Status = ledger.RunAborted
	}
	if err := o.ledger.FinishRun(finishCtx, &run); err != nil {
		logger.Error("failed to record run result",
			logging.Error(err),
			logging.String(logging.FieldEventType, "run_persist_failed"),
			logging.String(logging.FieldErrorHint, "run `castindex ledger show` to inspect state"),
		)
	}

	logger.Info("pipeline run summary",
		logging.String(logging.FieldEventType, "run_summary"),
		logging.Int("completed", summary.Completed),
		logging.Int("partial", summary.Partial),
		logging.Int("failed", summary.Failed),
		logging.Int("transcripts", summary.Transcripts),
		logging.Int("annotations", summary.Annotations),
		logging.Bool("interrupted", summary.Interrupted),
		logging.Duration("duration", summary.Duration.Round(time.Second)),
	)
	o.publish(finishCtx, notifications.EventRunCompleted, notifications.Payload{
		"completed": summary.Completed,
		"partial":   summary.Partial,
		"failed":    summary.Failed,
		"analyzed":  summary.Analyzed,
		"duration":  summary.Duration,
	})
	return summary, aggErr
}

func (o *Orchestrator) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(o.logger, "notification failed", "notification_failed",
			logging.Error(err),
			logging.String("event", string(event)),
			logging.String(logging.FieldImpact, fmt.Sprintf("%s notification was not delivered", event)),
		)
	}
}
