package stage

import (
	"context"
	"log/slog"

	"castindex/internal/itemstore"
)

// Job is one executor invocation: produce Output for Item from Input.
type Job struct {
	RunID  string
	Item   itemstore.Item
	Input  Ref
	Output Ref
}

// Executor describes the contract the orchestrator needs from each stage.
// Produce must write Output or return an error; it is only called when
// Output does not already exist.
type Executor interface {
	Name() Name
	Produce(ctx context.Context, job Job) error
	HealthCheck(ctx context.Context) Health
}

// LoggerAware executors accept a context-scoped logger before each call.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// DegradedError reports that an executor stored its artifact but the content
// is an error variant. The stage counts as done; the cause is audited.
type DegradedError struct {
	Err error
}

func (e *DegradedError) Error() string {
	if e == nil || e.Err == nil {
		return "degraded artifact"
	}
	return "degraded artifact: " + e.Err.Error()
}

func (e *DegradedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
