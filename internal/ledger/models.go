package ledger

import (
	"time"

	"castindex/internal/stage"
)

// Status is the state of one (item, stage) record.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusDone, StatusFailed}
}

// Event names written to stage_events.
const (
	EventStarted     = "started"
	EventDone        = "done"
	EventSkipped     = "skipped"
	EventFailed      = "failed"
	EventInvalidated = "invalidated"
	EventDataError   = "data_error"
	EventJobSubmit   = "job_submitted"
	EventRequeued    = "requeued"
	EventReset       = "reset"
)

// Record is the progress of one stage for one item.
type Record struct {
	ItemID       string     `json:"item_id"`
	Stage        stage.Name `json:"stage"`
	Status       Status     `json:"status"`
	Artifact     string     `json:"artifact,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	JobHandle    string     `json:"job_handle,omitempty"`
	Attempts     int        `json:"attempts"`
	RunID        string     `json:"run_id,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Event is one append-only audit entry.
type Event struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id,omitempty"`
	ItemID    string     `json:"item_id"`
	Stage     stage.Name `json:"stage"`
	Event     string     `json:"event"`
	ErrorKind string     `json:"error_kind,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Run status values.
const (
	RunActive   = "running"
	RunFinished = "finished"
	RunAborted  = "aborted"
)

// Run describes one pipeline invocation.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Stages     []string   `json:"stages"`
	Items      int        `json:"items_total"`
	Completed  int        `json:"completed"`
	Partial    int        `json:"partial"`
	Failed     int        `json:"failed"`
	IndexPath  string     `json:"index_path,omitempty"`
	// Requeued counts failed or interrupted records moved back to pending
	// when the run began. It is not persisted.
	Requeued int `json:"-"`
}

// Filter narrows Records queries. Zero values match everything.
type Filter struct {
	ItemID string
	Stage  stage.Name
	Status Status
	Limit  uint64
}

// EventFilter narrows Events queries.
type EventFilter struct {
	ItemID string
	RunID  string
	Limit  uint64
}

// StageSummary counts records per status for one stage.
type StageSummary struct {
	Stage   stage.Name `json:"stage"`
	Pending int        `json:"pending"`
	Running int        `json:"running"`
	Done    int        `json:"done"`
	Failed  int        `json:"failed"`
}

// Total returns the number of records tracked for the stage.
func (s StageSummary) Total() int {
	return s.Pending + s.Running + s.Done + s.Failed
}

// Snapshot is the human-readable export of the whole ledger.
type Snapshot struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Runs       []Run     `json:"runs"`
	Records    []Record  `json:"records"`
	Events     []Event   `json:"events"`
}
