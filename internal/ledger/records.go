package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"castindex/internal/stage"
)

var recordColumns = []string{
	"item_id", "stage", "status", "artifact", "error_kind", "error_message",
	"job_handle", "attempts", "run_id", "updated_at", "completed_at",
}

type transition struct {
	runID        string
	itemID       string
	stage        stage.Name
	status       Status
	artifact     string
	errorKind    string
	errorMessage string
	attempt      bool
	completed    bool
	clearHandle  bool
	event        string
	detail       string
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) apply(ctx context.Context, t transition) error {
	if strings.TrimSpace(t.itemID) == "" {
		return errors.New("ledger: item id is required")
	}
	if t.stage == "" {
		return errors.New("ledger: stage is required")
	}
	now := s.timestamp()
	var completedAt any
	if t.completed {
		completedAt = now
	}
	attempts := 0
	if t.attempt {
		attempts = 1
	}

	set := []string{
		"status = excluded.status",
		"artifact = excluded.artifact",
		"error_kind = excluded.error_kind",
		"error_message = excluded.error_message",
		"attempts = stage_records.attempts + excluded.attempts",
		"run_id = COALESCE(excluded.run_id, stage_records.run_id)",
		"updated_at = excluded.updated_at",
		"completed_at = excluded.completed_at",
	}
	if t.clearHandle {
		set = append(set, "job_handle = NULL")
	}

	upsert, upsertArgs, err := sq.Insert("stage_records").
		Columns("item_id", "stage", "status", "artifact", "error_kind", "error_message", "attempts", "run_id", "updated_at", "completed_at").
		Values(t.itemID, string(t.stage), string(t.status), nullableString(t.artifact), nullableString(t.errorKind),
			nullableString(t.errorMessage), attempts, nullableString(t.runID), now, completedAt).
		Suffix("ON CONFLICT(item_id, stage) DO UPDATE SET " + strings.Join(set, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	event, eventArgs, err := insertEvent(Event{
		RunID:     t.runID,
		ItemID:    t.itemID,
		Stage:     t.stage,
		Event:     t.event,
		ErrorKind: t.errorKind,
		Detail:    t.detail,
	}, now)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsert, upsertArgs...); err != nil {
			return fmt.Errorf("upsert stage record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, event, eventArgs...); err != nil {
			return fmt.Errorf("append stage event: %w", err)
		}
		return nil
	})
}

func insertEvent(e Event, now string) (string, []any, error) {
	query, args, err := sq.Insert("stage_events").
		Columns("run_id", "item_id", "stage", "event", "error_kind", "detail", "created_at").
		Values(nullableString(e.RunID), e.ItemID, string(e.Stage), e.Event, nullableString(e.ErrorKind), nullableString(e.Detail), now).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build event insert: %w", err)
	}
	return query, args, nil
}

// MarkRunning records that a stage executor is about to be invoked.
func (s *Store) MarkRunning(ctx context.Context, runID, itemID string, name stage.Name) error {
	return s.apply(ctx, transition{
		runID: runID, itemID: itemID, stage: name, status: StatusRunning,
		attempt: true, event: EventStarted,
	})
}

// MarkDone records a completed stage. artifact must reference the produced output.
func (s *Store) MarkDone(ctx context.Context, runID, itemID string, name stage.Name, artifact string) error {
	if strings.TrimSpace(artifact) == "" {
		return fmt.Errorf("ledger: %s/%s cannot be done without an artifact", itemID, name)
	}
	return s.apply(ctx, transition{
		runID: runID, itemID: itemID, stage: name, status: StatusDone,
		artifact: artifact, completed: true, clearHandle: true,
		event: EventDone, detail: artifact,
	})
}

// MarkSkipped records a stage whose artifact already existed. The record ends
// up done without counting an attempt.
func (s *Store) MarkSkipped(ctx context.Context, runID, itemID string, name stage.Name, artifact string) error {
	if strings.TrimSpace(artifact) == "" {
		return fmt.Errorf("ledger: %s/%s cannot be done without an artifact", itemID, name)
	}
	return s.apply(ctx, transition{
		runID: runID, itemID: itemID, stage: name, status: StatusDone,
		artifact: artifact, completed: true, clearHandle: true,
		event: EventSkipped, detail: artifact,
	})
}

// MarkFailed records a stage failure with its error kind and message. A saved
// job handle is kept so a later run can resume the remote operation.
func (s *Store) MarkFailed(ctx context.Context, runID, itemID string, name stage.Name, kind, message string) error {
	return s.apply(ctx, transition{
		runID: runID, itemID: itemID, stage: name, status: StatusFailed,
		errorKind: kind, errorMessage: message,
		event: EventFailed, detail: message,
	})
}

// MarkPending moves a record back to pending, e.g. when a done record's
// artifact has disappeared.
func (s *Store) MarkPending(ctx context.Context, runID, itemID string, name stage.Name, reason string) error {
	return s.apply(ctx, transition{
		runID: runID, itemID: itemID, stage: name, status: StatusPending,
		event: EventInvalidated, detail: reason,
	})
}

// RecordEvent appends an audit entry without changing record state.
func (s *Store) RecordEvent(ctx context.Context, e Event) error {
	if strings.TrimSpace(e.ItemID) == "" || strings.TrimSpace(e.Event) == "" {
		return errors.New("ledger: event requires item id and name")
	}
	query, args, err := insertEvent(e, s.timestamp())
	if err != nil {
		return err
	}
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("append stage event: %w", err)
	}
	return nil
}

// SaveJobHandle stores the remote job identifier for a long-running stage.
func (s *Store) SaveJobHandle(ctx context.Context, runID, itemID string, name stage.Name, handle string) error {
	if strings.TrimSpace(handle) == "" {
		return errors.New("ledger: job handle is empty")
	}
	now := s.timestamp()
	upsert, args, err := sq.Insert("stage_records").
		Columns("item_id", "stage", "status", "job_handle", "run_id", "updated_at").
		Values(itemID, string(name), string(StatusRunning), handle, nullableString(runID), now).
		Suffix("ON CONFLICT(item_id, stage) DO UPDATE SET job_handle = excluded.job_handle, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build job handle upsert: %w", err)
	}
	event, eventArgs, err := insertEvent(Event{RunID: runID, ItemID: itemID, Stage: name, Event: EventJobSubmit, Detail: handle}, now)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
			return fmt.Errorf("save job handle: %w", err)
		}
		if _, err := tx.ExecContext(ctx, event, eventArgs...); err != nil {
			return fmt.Errorf("append stage event: %w", err)
		}
		return nil
	})
}

// JobHandle returns the saved remote job identifier, or "" when none exists.
func (s *Store) JobHandle(ctx context.Context, itemID string, name stage.Name) (string, error) {
	rec, err := s.Record(ctx, itemID, name)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.JobHandle, nil
}

// ClearJobHandle forgets a saved remote job identifier.
func (s *Store) ClearJobHandle(ctx context.Context, itemID string, name stage.Name) error {
	query, args, err := sq.Update("stage_records").
		Set("job_handle", nil).
		Set("updated_at", s.timestamp()).
		Where(sq.Eq{"item_id": itemID, "stage": string(name)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job handle clear: %w", err)
	}
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("clear job handle: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec          Record
		stageName    string
		status       string
		artifact     sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		jobHandle    sql.NullString
		runID        sql.NullString
		updatedAt    sql.NullString
		completedAt  sql.NullString
	)
	if err := row.Scan(&rec.ItemID, &stageName, &status, &artifact, &errorKind, &errorMessage,
		&jobHandle, &rec.Attempts, &runID, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	rec.Stage = stage.Name(stageName)
	rec.Status = Status(status)
	rec.Artifact = artifact.String
	rec.ErrorKind = errorKind.String
	rec.ErrorMessage = errorMessage.String
	rec.JobHandle = jobHandle.String
	rec.RunID = runID.String
	rec.UpdatedAt = parseTime(updatedAt)
	rec.CompletedAt = parseTimePtr(completedAt)
	return &rec, nil
}

// Record fetches a single record. It returns nil when none exists.
func (s *Store) Record(ctx context.Context, itemID string, name stage.Name) (*Record, error) {
	query, args, err := sq.Select(recordColumns...).
		From("stage_records").
		Where(sq.Eq{"item_id": itemID, "stage": string(name)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build record query: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ensureContext(ctx), query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Records lists records matching filter ordered by item and stage.
func (s *Store) Records(ctx context.Context, filter Filter) ([]Record, error) {
	builder := sq.Select(recordColumns...).From("stage_records").OrderBy("item_id", "stage")
	if filter.ItemID != "" {
		builder = builder.Where(sq.Eq{"item_id": filter.ItemID})
	}
	if filter.Stage != "" {
		builder = builder.Where(sq.Eq{"stage": string(filter.Stage)})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build records query: %w", err)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Summary counts records per stage and status in pipeline order.
func (s *Store) Summary(ctx context.Context) ([]StageSummary, error) {
	query, args, err := sq.Select("stage", "status", "COUNT(1)").
		From("stage_records").
		GroupBy("stage", "status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build summary query: %w", err)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize records: %w", err)
	}
	defer rows.Close()

	byStage := make(map[stage.Name]*StageSummary)
	for _, name := range stage.Order() {
		byStage[name] = &StageSummary{Stage: name}
	}
	var extra []stage.Name
	for rows.Next() {
		var (
			stageName string
			status    string
			count     int
		)
		if err := rows.Scan(&stageName, &status, &count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		name := stage.Name(stageName)
		entry, ok := byStage[name]
		if !ok {
			entry = &StageSummary{Stage: name}
			byStage[name] = entry
			extra = append(extra, name)
		}
		switch Status(status) {
		case StatusPending:
			entry.Pending += count
		case StatusRunning:
			entry.Running += count
		case StatusDone:
			entry.Done += count
		case StatusFailed:
			entry.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]StageSummary, 0, len(byStage))
	for _, name := range append(stage.Order(), extra...) {
		out = append(out, *byStage[name])
	}
	return out, nil
}

// Events lists audit entries oldest first.
func (s *Store) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	builder := sq.Select("id", "run_id", "item_id", "stage", "event", "error_kind", "detail", "created_at").
		From("stage_events").
		OrderBy("id")
	if filter.ItemID != "" {
		builder = builder.Where(sq.Eq{"item_id": filter.ItemID})
	}
	if filter.RunID != "" {
		builder = builder.Where(sq.Eq{"run_id": filter.RunID})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e         Event
			runID     sql.NullString
			stageName string
			errorKind sql.NullString
			detail    sql.NullString
			createdAt sql.NullString
		)
		if err := rows.Scan(&e.ID, &runID, &e.ItemID, &stageName, &e.Event, &errorKind, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.RunID = runID.String
		e.Stage = stage.Name(stageName)
		e.ErrorKind = errorKind.String
		e.Detail = detail.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reset deletes records so the stages are treated as never started. An empty
// stage resets every stage of the item.
func (s *Store) Reset(ctx context.Context, itemID string, name stage.Name) (int64, error) {
	if strings.TrimSpace(itemID) == "" {
		return 0, errors.New("ledger: reset requires an item id")
	}
	where := sq.Eq{"item_id": itemID}
	if name != "" {
		where["stage"] = string(name)
	}
	query, args, err := sq.Delete("stage_records").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reset: %w", err)
	}
	eventStage := name
	if eventStage == "" {
		eventStage = "*"
	}
	event, eventArgs, err := insertEvent(Event{ItemID: itemID, Stage: eventStage, Event: EventReset}, s.timestamp())
	if err != nil {
		return 0, err
	}
	var removed int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("reset records: %w", err)
		}
		removed, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, event, eventArgs...); err != nil {
			return fmt.Errorf("append stage event: %w", err)
		}
		return nil
	})
	return removed, err
}

// Retry moves failed records back to pending. An empty item id retries every
// failed record.
func (s *Store) Retry(ctx context.Context, itemID string) (int64, error) {
	return s.requeue(ctx, "", itemID, StatusFailed)
}

func (s *Store) requeue(ctx context.Context, runID, itemID string, statuses ...Status) (int64, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	where := sq.Eq{"status": values}
	if itemID != "" {
		where["item_id"] = itemID
	}
	now := s.timestamp()

	selectQuery, selectArgs, err := sq.Select("item_id", "stage", "status", "error_kind").
		From("stage_records").Where(where).OrderBy("item_id", "stage").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build requeue select: %w", err)
	}
	updateQuery, updateArgs, err := sq.Update("stage_records").
		Set("status", string(StatusPending)).
		Set("updated_at", now).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build requeue update: %w", err)
	}

	var moved int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectQuery, selectArgs...)
		if err != nil {
			return fmt.Errorf("select requeue candidates: %w", err)
		}
		var events []Event
		for rows.Next() {
			var (
				e         Event
				stageName string
				prior     string
				errorKind sql.NullString
			)
			if err := rows.Scan(&e.ItemID, &stageName, &prior, &errorKind); err != nil {
				rows.Close()
				return fmt.Errorf("scan requeue candidate: %w", err)
			}
			e.RunID = runID
			e.Stage = stage.Name(stageName)
			e.Event = EventRequeued
			e.ErrorKind = errorKind.String
			e.Detail = "was " + prior
			events = append(events, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, updateQuery, updateArgs...)
		if err != nil {
			return fmt.Errorf("requeue records: %w", err)
		}
		moved, _ = res.RowsAffected()
		for _, e := range events {
			query, args, err := insertEvent(e, now)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("append stage event: %w", err)
			}
		}
		return nil
	})
	return moved, err
}
