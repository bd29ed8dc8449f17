package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"castindex/internal/stage"
)

var runColumns = []string{
	"id", "started_at", "finished_at", "status", "stages", "items_total",
	"completed", "partial", "failed", "index_path",
}

// BeginRun opens a new run. Failed records and records left running by an
// interrupted process move back to pending so this run retries them.
func (s *Store) BeginRun(ctx context.Context, stages []stage.Name, items int) (Run, error) {
	names := make([]string, 0, len(stages))
	for _, name := range stages {
		names = append(names, string(name))
	}
	run := Run{
		ID:        uuid.NewString(),
		StartedAt: s.now().UTC(),
		Status:    RunActive,
		Stages:    names,
		Items:     items,
	}
	query, args, err := sq.Insert("runs").
		Columns("id", "started_at", "status", "stages", "items_total").
		Values(run.ID, s.timestamp(), run.Status, strings.Join(names, ","), items).
		ToSql()
	if err != nil {
		return Run{}, fmt.Errorf("build run insert: %w", err)
	}
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	moved, err := s.requeue(ctx, run.ID, "", StatusFailed, StatusRunning)
	if err != nil {
		return Run{}, err
	}
	run.Requeued = int(moved)
	return run, nil
}

// FinishRun stores the outcome counts of a run.
func (s *Store) FinishRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("ledger: run is required")
	}
	finished := s.now().UTC()
	run.FinishedAt = &finished
	if run.Status == "" || run.Status == RunActive {
		run.Status = RunFinished
	}
	query, args, err := sq.Update("runs").
		Set("finished_at", formatTimePtr(run.FinishedAt)).
		Set("status", run.Status).
		Set("items_total", run.Items).
		Set("completed", run.Completed).
		Set("partial", run.Partial).
		Set("failed", run.Failed).
		Set("index_path", nullableString(run.IndexPath)).
		Where(sq.Eq{"id": run.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run update: %w", err)
	}
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		startedAt  sql.NullString
		finishedAt sql.NullString
		stages     string
		indexPath  sql.NullString
	)
	if err := row.Scan(&run.ID, &startedAt, &finishedAt, &run.Status, &stages, &run.Items,
		&run.Completed, &run.Partial, &run.Failed, &indexPath); err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTimePtr(finishedAt)
	if stages != "" {
		run.Stages = strings.Split(stages, ",")
	}
	run.IndexPath = indexPath.String
	return &run, nil
}

// LatestRun returns the most recently started run, or nil when none exists.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	query, args, err := sq.Select(runColumns...).From("runs").
		OrderBy("started_at DESC", "rowid DESC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest run query: %w", err)
	}
	run, err := scanRun(s.db.QueryRowContext(ensureContext(ctx), query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// Runs lists runs oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	query, args, err := sq.Select(runColumns...).From("runs").OrderBy("started_at", "rowid").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build runs query: %w", err)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}
