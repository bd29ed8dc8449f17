package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Export returns the whole ledger as a snapshot suitable for JSON encoding.
func (s *Store) Export(ctx context.Context) (Snapshot, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	records, err := s.Records(ctx, Filter{})
	if err != nil {
		return Snapshot{}, err
	}
	events, err := s.Events(ctx, EventFilter{})
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Version:    schemaVersion,
		ExportedAt: s.now().UTC(),
		Runs:       runs,
		Records:    records,
		Events:     events,
	}, nil
}

// Import replaces the ledger contents with snapshot. Records are validated
// first so a hand-edited file with a typo leaves the ledger untouched.
func (s *Store) Import(ctx context.Context, snapshot Snapshot) error {
	if snapshot.Version != 0 && snapshot.Version != schemaVersion {
		return fmt.Errorf("%w: snapshot has version %d, expected %d", ErrSchemaMismatch, snapshot.Version, schemaVersion)
	}
	for i, rec := range snapshot.Records {
		if strings.TrimSpace(rec.ItemID) == "" || rec.Stage == "" {
			return fmt.Errorf("record %d: item_id and stage are required", i)
		}
		if !validStatus(rec.Status) {
			return fmt.Errorf("record %d (%s/%s): unknown status %q", i, rec.ItemID, rec.Stage, rec.Status)
		}
		if rec.Status == StatusDone && strings.TrimSpace(rec.Artifact) == "" {
			return fmt.Errorf("record %d (%s/%s): done records need an artifact", i, rec.ItemID, rec.Stage)
		}
	}

	now := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"stage_events", "stage_records", "runs"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for _, run := range snapshot.Runs {
			query, args, err := sq.Insert("runs").Columns(runColumns...).Values(
				run.ID, run.StartedAt.UTC().Format(timeLayout), formatTimePtr(run.FinishedAt), run.Status,
				strings.Join(run.Stages, ","), run.Items, run.Completed, run.Partial, run.Failed,
				nullableString(run.IndexPath),
			).ToSql()
			if err != nil {
				return fmt.Errorf("build run import: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("import run %s: %w", run.ID, err)
			}
		}
		for _, rec := range snapshot.Records {
			updated := now
			if !rec.UpdatedAt.IsZero() {
				updated = rec.UpdatedAt.UTC().Format(timeLayout)
			}
			query, args, err := sq.Insert("stage_records").Columns(recordColumns...).Values(
				rec.ItemID, string(rec.Stage), string(rec.Status), nullableString(rec.Artifact),
				nullableString(rec.ErrorKind), nullableString(rec.ErrorMessage), nullableString(rec.JobHandle),
				rec.Attempts, nullableString(rec.RunID), updated, formatTimePtr(rec.CompletedAt),
			).ToSql()
			if err != nil {
				return fmt.Errorf("build record import: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("import record %s/%s: %w", rec.ItemID, rec.Stage, err)
			}
		}
		for _, e := range snapshot.Events {
			created := now
			if !e.CreatedAt.IsZero() {
				created = e.CreatedAt.UTC().Format(timeLayout)
			}
			query, args, err := insertEvent(e, created)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("import event: %w", err)
			}
		}
		return nil
	})
}

func validStatus(status Status) bool {
	for _, candidate := range Statuses() {
		if status == candidate {
			return true
		}
	}
	return false
}
