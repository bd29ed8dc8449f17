package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"castindex/internal/ledger"
	"castindex/internal/stage"
	"castindex/internal/testsupport"
)

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	if store.Path() != cfg.Paths.LedgerFile {
		t.Fatalf("unexpected ledger path %q", store.Path())
	}
	ctx := context.Background()
	if err := store.MarkDone(ctx, "", "ep1", stage.Convert, "/audio/ep1.flac"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := ledger.OpenPath(cfg.Paths.LedgerFile)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	rec, err := reopened.Record(ctx, "ep1", stage.Convert)
	if err != nil || rec == nil {
		t.Fatalf("expected persisted record, got %v %v", rec, err)
	}
	if rec.Status != ledger.StatusDone || rec.Artifact != "/audio/ep1.flac" || rec.CompletedAt == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestStageTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	run, err := store.BeginRun(ctx, stage.Order(), 1)
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := store.MarkRunning(ctx, run.ID, "ep2", stage.Transcribe); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := store.MarkFailed(ctx, run.ID, "ep2", stage.Transcribe, "transient", "poll ceiling reached"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	rec, _ := store.Record(ctx, "ep2", stage.Transcribe)
	if rec.Status != ledger.StatusFailed || rec.ErrorKind != "transient" || rec.Attempts != 1 || rec.RunID != run.ID {
		t.Fatalf("unexpected failed record %+v", rec)
	}

	if err := store.MarkDone(ctx, run.ID, "ep2", stage.Transcribe, ""); err == nil {
		t.Fatal("expected done without artifact to be rejected")
	}

	if err := store.MarkRunning(ctx, run.ID, "ep2", stage.Transcribe); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := store.MarkDone(ctx, run.ID, "ep2", stage.Transcribe, "/t/ep2.txt"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	rec, _ = store.Record(ctx, "ep2", stage.Transcribe)
	if rec.Status != ledger.StatusDone || rec.Attempts != 2 || rec.ErrorKind != "" {
		t.Fatalf("unexpected done record %+v", rec)
	}

	events, err := store.Events(ctx, ledger.EventFilter{ItemID: "ep2"})
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	want := []string{ledger.EventStarted, ledger.EventFailed, ledger.EventStarted, ledger.EventDone}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, name := range want {
		if events[i].Event != name {
			t.Fatalf("event %d: got %q want %q", i, events[i].Event, name)
		}
	}
}

func TestBeginRunRequeuesFailedAndInterrupted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	if err := store.MarkFailed(ctx, "", "ep1", stage.Upload, "transient", "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRunning(ctx, "", "ep2", stage.Convert); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkDone(ctx, "", "ep3", stage.Convert, "/a/ep3.flac"); err != nil {
		t.Fatal(err)
	}

	run, err := store.BeginRun(ctx, stage.Order(), 3)
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if run.Requeued != 2 {
		t.Fatalf("expected 2 requeued records, got %d", run.Requeued)
	}
	pending, err := store.Records(ctx, ledger.Filter{Status: ledger.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected two pending records, got %+v", pending)
	}
	if pending[0].ErrorKind != "transient" {
		t.Fatalf("requeue should keep the last error for audit, got %+v", pending[0])
	}
	done, _ := store.Record(ctx, "ep3", stage.Convert)
	if done.Status != ledger.StatusDone {
		t.Fatalf("done records must stay done, got %+v", done)
	}
}

func TestJobHandleLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	if handle, err := store.JobHandle(ctx, "ep4", stage.Transcribe); err != nil || handle != "" {
		t.Fatalf("expected no handle, got %q %v", handle, err)
	}
	if err := store.MarkRunning(ctx, "r1", "ep4", stage.Transcribe); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveJobHandle(ctx, "r1", "ep4", stage.Transcribe, "operations/123"); err != nil {
		t.Fatalf("SaveJobHandle failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "r1", "ep4", stage.Transcribe, "transient", "ceiling"); err != nil {
		t.Fatal(err)
	}
	if handle, _ := store.JobHandle(ctx, "ep4", stage.Transcribe); handle != "operations/123" {
		t.Fatalf("failure must keep the job handle, got %q", handle)
	}
	if err := store.MarkDone(ctx, "r2", "ep4", stage.Transcribe, "/t/ep4.txt"); err != nil {
		t.Fatal(err)
	}
	if handle, _ := store.JobHandle(ctx, "ep4", stage.Transcribe); handle != "" {
		t.Fatalf("done must clear the job handle, got %q", handle)
	}

	if err := store.SaveJobHandle(ctx, "r3", "ep5", stage.Transcribe, "operations/456"); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearJobHandle(ctx, "ep5", stage.Transcribe); err != nil {
		t.Fatal(err)
	}
	if handle, _ := store.JobHandle(ctx, "ep5", stage.Transcribe); handle != "" {
		t.Fatalf("expected cleared handle, got %q", handle)
	}
}

func TestSummaryFollowsStageOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	_ = store.MarkDone(ctx, "", "ep1", stage.Convert, "a")
	_ = store.MarkDone(ctx, "", "ep2", stage.Convert, "b")
	_ = store.MarkFailed(ctx, "", "ep2", stage.Upload, "transient", "x")
	_ = store.MarkPending(ctx, "", "ep3", stage.Annotate, "artifact missing")

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(summary) != 4 {
		t.Fatalf("expected one row per stage, got %+v", summary)
	}
	if summary[0].Stage != stage.Convert || summary[0].Done != 2 {
		t.Fatalf("unexpected convert summary %+v", summary[0])
	}
	if summary[1].Failed != 1 || summary[3].Pending != 1 || summary[2].Total() != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestResetAndRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	_ = store.MarkDone(ctx, "", "ep1", stage.Convert, "a")
	_ = store.MarkDone(ctx, "", "ep1", stage.Upload, "b")
	_ = store.MarkFailed(ctx, "", "ep2", stage.Convert, "not_found", "raw file missing")

	if _, err := store.Reset(ctx, "", ""); err == nil {
		t.Fatal("expected reset without item to fail")
	}
	removed, err := store.Reset(ctx, "ep1", stage.Upload)
	if err != nil || removed != 1 {
		t.Fatalf("unexpected reset result %d %v", removed, err)
	}
	if rec, _ := store.Record(ctx, "ep1", stage.Upload); rec != nil {
		t.Fatalf("expected record removed, got %+v", rec)
	}
	removed, _ = store.Reset(ctx, "ep1", "")
	if removed != 1 {
		t.Fatalf("expected remaining record removed, got %d", removed)
	}

	moved, err := store.Retry(ctx, "")
	if err != nil || moved != 1 {
		t.Fatalf("unexpected retry result %d %v", moved, err)
	}
	rec, _ := store.Record(ctx, "ep2", stage.Convert)
	if rec.Status != ledger.StatusPending {
		t.Fatalf("expected pending after retry, got %+v", rec)
	}
}

func TestRunsLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	if run, err := store.LatestRun(ctx); err != nil || run != nil {
		t.Fatalf("expected no runs, got %+v %v", run, err)
	}
	run, err := store.BeginRun(ctx, []stage.Name{stage.Convert, stage.Upload}, 3)
	if err != nil {
		t.Fatal(err)
	}
	run.Completed, run.Partial, run.Failed = 1, 1, 1
	run.IndexPath = filepath.Join(cfg.Paths.AnalysisDir, "index.json")
	if err := store.FinishRun(ctx, &run); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	latest, err := store.LatestRun(ctx)
	if err != nil || latest == nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest.ID != run.ID || latest.Status != ledger.RunFinished || latest.FinishedAt == nil {
		t.Fatalf("unexpected latest run %+v", latest)
	}
	if latest.Completed != 1 || latest.Items != 3 || len(latest.Stages) != 2 || latest.IndexPath != run.IndexPath {
		t.Fatalf("unexpected run counts %+v", latest)
	}
	if err := store.FinishRun(ctx, nil); err == nil {
		t.Fatal("expected error for nil run")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	run, _ := store.BeginRun(ctx, stage.Order(), 1)
	_ = store.MarkDone(ctx, run.ID, "ep1", stage.Convert, "/a/ep1.flac")
	_ = store.MarkFailed(ctx, run.ID, "ep1", stage.Upload, "transient", "reset by peer")
	_ = store.FinishRun(ctx, &run)

	snapshot, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(snapshot.Records) != 2 || len(snapshot.Runs) != 1 || len(snapshot.Events) == 0 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	other, err := ledger.OpenPath(filepath.Join(testsupport.BaseDir(cfg), "other.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	_ = other.MarkDone(ctx, "", "stale", stage.Convert, "x")

	// Hand edit: mark the failed upload done.
	snapshot.Records[1].Status = ledger.StatusDone
	snapshot.Records[1].Artifact = "audio/ep1.flac"
	if err := other.Import(ctx, snapshot); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if rec, _ := other.Record(ctx, "stale", stage.Convert); rec != nil {
		t.Fatal("import should replace existing records")
	}
	rec, _ := other.Record(ctx, "ep1", stage.Upload)
	if rec == nil || rec.Status != ledger.StatusDone || rec.Artifact != "audio/ep1.flac" {
		t.Fatalf("unexpected imported record %+v", rec)
	}
	latest, _ := other.LatestRun(ctx)
	if latest == nil || latest.ID != run.ID {
		t.Fatalf("expected imported run, got %+v", latest)
	}
}

func TestImportRejectsInvalidSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()
	_ = store.MarkDone(ctx, "", "keep", stage.Convert, "x")

	bad := ledger.Snapshot{Records: []ledger.Record{{ItemID: "ep1", Stage: stage.Convert, Status: "finished"}}}
	if err := store.Import(ctx, bad); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
	doneWithout := ledger.Snapshot{Records: []ledger.Record{{ItemID: "ep1", Stage: stage.Convert, Status: ledger.StatusDone}}}
	if err := store.Import(ctx, doneWithout); err == nil {
		t.Fatal("expected done record without artifact to be rejected")
	}
	future := ledger.Snapshot{Version: 99}
	if err := store.Import(ctx, future); !errors.Is(err, ledger.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	if rec, _ := store.Record(ctx, "keep", stage.Convert); rec == nil {
		t.Fatal("rejected import must leave the ledger untouched")
	}
}
