package transcription_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"castindex/internal/itemstore"
	"castindex/internal/services"
	"castindex/internal/stage"
	"castindex/internal/testsupport"
	"castindex/internal/transcription"
)

type fakeRecognizer struct {
	submits  []string
	polls    int
	results  []transcription.PollResult
	pollErr  error
	handleID string
	expired  map[string]bool
}

func (f *fakeRecognizer) Submit(_ context.Context, uri string, _ transcription.RecognitionConfig) (string, error) {
	f.submits = append(f.submits, uri)
	if f.handleID == "" {
		f.handleID = "operations/1"
	}
	return f.handleID, nil
}

func (f *fakeRecognizer) Poll(_ context.Context, handle string) (transcription.PollResult, error) {
	f.polls++
	if f.expired[handle] {
		return transcription.PollResult{}, services.Wrap(services.ErrNotFound, "speech", "poll", "operation "+handle+" does not exist", nil)
	}
	if f.pollErr != nil {
		return transcription.PollResult{}, f.pollErr
	}
	if len(f.results) == 0 {
		return transcription.PollResult{}, nil
	}
	next := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return next, nil
}

type memoryJobs struct {
	handles map[string]string
}

func newMemoryJobs() *memoryJobs { return &memoryJobs{handles: map[string]string{}} }

func (m *memoryJobs) SaveJobHandle(_ context.Context, _ string, itemID string, _ stage.Name, handle string) error {
	m.handles[itemID] = handle
	return nil
}

func (m *memoryJobs) JobHandle(_ context.Context, itemID string, _ stage.Name) (string, error) {
	return m.handles[itemID], nil
}

func (m *memoryJobs) ClearJobHandle(_ context.Context, itemID string, _ stage.Name) error {
	delete(m.handles, itemID)
	return nil
}

// fakeClock advances by the requested duration every time the executor sleeps.
type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps++
	c.now = c.now.Add(d)
	return nil
}

func newExecutor(rec transcription.Recognizer, jobs transcription.JobStore, clock *fakeClock) *transcription.Executor {
	return transcription.New(rec, jobs, transcription.RecognitionConfig{Encoding: "FLAC", SampleRateHz: 16000},
		transcription.Policy{Interval: 10 * time.Second, Ceiling: 60 * time.Second},
		transcription.WithClock(clock.Now), transcription.WithSleeper(clock.Sleep))
}

func testJob(t *testing.T) stage.Job {
	t.Helper()
	return stage.Job{
		RunID:  "run-1",
		Item:   itemstore.Item{ID: "ep2", Title: "Two"},
		Input:  stage.Ref{Stage: stage.Upload, Key: "audio/ep2-two.flac", URI: "gs://bucket/audio/ep2-two.flac"},
		Output: stage.Ref{Stage: stage.Transcribe, Path: filepath.Join(t.TempDir(), "transcripts", "ep2-two.txt")},
	}
}

func TestProduceJoinsSegments(t *testing.T) {
	rec := &fakeRecognizer{results: []transcription.PollResult{
		{Progress: 40},
		{Done: true, Segments: []string{" Hello there.", "General Kenobi. "}},
	}}
	jobs := newMemoryJobs()
	clock := &fakeClock{now: time.Unix(0, 0)}
	job := testJob(t)

	if err := newExecutor(rec, jobs, clock).Produce(context.Background(), job); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	data, err := os.ReadFile(job.Output.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Hello there.\nGeneral Kenobi." {
		t.Fatalf("unexpected transcript %q", data)
	}
	if len(rec.submits) != 1 || rec.submits[0] != "gs://bucket/audio/ep2-two.flac" {
		t.Fatalf("unexpected submits %v", rec.submits)
	}
	if rec.polls != 2 || clock.sleeps != 1 {
		t.Fatalf("unexpected polling: polls=%d sleeps=%d", rec.polls, clock.sleeps)
	}
	if jobs.handles["ep2"] != "operations/1" {
		t.Fatal("handle should stay saved until the ledger marks the stage done")
	}
}

func TestProduceCeilingKeepsHandleAndResumes(t *testing.T) {
	rec := &fakeRecognizer{}
	jobs := newMemoryJobs()
	clock := &fakeClock{now: time.Unix(0, 0)}
	job := testJob(t)

	err := newExecutor(rec, jobs, clock).Produce(context.Background(), job)
	if !services.IsTransient(err) {
		t.Fatalf("expected transient ceiling error, got %v", err)
	}
	if rec.polls != 7 {
		t.Fatalf("expected seven bounded polls, got %d", rec.polls)
	}
	if jobs.handles["ep2"] != "operations/1" {
		t.Fatal("ceiling must keep the job handle")
	}
	if _, statErr := os.Stat(job.Output.Path); !os.IsNotExist(statErr) {
		t.Fatal("no transcript should be written on timeout")
	}

	rec.results = []transcription.PollResult{{Done: true, Segments: []string{"late result"}}}
	if err := newExecutor(rec, jobs, clock).Produce(context.Background(), job); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(rec.submits) != 1 {
		t.Fatalf("resume must not resubmit, submits=%v", rec.submits)
	}
}

func TestProduceEmptyResultIsDataError(t *testing.T) {
	rec := &fakeRecognizer{results: []transcription.PollResult{{Done: true, Segments: []string{" ", ""}}}}
	jobs := newMemoryJobs()
	clock := &fakeClock{now: time.Unix(0, 0)}

	err := newExecutor(rec, jobs, clock).Produce(context.Background(), testJob(t))
	if !errors.Is(err, services.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
	if _, ok := jobs.handles["ep2"]; ok {
		t.Fatal("empty result must clear the handle so the next run resubmits")
	}
}

func TestProduceJobFailureClearsHandle(t *testing.T) {
	rec := &fakeRecognizer{pollErr: services.Wrap(services.ErrExternalTool, "speech", "operation", "audio unreadable", nil)}
	jobs := newMemoryJobs()
	clock := &fakeClock{now: time.Unix(0, 0)}

	err := newExecutor(rec, jobs, clock).Produce(context.Background(), testJob(t))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if _, ok := jobs.handles["ep2"]; ok {
		t.Fatal("failed job must clear the handle")
	}

	rec.pollErr = errors.New("connection reset")
	jobs.handles["ep2"] = "operations/9"
	err = newExecutor(rec, jobs, clock).Produce(context.Background(), testJob(t))
	if !services.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if jobs.handles["ep2"] != "operations/9" {
		t.Fatal("transport errors must keep the handle")
	}
}

func TestProduceResubmitsExpiredJob(t *testing.T) {
	rec := &fakeRecognizer{
		handleID: "operations/2",
		expired:  map[string]bool{"operations/old": true},
		results:  []transcription.PollResult{{Done: true, Segments: []string{"fresh"}}},
	}
	jobs := newMemoryJobs()
	jobs.handles["ep2"] = "operations/old"
	clock := &fakeClock{now: time.Unix(0, 0)}
	job := testJob(t)

	if err := newExecutor(rec, jobs, clock).Produce(context.Background(), job); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if len(rec.submits) != 1 {
		t.Fatalf("expired job must be submitted again once, submits=%v", rec.submits)
	}
	if jobs.handles["ep2"] != "operations/2" {
		t.Fatalf("expected new handle to be saved, got %q", jobs.handles["ep2"])
	}
	data, err := os.ReadFile(job.Output.Path)
	if err != nil || string(data) != "fresh" {
		t.Fatalf("unexpected transcript %q %v", data, err)
	}
}

func TestProduceWithLedgerJobStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledgerStore := testsupport.MustOpenLedger(t, cfg)
	rec := &fakeRecognizer{}
	clock := &fakeClock{now: time.Unix(0, 0)}
	job := testJob(t)

	if err := newExecutor(rec, ledgerStore, clock).Produce(context.Background(), job); err == nil {
		t.Fatal("expected ceiling error")
	}
	handle, err := ledgerStore.JobHandle(context.Background(), "ep2", stage.Transcribe)
	if err != nil || handle != "operations/1" {
		t.Fatalf("expected persisted handle, got %q %v", handle, err)
	}
}
