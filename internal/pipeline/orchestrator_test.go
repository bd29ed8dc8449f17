package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"castindex/internal/aggregate"
	"castindex/internal/annotation"
	"castindex/internal/artifacts"
	"castindex/internal/config"
	"castindex/internal/itemstore"
	"castindex/internal/ledger"
	"castindex/internal/pipeline"
	"castindex/internal/services"
	"castindex/internal/stage"
	"castindex/internal/storage"
	"castindex/internal/testsupport"
)

// stubExecutor writes a fixed artifact for every job unless failFor says
// otherwise for the item.
type stubExecutor struct {
	name    stage.Name
	calls   map[string]int
	failFor map[string]error
	body    func(job stage.Job) []byte
}

func newStub(name stage.Name) *stubExecutor {
	return &stubExecutor{name: name, calls: map[string]int{}, failFor: map[string]error{}}
}

func (s *stubExecutor) Name() stage.Name { return s.name }

func (s *stubExecutor) Produce(_ context.Context, job stage.Job) error {
	s.calls[job.Item.ID]++
	if err := s.failFor[job.Item.ID]; err != nil {
		return err
	}
	path := job.Output.Path
	if job.Output.Remote() {
		local, ok := storage.PathFromURI(job.Output.URI)
		if !ok {
			return errors.New("unexpected remote uri " + job.Output.URI)
		}
		path = local
	}
	data := []byte(string(s.name) + " of " + job.Item.ID)
	if s.body != nil {
		data = s.body(job)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *stubExecutor) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(s.name)
}

func (s *stubExecutor) total() int {
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

type fixture struct {
	cfg        *config.Config
	items      *itemstore.Store
	ledger     *ledger.Store
	cache      *artifacts.Cache
	convert    *stubExecutor
	upload     *stubExecutor
	transcribe *stubExecutor
	annotate   *stubExecutor
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	items, err := itemstore.Open(cfg.Paths.ItemsFile)
	if err != nil {
		t.Fatal(err)
	}
	var incoming []itemstore.Item
	for _, id := range ids {
		item := itemstore.Item{ID: id, Title: "Episode " + id}
		item.LocalPath = filepath.Join(cfg.Paths.EpisodesDir, itemstore.DeriveStem(id, item.Title)+".mp3")
		testsupport.WriteFile(t, item.LocalPath, 64)
		incoming = append(incoming, item)
	}
	items.Merge(incoming)
	if len(ids) > 0 {
		if err := items.Save(); err != nil {
			t.Fatal(err)
		}
	}

	f := &fixture{
		cfg:    cfg,
		items:  items,
		ledger: testsupport.MustOpenLedger(t, cfg),
		cache: artifacts.New(artifacts.Layout{
			EpisodesDir:    cfg.Paths.EpisodesDir,
			ConvertedDir:   cfg.Paths.ConvertedDir,
			TranscriptsDir: cfg.Paths.TranscriptsDir,
			AnnotationsDir: cfg.Paths.AnnotationsDir,
			KeyPrefix:      cfg.Storage.Prefix,
		}, storage.NewLocal(cfg.Storage.LocalDir)),
		convert:    newStub(stage.Convert),
		upload:     newStub(stage.Upload),
		transcribe: newStub(stage.Transcribe),
		annotate:   newStub(stage.Annotate),
	}
	f.annotate.body = func(job stage.Job) []byte {
		data, _ := annotation.Annotation{
			ItemID:   job.Item.ID,
			TechTags: []string{"MLflow", "Tag-" + job.Item.ID},
			Summary:  "summary of " + job.Item.ID,
		}.Encode()
		return data
	}
	return f
}

func (f *fixture) orchestrator(opts ...func(*pipeline.Options)) *pipeline.Orchestrator {
	options := pipeline.Options{
		Config:    f.cfg,
		Items:     f.items,
		Ledger:    f.ledger,
		Cache:     f.cache,
		Executors: []stage.Executor{f.annotate, f.transcribe, f.upload, f.convert},
		Clock:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&options)
	}
	return pipeline.New(options)
}

func readIndex(t *testing.T, path string) aggregate.Index {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var index aggregate.Index
	if err := json.Unmarshal(data, &index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	return index
}

func TestRunResumesTransientFailureOnNextRun(t *testing.T) {
	f := newFixture(t, "ep1", "ep2", "ep3")
	f.transcribe.failFor["ep2"] = services.Wrap(services.ErrTransient, "transcribe", "poll job", "timeout", nil)
	ctx := context.Background()

	summary, err := f.orchestrator().Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary.Completed != 2 || summary.Partial != 0 || summary.Failed != 1 {
		t.Fatalf("unexpected first summary %+v", summary)
	}
	result := summary.Results[1]
	if result.ItemID != "ep2" || result.Outcome != pipeline.Failed || result.FailedStage != stage.Transcribe || result.StageReached != stage.Upload {
		t.Fatalf("unexpected ep2 result %+v", result)
	}
	if !errors.Is(result.Cause, services.ErrTransient) {
		t.Fatalf("expected transient cause, got %v", result.Cause)
	}
	rec, err := f.ledger.Record(ctx, "ep2", stage.Transcribe)
	if err != nil || rec == nil || rec.Status != ledger.StatusFailed || rec.ErrorKind != services.KindTransient {
		t.Fatalf("unexpected ep2 transcribe record %+v %v", rec, err)
	}
	index := readIndex(t, f.cfg.Aggregate.IndexPath)
	if index.ItemsAnalyzed != 2 || index.RankedTechTags[0].Tag != "MLflow" || index.RankedTechTags[0].Count != 2 {
		t.Fatalf("unexpected first index %+v", index)
	}
	if summary.Transcripts != 2 || summary.Annotations != 2 {
		t.Fatalf("unexpected artifact counts %+v", summary)
	}

	delete(f.transcribe.failFor, "ep2")
	summary, err = f.orchestrator().Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Completed != 3 || summary.Requeued != 1 {
		t.Fatalf("unexpected second summary %+v", summary)
	}
	if f.convert.total() != 3 || f.upload.total() != 3 || f.annotate.total() != 3 {
		t.Fatalf("completed stages ran again: convert=%d upload=%d annotate=%d",
			f.convert.total(), f.upload.total(), f.annotate.total())
	}
	if f.transcribe.calls["ep1"] != 1 || f.transcribe.calls["ep2"] != 2 {
		t.Fatalf("unexpected transcribe calls %v", f.transcribe.calls)
	}
	if got := readIndex(t, f.cfg.Aggregate.IndexPath).ItemsAnalyzed; got != 3 {
		t.Fatalf("expected 3 analyzed items, got %d", got)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t, "ep1", "ep2")
	ctx := context.Background()
	if _, err := f.orchestrator().Run(ctx); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(f.cfg.Aggregate.IndexPath)
	if err != nil {
		t.Fatal(err)
	}
	before := f.convert.total() + f.upload.total() + f.transcribe.total() + f.annotate.total()

	summary, err := f.orchestrator().Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	after := f.convert.total() + f.upload.total() + f.transcribe.total() + f.annotate.total()
	if after != before {
		t.Fatalf("second run invoked %d executors", after-before)
	}
	for _, result := range summary.Results {
		if result.Outcome != pipeline.Completed || result.Skipped != 4 || result.Produced != 0 {
			t.Fatalf("unexpected result %+v", result)
		}
	}
	second, err := os.ReadFile(f.cfg.Aggregate.IndexPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatal("index changed between identical runs")
	}
}

func TestRunWithoutItemsIsSetupError(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator().Run(context.Background())
	if !errors.Is(err, services.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
	if runs, _ := f.ledger.Runs(context.Background()); len(runs) != 0 {
		t.Fatalf("no run should be recorded, got %d", len(runs))
	}
}

func TestMissingRawFailsAtConvert(t *testing.T) {
	f := newFixture(t, "ep1")
	item, _ := f.items.Lookup("ep1")
	if err := os.Remove(item.LocalPath); err != nil {
		t.Fatal(err)
	}

	summary, err := f.orchestrator().Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	result := summary.Results[0]
	if result.Outcome != pipeline.Failed || result.FailedStage != stage.Convert || !errors.Is(result.Cause, services.ErrNotFound) {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.convert.total() != 0 {
		t.Fatal("convert must not run without raw audio")
	}
}

func TestRawFoundAtCanonicalNameWithoutLocalPath(t *testing.T) {
	f := newFixture(t)
	item := itemstore.Item{ID: "ep5", Title: "Episode ep5"}
	f.items.Merge([]itemstore.Item{item})
	if err := f.items.Save(); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, filepath.Join(f.cfg.Paths.EpisodesDir, item.RawFileName()), 64)

	resolverCalled := false
	summary, err := f.orchestrator(func(o *pipeline.Options) {
		o.Resolver = resolverFunc(func(itemstore.Item) (string, bool) {
			resolverCalled = true
			return "", false
		})
	}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Completed != 1 || f.convert.total() != 1 {
		t.Fatalf("expected item to complete from its canonical raw file, got %+v", summary.Results)
	}
	if resolverCalled {
		t.Fatal("resolver must not run when the canonical raw file exists")
	}
}

type resolverFunc func(itemstore.Item) (string, bool)

func (f resolverFunc) Resolve(item itemstore.Item) (string, bool) { return f(item) }

type stubResolver struct {
	path string
}

func (r stubResolver) Resolve(itemstore.Item) (string, bool) { return r.path, r.path != "" }

func TestResolverSuppliesMissingRaw(t *testing.T) {
	f := newFixture(t, "ep1")
	item, _ := f.items.Lookup("ep1")
	moved := filepath.Join(f.cfg.Paths.EpisodesDir, "renamed-episode.mp3")
	if err := os.Rename(item.LocalPath, moved); err != nil {
		t.Fatal(err)
	}

	summary, err := f.orchestrator(func(o *pipeline.Options) { o.Resolver = stubResolver{path: moved} }).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Completed != 1 {
		t.Fatalf("expected resolved item to complete, got %+v", summary.Results)
	}
	reopened, err := itemstore.Open(f.cfg.Paths.ItemsFile)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := reopened.Lookup("ep1"); got.LocalPath != moved {
		t.Fatalf("resolved path not persisted, got %q", got.LocalPath)
	}
	if _, err := os.Stat(f.cache.Ref(item, stage.Convert).Path); err != nil {
		t.Fatalf("artifact stem must not follow the resolved file name: %v", err)
	}
}

func TestStagesLimitRun(t *testing.T) {
	f := newFixture(t, "ep1")
	summary, err := f.orchestrator(func(o *pipeline.Options) {
		o.Stages = []stage.Name{stage.Convert, stage.Upload}
	}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Completed != 1 || f.transcribe.total() != 0 || f.annotate.total() != 0 {
		t.Fatalf("unexpected limited run %+v transcribe=%d", summary, f.transcribe.total())
	}
	run, err := f.ledger.LatestRun(context.Background())
	if err != nil || run == nil || len(run.Stages) != 2 {
		t.Fatalf("unexpected run record %+v %v", run, err)
	}
}

func TestCancelledRunIsAborted(t *testing.T) {
	f := newFixture(t, "ep1", "ep2")
	ctx, cancel := context.WithCancel(context.Background())
	f.convert.body = func(job stage.Job) []byte {
		cancel()
		return []byte("converted")
	}

	summary, err := f.orchestrator().Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Interrupted || len(summary.Results) != 1 {
		t.Fatalf("expected run to stop after first item, got %+v", summary)
	}
	if f.upload.total() != 0 {
		t.Fatal("no stage may start after cancellation")
	}
	result := summary.Results[0]
	if result.Outcome != pipeline.PartiallyCompleted || result.StageReached != stage.Convert || result.Cause != nil || result.FailedStage != "" {
		t.Fatalf("interrupted item should be partial at convert, got %+v", result)
	}
	if summary.Partial != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	run, err := f.ledger.LatestRun(context.Background())
	if err != nil || run == nil || run.Status != ledger.RunAborted || run.FinishedAt == nil {
		t.Fatalf("unexpected run record %+v %v", run, err)
	}
	if rec, _ := f.ledger.Record(context.Background(), "ep1", stage.Convert); rec == nil || rec.Status != ledger.StatusDone {
		t.Fatalf("completed stage must stay recorded, got %+v", rec)
	}
}
