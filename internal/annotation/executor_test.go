package annotation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"castindex/internal/annotation"
	"castindex/internal/itemstore"
	"castindex/internal/services"
	"castindex/internal/stage"
)

type fakeGenerator struct {
	prompts  []string
	response string
	err      error
}

func (f *fakeGenerator) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

type recordingSleeper struct {
	calls []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func newJob(t *testing.T, transcript string) stage.Job {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "ep7-seven.txt")
	if err := os.WriteFile(input, []byte(transcript), 0o644); err != nil {
		t.Fatal(err)
	}
	return stage.Job{
		RunID:  "run-1",
		Item:   itemstore.Item{ID: "ep7", Title: "Episode #7: Feature Stores"},
		Input:  stage.Ref{Stage: stage.Transcribe, Path: input},
		Output: stage.Ref{Stage: stage.Annotate, Path: filepath.Join(dir, "ep7-seven.json")},
	}
}

func readAnnotation(t *testing.T, path string) annotation.Annotation {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read annotation: %v", err)
	}
	ann, err := annotation.Decode(data)
	if err != nil {
		t.Fatalf("decode annotation: %v", err)
	}
	return ann
}

func TestProduceWritesNormalizedAnnotation(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n" + `{
		"tech_tags": [" MLflow ", "Kubernetes", "MLflow", ""],
		"business_tags": "Platform teams",
		"key_topics": ["Feature stores", "feature  stores"],
		"guest": {"name": "Ada Lovelace", "role": "CTO", "company": "N/A"},
		"summary": "  A talk   about feature stores. "
	}` + "\n```"}
	sleeper := &recordingSleeper{}
	exec := annotation.New(gen, annotation.Settings{RateDelay: 2 * time.Second}, annotation.WithSleeper(sleeper.Sleep))
	job := newJob(t, "hello world transcript")

	if err := exec.Produce(context.Background(), job); err != nil {
		t.Fatalf("Produce returned error: %v", err)
	}
	ann := readAnnotation(t, job.Output.Path)
	if ann.ItemID != "ep7" || ann.Title != job.Item.Title {
		t.Fatalf("unexpected identity %q %q", ann.ItemID, ann.Title)
	}
	if strings.Join(ann.TechTags, ",") != "MLflow,Kubernetes" {
		t.Fatalf("unexpected tech tags %v", ann.TechTags)
	}
	if strings.Join(ann.BusinessTags, ",") != "Platform teams" {
		t.Fatalf("unexpected business tags %v", ann.BusinessTags)
	}
	if strings.Join(ann.KeyTopics, ",") != "Feature stores,feature stores" {
		t.Fatalf("unexpected topics %v", ann.KeyTopics)
	}
	if ann.Guest == nil || ann.Guest.Name != "Ada Lovelace" || ann.Guest.Company != "" {
		t.Fatalf("unexpected guest %+v", ann.Guest)
	}
	if ann.Summary != "A talk about feature stores." {
		t.Fatalf("unexpected summary %q", ann.Summary)
	}
	if ann.IsError() {
		t.Fatal("expected a regular annotation")
	}
	if len(sleeper.calls) != 1 || sleeper.calls[0] != 2*time.Second {
		t.Fatalf("expected one rate delay, got %v", sleeper.calls)
	}
	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "Episode Title: Episode #7: Feature Stores") {
		t.Fatalf("unexpected prompt %q", gen.prompts)
	}
}

func TestProduceStoresErrorVariantOnParseFailure(t *testing.T) {
	raw := strings.Repeat("not json ", 100)
	gen := &fakeGenerator{response: raw}
	exec := annotation.New(gen, annotation.Settings{}, annotation.WithSleeper((&recordingSleeper{}).Sleep))
	job := newJob(t, "transcript")

	err := exec.Produce(context.Background(), job)
	var degraded *stage.DegradedError
	if !errors.As(err, &degraded) {
		t.Fatalf("expected degraded error, got %v", err)
	}
	if !errors.Is(err, services.ErrData) {
		t.Fatalf("expected data error marker, got %v", err)
	}
	ann := readAnnotation(t, job.Output.Path)
	if !ann.IsError() || ann.Error != annotation.ParseFailure {
		t.Fatalf("expected error variant, got %+v", ann)
	}
	if len([]rune(ann.Raw)) != annotation.DefaultRawLimit {
		t.Fatalf("expected raw truncated to %d runes, got %d", annotation.DefaultRawLimit, len([]rune(ann.Raw)))
	}
	if ann.ItemID != "ep7" || len(ann.TechTags) != 0 {
		t.Fatalf("unexpected error variant content %+v", ann)
	}
}

func TestProduceDelaysAfterFailedCall(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection reset")}
	sleeper := &recordingSleeper{}
	exec := annotation.New(gen, annotation.Settings{RateDelay: time.Second}, annotation.WithSleeper(sleeper.Sleep))
	job := newJob(t, "transcript")

	err := exec.Produce(context.Background(), job)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(sleeper.calls) != 1 {
		t.Fatalf("expected delay after failure, got %v", sleeper.calls)
	}
	if _, statErr := os.Stat(job.Output.Path); !os.IsNotExist(statErr) {
		t.Fatalf("expected no artifact, stat err %v", statErr)
	}
}

func TestProduceRejectsEmptyTranscript(t *testing.T) {
	gen := &fakeGenerator{response: "{}"}
	exec := annotation.New(gen, annotation.Settings{})
	err := exec.Produce(context.Background(), newJob(t, "   \n"))
	if !errors.Is(err, services.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
	if len(gen.prompts) != 0 {
		t.Fatal("generator should not be called for an empty transcript")
	}
}

func TestBuildPromptTruncatesTranscript(t *testing.T) {
	transcript := strings.Repeat("é", annotation.DefaultTranscriptLimit+50)
	prompt := annotation.BuildPrompt("Title", transcript, 0)
	if strings.Count(prompt, "é") != annotation.DefaultTranscriptLimit {
		t.Fatalf("expected %d transcript runes in prompt", annotation.DefaultTranscriptLimit)
	}
	if !strings.Contains(prompt, "Respond in valid JSON only") {
		t.Fatal("prompt missing response instructions")
	}
}

func TestParseAcceptsGuestAsString(t *testing.T) {
	ann, err := annotation.Parse(`{"tech_tags":["Go"],"guest":"Grace Hopper","summary":"x"}`, 0)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if ann.Guest == nil || ann.Guest.Name != "Grace Hopper" {
		t.Fatalf("unexpected guest %+v", ann.Guest)
	}
}
