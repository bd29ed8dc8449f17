package upload_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"castindex/internal/services"
	"castindex/internal/stage"
	"castindex/internal/storage"
	"castindex/internal/upload"
)

type recordingStore struct {
	objects map[string][]byte
	types   map[string]string
	puts    int
	failPut error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *recordingStore) Exists(_ context.Context, key string) (bool, error) {
	return len(s.objects[key]) > 0, nil
}

func (s *recordingStore) Put(_ context.Context, key string, r io.Reader, opts storage.PutOptions) error {
	s.puts++
	if s.failPut != nil {
		return s.failPut
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	s.objects[key] = buf.Bytes()
	s.types[key] = opts.ContentType
	return nil
}

func (s *recordingStore) URI(key string) string { return "mem://" + key }

func job(t *testing.T) stage.Job {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ep1-pilot.flac")
	if err := os.WriteFile(path, []byte("fLaC-data"), 0o644); err != nil {
		t.Fatal(err)
	}
	return stage.Job{
		Input:  stage.Ref{Stage: stage.Convert, Path: path},
		Output: stage.Ref{Stage: stage.Upload, Key: "audio/ep1-pilot.flac", URI: "mem://audio/ep1-pilot.flac"},
	}
}

func TestProduceUploadsWithContentType(t *testing.T) {
	store := newRecordingStore()
	exec := upload.New(store, 0)
	if err := exec.Produce(context.Background(), job(t)); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if string(store.objects["audio/ep1-pilot.flac"]) != "fLaC-data" {
		t.Fatalf("unexpected object %q", store.objects["audio/ep1-pilot.flac"])
	}
	if store.types["audio/ep1-pilot.flac"] != "audio/flac" {
		t.Fatalf("unexpected content type %q", store.types["audio/ep1-pilot.flac"])
	}
}

func TestProduceSkipsExistingObject(t *testing.T) {
	store := newRecordingStore()
	store.objects["audio/ep1-pilot.flac"] = []byte("old")
	exec := upload.New(store, 0)
	if err := exec.Produce(context.Background(), job(t)); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if store.puts != 0 {
		t.Fatalf("expected no put for existing object, got %d", store.puts)
	}
}

func TestProduceClassifiesFailures(t *testing.T) {
	store := newRecordingStore()
	store.failPut = errors.New("connection reset")
	exec := upload.New(store, 0)
	if err := exec.Produce(context.Background(), job(t)); !services.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	missing := job(t)
	missing.Input.Path = filepath.Join(t.TempDir(), "gone.flac")
	if err := upload.New(newRecordingStore(), 0).Produce(context.Background(), missing); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestProduceWithLocalStore(t *testing.T) {
	root := t.TempDir()
	local := storage.NewLocal(root)
	exec := upload.New(local, 0)
	j := job(t)
	if err := exec.Produce(context.Background(), j); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	ok, err := local.Exists(context.Background(), j.Output.Key)
	if err != nil || !ok {
		t.Fatalf("expected object in local store: %v %v", ok, err)
	}
	if exec.HealthCheck(context.Background()).Ready != true {
		t.Fatal("expected healthy executor")
	}
}
