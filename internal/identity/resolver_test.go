package identity

import (
	"os"
	"path/filepath"
	"testing"

	"castindex/internal/itemstore"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveMatchesLeadingTitleWord(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "ep9-unrelated.mp3")
	want := touch(t, dir, "ep12-feature-stores-explained.mp3")
	touch(t, dir, "notes.txt")

	r := New(dir, nil)
	got, ok := r.Resolve(itemstore.Item{ID: "ep12", Title: "Feature Stores Explained"})
	if !ok || got != want {
		t.Fatalf("Resolve = %q, %v; want %q", got, ok, want)
	}
}

func TestResolvePrefersFirstFileByName(t *testing.T) {
	dir := t.TempDir()
	first := touch(t, dir, "a-data-talk.mp3")
	touch(t, dir, "b-data-talk.mp3")

	got, ok := New(dir, nil).Resolve(itemstore.Item{Title: "Data Mesh"})
	if !ok || got != first {
		t.Fatalf("Resolve = %q, %v; want %q", got, ok, first)
	}
}

func TestResolveNoMatch(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "ep1-kafka.mp3")
	if _, ok := New(dir, nil).Resolve(itemstore.Item{Title: "Feature Stores"}); ok {
		t.Fatal("expected no match")
	}
	if _, ok := New(dir, nil).Resolve(itemstore.Item{Title: "   "}); ok {
		t.Fatal("expected empty title to never match")
	}
}
