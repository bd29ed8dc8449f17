package itemstore_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"castindex/internal/itemstore"
	"castindex/internal/services"
)

func TestOpenMissingRequiresItems(t *testing.T) {
	store, err := itemstore.Open(filepath.Join(t.TempDir(), "episodes_metadata.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	err = store.RequireItems()
	if !errors.Is(err, services.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
}

func TestOpenLegacyMetadataDerivesIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes_metadata.json")
	legacy := `[
  {"title": "Feature Stores #312", "episode_number": "312", "audio_url": "https://cdn/312.mp3", "local_file": "episodes/ep312-feature-stores-312.mp3"},
  {"title": "Untitled chat", "episode_number": null, "audio_url": "https://cdn/x.mp3"},
  {"title": "Feature Stores #312 (dup)", "episode_number": "312"}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := itemstore.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.RequireItems(); err != nil {
		t.Fatalf("RequireItems failed: %v", err)
	}
	items := store.Items()
	if len(items) != 2 {
		t.Fatalf("expected duplicate to be dropped, got %d items", len(items))
	}
	if items[0].ID != "ep312" || items[1].ID != "ep001" {
		t.Fatalf("unexpected ids: %q %q", items[0].ID, items[1].ID)
	}
	if items[0].Stem() != "ep312-feature-stores-312" {
		t.Fatalf("unexpected stem %q", items[0].Stem())
	}
	if items[1].SequenceIndex != 1 {
		t.Fatalf("unexpected sequence index %d", items[1].SequenceIndex)
	}
}

func TestMergeAppendsAndFillsLocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	store, err := itemstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	added, updated := store.Merge([]itemstore.Item{
		{ID: "ep2", Title: "Second"},
		{ID: "ep1", Title: "First"},
	})
	if added != 2 || updated != 0 {
		t.Fatalf("unexpected merge counts %d/%d", added, updated)
	}

	added, updated = store.Merge([]itemstore.Item{
		{ID: "ep1", Title: "Renamed", LocalPath: "/episodes/ep1-first.mp3"},
		{ID: "ep0", Title: "Zero"},
	})
	if added != 1 || updated != 1 {
		t.Fatalf("unexpected merge counts %d/%d", added, updated)
	}

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	reopened, err := itemstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	items := reopened.Items()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if strings.Join(ids, ",") != "ep2,ep1,ep0" {
		t.Fatalf("unexpected order %v", ids)
	}
	first, ok := reopened.Lookup("ep1")
	if !ok {
		t.Fatal("expected ep1")
	}
	if first.Title != "First" || first.LocalPath != "/episodes/ep1-first.mp3" {
		t.Fatalf("unexpected merged item %+v", first)
	}
}

func TestSetLocalPathUnknownItem(t *testing.T) {
	store, err := itemstore.Open(filepath.Join(t.TempDir(), "items.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetLocalPath("ep9", "/tmp/x.mp3"); !errors.Is(err, itemstore.ErrUnknownItem) {
		t.Fatalf("expected unknown item error, got %v", err)
	}
}

func TestDeriveID(t *testing.T) {
	if got := itemstore.DeriveID(" 42 ", 3); got != "ep42" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := itemstore.DeriveID("", 7); got != "ep007" {
		t.Fatalf("unexpected fallback id %q", got)
	}
}
