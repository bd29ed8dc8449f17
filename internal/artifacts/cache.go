package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"castindex/internal/fileutil"
	"castindex/internal/itemstore"
	"castindex/internal/stage"
	"castindex/internal/storage"
)

// Layout names where each stage's artifacts live.
type Layout struct {
	EpisodesDir    string
	ConvertedDir   string
	TranscriptsDir string
	AnnotationsDir string
	KeyPrefix      string
}

// Cache answers "has this stage already produced its output" for an item.
// Every reference is a pure function of the item's artifact stem.
type Cache struct {
	layout Layout
	store  storage.ObjectStore
}

// New builds a cache over the given layout and object store.
func New(layout Layout, store storage.ObjectStore) *Cache {
	return &Cache{layout: layout, store: store}
}

// Raw returns the fetched source file for item: the recorded local path, or
// the canonical download name under the episodes directory.
func (c *Cache) Raw(item itemstore.Item) stage.Ref {
	path := strings.TrimSpace(item.LocalPath)
	if path == "" && c.layout.EpisodesDir != "" {
		path = filepath.Join(c.layout.EpisodesDir, item.RawFileName())
	}
	return stage.Ref{Stage: stage.Fetch, Path: path}
}

// Ref returns the output reference of stage name for item.
func (c *Cache) Ref(item itemstore.Item, name stage.Name) stage.Ref {
	stem := item.Stem()
	switch name {
	case stage.Fetch:
		return c.Raw(item)
	case stage.Convert:
		return stage.Ref{Stage: name, Path: filepath.Join(c.layout.ConvertedDir, stem+".flac")}
	case stage.Upload:
		key := c.layout.KeyPrefix + stem + ".flac"
		ref := stage.Ref{Stage: name, Key: key}
		if c.store != nil {
			ref.URI = c.store.URI(key)
		}
		return ref
	case stage.Transcribe:
		return stage.Ref{Stage: name, Path: filepath.Join(c.layout.TranscriptsDir, stem+".txt")}
	case stage.Annotate:
		return stage.Ref{Stage: name, Path: filepath.Join(c.layout.AnnotationsDir, stem+".json")}
	default:
		return stage.Ref{Stage: name}
	}
}

// Input returns the artifact stage name consumes.
func (c *Cache) Input(item itemstore.Item, name stage.Name) stage.Ref {
	return c.Ref(item, stage.Previous(name))
}

// Exists reports whether ref points at a present, non-empty artifact.
func (c *Cache) Exists(ctx context.Context, ref stage.Ref) (bool, error) {
	if ref.Remote() {
		if c.store == nil {
			return false, fmt.Errorf("artifact %s: no object store configured", ref.Key)
		}
		return c.store.Exists(ctx, ref.Key)
	}
	if strings.TrimSpace(ref.Path) == "" {
		return false, nil
	}
	ok, err := fileutil.NonEmptyFile(ref.Path)
	if err != nil {
		return false, fmt.Errorf("artifact %s: %w", ref.Path, err)
	}
	return ok, nil
}

// Read loads a local artifact.
func (c *Cache) Read(ref stage.Ref) ([]byte, error) {
	if ref.Remote() {
		return nil, fmt.Errorf("artifact %s: remote artifacts are not readable locally", ref.URI)
	}
	return os.ReadFile(ref.Path)
}

// Write stores a local artifact atomically. Empty payloads are rejected so a
// stage can never be recorded done without content.
func (c *Cache) Write(ref stage.Ref, data []byte) error {
	if ref.Remote() {
		return fmt.Errorf("artifact %s: remote artifacts are written through the object store", ref.URI)
	}
	if len(data) == 0 {
		return fmt.Errorf("artifact %s: refusing to write empty artifact", ref.Path)
	}
	return fileutil.WriteFileAtomic(ref.Path, data, 0o644)
}

// Annotation pairs an annotation artifact with the item it belongs to.
type Annotation struct {
	ItemID string
	Ref    stage.Ref
}

// Annotations lists annotation artifacts in scan order: item sequence order
// first, then files in the annotations directory that belong to no known item,
// sorted by name. Items without an annotation are skipped.
func (c *Cache) Annotations(items []itemstore.Item) ([]Annotation, error) {
	out := make([]Annotation, 0, len(items))
	claimed := make(map[string]struct{}, len(items))
	for _, item := range items {
		ref := c.Ref(item, stage.Annotate)
		claimed[filepath.Base(ref.Path)] = struct{}{}
		ok, err := fileutil.NonEmptyFile(ref.Path)
		if err != nil {
			return nil, fmt.Errorf("stat annotation %s: %w", ref.Path, err)
		}
		if ok {
			out = append(out, Annotation{ItemID: item.ID, Ref: ref})
		}
	}

	entries, err := os.ReadDir(c.layout.AnnotationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	var orphans []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := claimed[name]; ok {
			continue
		}
		orphans = append(orphans, name)
	}
	sort.Strings(orphans)
	for _, name := range orphans {
		path := filepath.Join(c.layout.AnnotationsDir, name)
		if ok, _ := fileutil.NonEmptyFile(path); !ok {
			continue
		}
		out = append(out, Annotation{
			ItemID: strings.TrimSuffix(name, ".json"),
			Ref:    stage.Ref{Stage: stage.Annotate, Path: path},
		})
	}
	return out, nil
}

// Count returns how many non-empty local artifacts exist for stage name.
func (c *Cache) Count(name stage.Name) int {
	var dir, ext string
	switch name {
	case stage.Convert:
		dir, ext = c.layout.ConvertedDir, ".flac"
	case stage.Transcribe:
		dir, ext = c.layout.TranscriptsDir, ".txt"
	case stage.Annotate:
		dir, ext = c.layout.AnnotationsDir, ".json"
	default:
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if ok, _ := fileutil.NonEmptyFile(filepath.Join(dir, entry.Name())); ok {
			count++
		}
	}
	return count
}
