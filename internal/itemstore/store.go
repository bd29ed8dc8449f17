package itemstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"castindex/internal/fileutil"
	"castindex/internal/services"
)

// ErrUnknownItem is returned when an item ID is not present in the store.
var ErrUnknownItem = errors.New("unknown item")

// Store is the durable item metadata file. It is a JSON array in sequence
// order and is safe to edit by hand between runs.
type Store struct {
	mu     sync.Mutex
	path   string
	exists bool
	items  []Item
}

// Open reads the item file at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read item store: %w", err)
	}
	s.exists = true
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, services.Wrap(services.ErrSetup, "item store", "decode", path, err)
	}
	s.items = normalize(items)
	return s, nil
}

func normalize(items []Item) []Item {
	out := make([]Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for idx, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			item.ID = DeriveID(item.EpisodeNumber, idx)
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		if strings.TrimSpace(item.ArtifactStem) == "" {
			item.ArtifactStem = DeriveStem(item.ID, item.Title)
		}
		item.SequenceIndex = len(out)
		out = append(out, item)
	}
	return out
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// RequireItems fails with a setup error when ingestion has not produced any
// items yet.
func (s *Store) RequireItems() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return services.Wrap(services.ErrSetup, "item store", "load", "no episode metadata at "+s.path+"; run `castindex ingest` first", nil)
	}
	if len(s.items) == 0 {
		return services.Wrap(services.ErrSetup, "item store", "load", "episode metadata at "+s.path+" is empty", nil)
	}
	return nil
}

// Items returns a copy of all items in sequence order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Lookup returns the item with the given ID.
func (s *Store) Lookup(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// Merge appends unseen items after the existing ones. Known items keep their
// metadata; only a missing local path is filled in.
func (s *Store) Merge(incoming []Item) (added, updated int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := make(map[string]int, len(s.items))
	for i, item := range s.items {
		index[item.ID] = i
	}
	for _, item := range incoming {
		if item.ID == "" {
			continue
		}
		if pos, ok := index[item.ID]; ok {
			if !s.items[pos].HasLocalFile() && item.HasLocalFile() {
				s.items[pos].LocalPath = item.LocalPath
				updated++
			}
			continue
		}
		if strings.TrimSpace(item.ArtifactStem) == "" {
			item.ArtifactStem = DeriveStem(item.ID, item.Title)
		}
		item.SequenceIndex = len(s.items)
		index[item.ID] = len(s.items)
		s.items = append(s.items, item)
		added++
	}
	return added, updated
}

// SetLocalPath records the materialized raw artifact for an item.
func (s *Store) SetLocalPath(id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].LocalPath = path
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownItem, id)
}

// Save writes the store atomically as indented JSON.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items
	if items == nil {
		items = []Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode item store: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write item store: %w", err)
	}
	s.exists = true
	return nil
}
