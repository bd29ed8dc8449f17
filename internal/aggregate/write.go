package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"castindex/internal/artifacts"
	"castindex/internal/config"
	"castindex/internal/fileutil"
	"castindex/internal/itemstore"
)

// Write stores index as indented JSON at path.
func Write(path string, index Index) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// WriteYAML stores index as YAML at path.
func WriteYAML(path string, index Index) error {
	data, err := yaml.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode index yaml: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write index %s: %w", path, err)
	}
	return nil
}

// Generate scans the annotation artifacts for items, builds the index, and
// writes every configured output.
func Generate(cfg config.Aggregate, cache *artifacts.Cache, items []itemstore.Item, now time.Time) (Index, error) {
	annotations, err := Scan(cache, items)
	if err != nil {
		return Index{}, err
	}
	index := Build(annotations, now, Limits{Tech: cfg.TopTech, Business: cfg.TopBusiness, Topics: cfg.TopTopics})
	if err := Write(cfg.IndexPath, index); err != nil {
		return index, err
	}
	if yamlPath := strings.TrimSpace(cfg.YAMLPath); yamlPath != "" {
		if err := WriteYAML(yamlPath, index); err != nil {
			return index, err
		}
	}
	return index, nil
}
