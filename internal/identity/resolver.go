package identity

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"castindex/internal/itemstore"
	"castindex/internal/logging"
	"castindex/internal/textutil"
)

// matchWords is how many leading title words are tried against file names.
const matchWords = 3

// Resolver locates raw audio for items whose recorded path is missing.
type Resolver struct {
	dir    string
	logger *slog.Logger
}

// New returns a resolver scanning dir for *.mp3 files.
func New(dir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{dir: dir, logger: logging.NewComponentLogger(logger, "identity")}
}

// Resolve returns the first file, in name order, whose lowercase name
// contains any of the first three lowercase words of the item title.
func (r *Resolver) Resolve(item itemstore.Item) (string, bool) {
	words := textutil.LeadingWords(item.Title, matchWords)
	if len(words) == 0 {
		return "", false
	}
	files, err := filepath.Glob(filepath.Join(r.dir, "*.mp3"))
	if err != nil || len(files) == 0 {
		return "", false
	}
	sort.Strings(files)
	for _, path := range files {
		name := strings.ToLower(filepath.Base(path))
		for _, word := range words {
			if !strings.Contains(name, word) {
				continue
			}
			if info, statErr := os.Stat(path); statErr != nil || !info.Mode().IsRegular() {
				continue
			}
			attrs := append(logging.DecisionAttrs("identity_resolution", "matched", "title_word_in_file_name"),
				logging.String(logging.FieldItemID, item.ID),
				logging.String("word", word),
				logging.String("path", path),
			)
			r.logger.Info("identity resolution decision", logging.Args(attrs...)...)
			return path, true
		}
	}
	attrs := append(logging.DecisionAttrs("identity_resolution", "unmatched", "no_title_word_in_file_names"),
		logging.String(logging.FieldItemID, item.ID),
	)
	r.logger.Info("identity resolution decision", logging.Args(attrs...)...)
	return "", false
}
