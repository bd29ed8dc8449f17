package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"castindex/internal/fileutil"
)

// Local stores objects as files under a root directory.
type Local struct {
	root string
}

// NewLocal returns a filesystem-backed object store rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

// Path maps a key to its file location.
func (l *Local) Path(key string) string {
	clean := filepath.Clean("/" + strings.TrimSpace(key))
	return filepath.Join(l.root, filepath.FromSlash(clean))
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	ok, err := fileutil.NonEmptyFile(l.Path(key))
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return ok, nil
}

func (l *Local) Put(ctx context.Context, key string, r io.Reader, _ PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fileutil.WriteStreamAtomic(l.Path(key), r, 0o644); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (l *Local) URI(key string) string {
	return "file://" + l.Path(key)
}

// PathFromURI converts a file:// URI produced by URI back into a path.
func PathFromURI(uri string) (string, bool) {
	if !strings.HasPrefix(uri, "file://") {
		return "", false
	}
	return strings.TrimPrefix(uri, "file://"), true
}

// Check verifies the root directory exists or can be created.
func (l *Local) Check(context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return fmt.Errorf("object root %s: %w", l.root, err)
	}
	return nil
}
