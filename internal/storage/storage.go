package storage

import (
	"context"
	"io"
)

// PutOptions carries per-object metadata for uploads.
type PutOptions struct {
	ContentType string
}

// ObjectStore is durable storage addressed by deterministic keys.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) error
	// URI returns the reference handed to recognition backends.
	URI(key string) string
}

// Checker is implemented by stores that can verify they are reachable.
type Checker interface {
	Check(ctx context.Context) error
}
