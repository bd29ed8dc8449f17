package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const uploadChunkSize = 16 << 20

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket          string
	Project         string
	Location        string
	CredentialsFile string
	UploadTimeout   time.Duration
}

// GCS stores objects in a Cloud Storage bucket.
type GCS struct {
	client        *gcs.Client
	bucket        string
	uploadTimeout time.Duration
}

// NewGCS opens a Cloud Storage client. Credentials come from the configured
// file or application default credentials.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs: bucket required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, uploadTimeout: cfg.UploadTimeout}, nil
}

// EnsureBucket creates the bucket when it does not exist yet. It reports
// whether a bucket was created.
func (g *GCS) EnsureBucket(ctx context.Context, project, location string) (bool, error) {
	handle := g.client.Bucket(g.bucket)
	_, err := handle.Attrs(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gcs.ErrBucketNotExist) {
		return false, fmt.Errorf("gcs: bucket attrs %s: %w", g.bucket, err)
	}
	if err := handle.Create(ctx, project, &gcs.BucketAttrs{Location: location}); err != nil {
		return false, fmt.Errorf("gcs: create bucket %s: %w", g.bucket, err)
	}
	return true, nil
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs: object attrs %s: %w", key, err)
	}
	return attrs.Size > 0, nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) error {
	if g.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.uploadTimeout)
		defer cancel()
	}
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	writer.ChunkSize = uploadChunkSize
	if opts.ContentType != "" {
		writer.ContentType = opts.ContentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return fmt.Errorf("gcs: upload %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("gcs: finalize %s: %w", key, err)
	}
	return nil
}

func (g *GCS) URI(key string) string {
	return "gs://" + g.bucket + "/" + strings.TrimLeft(key, "/")
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Check verifies the bucket is reachable with the configured credentials.
func (g *GCS) Check(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs: bucket %s: %w", g.bucket, err)
	}
	return nil
}
