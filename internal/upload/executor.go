package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"castindex/internal/logging"
	"castindex/internal/services"
	"castindex/internal/stage"
	"castindex/internal/storage"
)

const contentType = "audio/flac"

// Executor copies normalized audio into durable object storage.
type Executor struct {
	store   storage.ObjectStore
	timeout time.Duration
	logger  *slog.Logger
}

// New builds an upload executor. A zero timeout leaves uploads bounded only by ctx.
func New(store storage.ObjectStore, timeout time.Duration) *Executor {
	return &Executor{store: store, timeout: timeout, logger: logging.NewNop()}
}

// Name implements stage.Executor.
func (e *Executor) Name() stage.Name { return stage.Upload }

// SetLogger implements stage.LoggerAware.
func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, "upload")
}

// Produce implements stage.Executor. Objects are addressed by name: an
// existing object under the key is accepted without comparing content.
func (e *Executor) Produce(ctx context.Context, job stage.Job) error {
	if e.store == nil {
		return services.Wrap(services.ErrConfiguration, "upload", "object store", "not configured", nil)
	}
	key := job.Output.Key
	if key == "" {
		return services.Wrap(services.ErrConfiguration, "upload", "resolve key", "empty object key", nil)
	}
	exists, err := e.store.Exists(ctx, key)
	if err != nil {
		return services.Wrap(services.ErrTransient, "upload", "check object", key, err)
	}
	if exists {
		e.logger.Info("object already present", logging.String("uri", e.store.URI(key)))
		return nil
	}

	file, err := os.Open(job.Input.Path)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "upload", "open audio", job.Input.Path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return services.Wrap(services.ErrNotFound, "upload", "stat audio", job.Input.Path, err)
	}

	putCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		putCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	started := time.Now()
	if err := e.store.Put(putCtx, key, file, storage.PutOptions{ContentType: contentType}); err != nil {
		return services.Wrap(services.ErrTransient, "upload", "put object", e.store.URI(key), err)
	}
	e.logger.Info("audio uploaded",
		logging.String("uri", e.store.URI(key)),
		logging.String("size", humanize.Bytes(uint64(info.Size()))),
		logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)),
	)
	return nil
}

// HealthCheck implements stage.Executor.
func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	if e.store == nil {
		return stage.Unhealthy(stage.Upload, "object store not configured")
	}
	if checker, ok := e.store.(storage.Checker); ok {
		if err := checker.Check(ctx); err != nil {
			return stage.Unhealthy(stage.Upload, fmt.Sprintf("object store unreachable: %v", err))
		}
	}
	return stage.Healthy(stage.Upload)
}
