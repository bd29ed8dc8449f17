package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"castindex/internal/config"
	"castindex/internal/logging"
	"castindex/internal/media/ffprobe"
	"castindex/internal/services"
	"castindex/internal/stage"
)

const codec = "flac"

// Executor normalizes raw episode audio into mono FLAC at a fixed sample rate.
type Executor struct {
	ffmpeg     string
	ffprobe    string
	channels   int
	sampleRate int
	run        ffprobe.Runner
	logger     *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRunner replaces the command runner used for ffmpeg and ffprobe.
func WithRunner(run ffprobe.Runner) Option {
	return func(e *Executor) {
		if run != nil {
			e.run = run
		}
	}
}

// New builds a convert executor from configuration.
func New(cfg config.Convert, opts ...Option) *Executor {
	e := &Executor{
		ffmpeg:     strings.TrimSpace(cfg.FFmpegBinary),
		ffprobe:    strings.TrimSpace(cfg.FFprobeBinary),
		channels:   cfg.Channels,
		sampleRate: cfg.SampleRate,
		run:        ffprobe.ExecRunner,
		logger:     logging.NewNop(),
	}
	if e.ffmpeg == "" {
		e.ffmpeg = "ffmpeg"
	}
	if e.ffprobe == "" {
		e.ffprobe = "ffprobe"
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements stage.Executor.
func (e *Executor) Name() stage.Name { return stage.Convert }

// SetLogger implements stage.LoggerAware.
func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, "convert")
}

// Args returns the ffmpeg arguments that encode src into dst.
func (e *Executor) Args(src, dst string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", src,
		"-vn",
		"-ac", strconv.Itoa(e.channels),
		"-ar", strconv.Itoa(e.sampleRate),
		"-c:a", codec,
		"-f", codec,
		dst,
	}
}

// Produce implements stage.Executor. Output is written to a temp file in the
// destination directory, verified with ffprobe, and renamed into place.
func (e *Executor) Produce(ctx context.Context, job stage.Job) error {
	src := job.Input.Path
	dst := job.Output.Path
	if strings.TrimSpace(dst) == "" {
		return services.Wrap(services.ErrConfiguration, "convert", "resolve output", "empty output path", nil)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return services.Wrap(services.ErrSetup, "convert", "create output dir", filepath.Dir(dst), err)
	}
	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".partial")
	defer func() { _ = os.Remove(tmp) }()

	if output, err := e.run(ctx, e.ffmpeg, e.Args(src, tmp)...); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return services.Wrap(services.ErrConfiguration, "convert", "ffmpeg", fmt.Sprintf("binary %q not found", e.ffmpeg), err)
		}
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTransient, "convert", "ffmpeg", "interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrExternalTool, "convert", "ffmpeg", strings.TrimSpace(string(output)), err)
	}

	audio, err := ffprobe.Probe(ctx, e.run, e.ffprobe, tmp)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "convert", "verify", "ffprobe failed", err)
	}
	if err := audio.Expect(codec, e.channels, e.sampleRate); err != nil {
		return services.Wrap(services.ErrData, "convert", "verify", err.Error(), nil)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return services.Wrap(services.ErrSetup, "convert", "finalize", dst, err)
	}
	e.logger.Info("audio normalized",
		logging.String("output", dst),
		logging.String("size", humanize.Bytes(uint64(fileSize(dst)))),
		logging.Duration("audio_duration", audio.Duration.Round(time.Second)),
	)
	return nil
}

// HealthCheck implements stage.Executor.
func (e *Executor) HealthCheck(context.Context) stage.Health {
	for _, binary := range []string{e.ffmpeg, e.ffprobe} {
		if _, err := exec.LookPath(binary); err != nil {
			return stage.Unhealthy(stage.Convert, fmt.Sprintf("binary %q not found", binary))
		}
	}
	return stage.Healthy(stage.Convert)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
