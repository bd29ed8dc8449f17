package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"castindex/internal/config"
	"castindex/internal/services"
	"castindex/internal/stage"
)

type fakeTools struct {
	probeJSON string
	ffmpegErr error
	calls     []string
}

func (f *fakeTools) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name)
	switch name {
	case "ffmpeg":
		if f.ffmpegErr != nil {
			return []byte("Invalid data found when processing input"), f.ffmpegErr
		}
		dst := args[len(args)-1]
		return nil, os.WriteFile(dst, []byte("fLaC"), 0o644)
	case "ffprobe":
		return []byte(f.probeJSON), nil
	}
	return nil, errors.New("unexpected binary " + name)
}

func newTestExecutor(tools *fakeTools) *Executor {
	cfg := config.Default().Convert
	return New(cfg, WithRunner(tools.run))
}

func testJob(t *testing.T) stage.Job {
	t.Helper()
	dir := t.TempDir()
	raw := filepath.Join(dir, "episodes", "ep1-pilot.mp3")
	if err := os.MkdirAll(filepath.Dir(raw), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(raw, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return stage.Job{
		Input:  stage.Ref{Stage: stage.Fetch, Path: raw},
		Output: stage.Ref{Stage: stage.Convert, Path: filepath.Join(dir, "audio", "ep1-pilot.flac")},
	}
}

const validProbe = `{"streams":[{"codec_type":"audio","codec_name":"flac","sample_rate":"16000","channels":1}],"format":{"duration":"61.2","size":"4"}}`

func TestArgsMatchRecognitionProfile(t *testing.T) {
	exec := New(config.Default().Convert)
	args := strings.Join(exec.Args("in.mp3", "out.flac"), " ")
	for _, want := range []string{"-y", "-i in.mp3", "-ac 1", "-ar 16000", "-c:a flac", "out.flac"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in args %q", want, args)
		}
	}
}

func TestProduceWritesVerifiedOutput(t *testing.T) {
	tools := &fakeTools{probeJSON: validProbe}
	exec := newTestExecutor(tools)
	job := testJob(t)

	if err := exec.Produce(context.Background(), job); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	data, err := os.ReadFile(job.Output.Path)
	if err != nil || string(data) != "fLaC" {
		t.Fatalf("unexpected output %q %v", data, err)
	}
	if strings.Join(tools.calls, ",") != "ffmpeg,ffprobe" {
		t.Fatalf("unexpected tool calls %v", tools.calls)
	}
	entries, _ := os.ReadDir(filepath.Dir(job.Output.Path))
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestProduceRejectsWrongEncoding(t *testing.T) {
	tools := &fakeTools{probeJSON: `{"streams":[{"codec_type":"audio","codec_name":"flac","sample_rate":"44100","channels":2}]}`}
	exec := newTestExecutor(tools)
	job := testJob(t)

	err := exec.Produce(context.Background(), job)
	if !errors.Is(err, services.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
	if _, statErr := os.Stat(job.Output.Path); !os.IsNotExist(statErr) {
		t.Fatal("unverified output must not reach its final path")
	}
}

func TestProduceReportsFFmpegFailure(t *testing.T) {
	tools := &fakeTools{ffmpegErr: errors.New("exit status 1")}
	exec := newTestExecutor(tools)

	err := exec.Produce(context.Background(), testJob(t))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected ffmpeg output in error, got %v", err)
	}
}
