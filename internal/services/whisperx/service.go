package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"castindex/internal/services"
	"castindex/internal/storage"
	"castindex/internal/transcription"
)

// Service runs WhisperX as a local recognition backend. A submitted job is a
// background uvx process writing JSON into its own directory under WorkDir;
// the directory path is the job handle.
type Service struct {
	cfg           Config
	commandRunner func(ctx context.Context, name string, args ...string) error

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	done chan struct{}
	err  error
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg, jobs: make(map[string]*job)}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.cfg.model()
}

// run executes a command, using the custom runner if set.
func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, tail(strings.TrimSpace(string(output)), 2048))
	}
	return nil
}

// Submit implements transcription.Recognizer. The audio must be a local file
// or a file:// URI from the local object store.
func (s *Service) Submit(_ context.Context, audioURI string, cfg transcription.RecognitionConfig) (string, error) {
	source := audioURI
	if path, ok := storage.PathFromURI(audioURI); ok {
		source = path
	}
	if strings.Contains(source, "://") {
		return "", services.Wrap(services.ErrConfiguration, "whisperx", "submit",
			fmt.Sprintf("audio %q is not local; use storage.backend local", audioURI), nil)
	}
	if _, err := os.Stat(source); err != nil {
		return "", services.Wrap(services.ErrNotFound, "whisperx", "submit", source, err)
	}
	if strings.TrimSpace(s.cfg.WorkDir) == "" {
		return "", services.Wrap(services.ErrConfiguration, "whisperx", "submit", "work dir not configured", nil)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	outputDir := filepath.Join(s.cfg.WorkDir, baseName)
	if err := os.RemoveAll(outputDir); err != nil {
		return "", services.Wrap(services.ErrSetup, "whisperx", "reset job dir", outputDir, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrSetup, "whisperx", "create job dir", outputDir, err)
	}

	args := s.buildArgs(source, outputDir, cfg.LanguageCode)
	running := &job{done: make(chan struct{})}
	s.mu.Lock()
	s.jobs[outputDir] = running
	s.mu.Unlock()

	go func() {
		defer close(running.done)
		running.err = s.run(context.Background(), UVXCommand, args...)
	}()
	return outputDir, nil
}

// Poll implements transcription.Recognizer. A handle with no output and no
// process in this service is reported as not found so the caller resubmits.
func (s *Service) Poll(_ context.Context, handle string) (transcription.PollResult, error) {
	s.mu.Lock()
	running, tracked := s.jobs[handle]
	s.mu.Unlock()

	if tracked {
		select {
		case <-running.done:
			s.mu.Lock()
			delete(s.jobs, handle)
			s.mu.Unlock()
			if running.err != nil {
				return transcription.PollResult{}, services.Wrap(services.ErrExternalTool, "whisperx", "transcribe", "", running.err)
			}
		default:
			return transcription.PollResult{}, nil
		}
	}

	jsonPath, err := findOutput(handle)
	if err != nil {
		return transcription.PollResult{}, services.Wrap(services.ErrSetup, "whisperx", "scan output", handle, err)
	}
	if jsonPath == "" {
		if tracked {
			return transcription.PollResult{}, services.Wrap(services.ErrExternalTool, "whisperx", "transcribe", "finished without JSON output", nil)
		}
		return transcription.PollResult{}, services.Wrap(services.ErrNotFound, "whisperx", "poll", "job "+handle+" is not running", nil)
	}
	segments, err := LoadSegments(jsonPath)
	if err != nil {
		return transcription.PollResult{}, services.Wrap(services.ErrData, "whisperx", "parse output", jsonPath, err)
	}
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			texts = append(texts, text)
		}
	}
	return transcription.PollResult{Done: true, Progress: 100, Segments: texts}, nil
}

// Check reports whether the uvx launcher is installed.
func (s *Service) Check(context.Context) error {
	if s.commandRunner != nil {
		return nil
	}
	if _, err := exec.LookPath(UVXCommand); err != nil {
		return fmt.Errorf("binary %q not found", UVXCommand)
	}
	return nil
}

func findOutput(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return "", err
	}
	for _, match := range matches {
		if info, statErr := os.Stat(match); statErr == nil && info.Size() > 0 {
			return match, nil
		}
	}
	return "", nil
}

// buildArgs constructs the uvx command line for one job.
func (s *Service) buildArgs(source, outputDir, language string) []string {
	args := append(s.cfg.indexArgs(), "whisperx", source, "--model", s.cfg.model(), "--output_dir", outputDir)
	for _, flag := range decodeFlags {
		args = append(args, flag[0], flag[1])
	}
	args = append(args, s.cfg.vadArgs()...)
	if lang := languageISO2(language); lang != "" {
		args = append(args, "--language", lang)
	}
	return append(args, s.cfg.deviceArgs()...)
}

// languageISO2 reduces a BCP-47 tag such as "en-US" to its language subtag.
func languageISO2(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if idx := strings.IndexAny(code, "-_"); idx >= 0 {
		code = code[:idx]
	}
	if len(code) != 2 {
		return ""
	}
	return code
}

func tail(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[len(value)-limit:]
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperXPayload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	if payload.Segments == nil {
		return nil, errors.New("parse whisperx json: no segments field")
	}
	return payload.Segments, nil
}
