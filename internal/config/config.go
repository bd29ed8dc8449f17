package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the on-disk layout for items, artifacts, and state.
type Paths struct {
	DataDir        string `toml:"data_dir"`
	EpisodesDir    string `toml:"episodes_dir"`
	ConvertedDir   string `toml:"converted_dir"`
	TranscriptsDir string `toml:"transcripts_dir"`
	AnnotationsDir string `toml:"annotations_dir"`
	AnalysisDir    string `toml:"analysis_dir"`
	LogDir         string `toml:"log_dir"`
	ItemsFile      string `toml:"items_file"`
	LedgerFile     string `toml:"ledger_file"`
}

// Feed contains podcast feed retrieval settings.
type Feed struct {
	URL              string `toml:"url"`
	UserAgent        string `toml:"user_agent"`
	RequestTimeout   int    `toml:"request_timeout"`
	DownloadTimeout  int    `toml:"download_timeout"`
	Latest           int    `toml:"latest"`
	BatchStart       int    `toml:"batch_start"`
	BatchSize        int    `toml:"batch_size"`
	DescriptionLimit int    `toml:"description_limit"`
	DetectLanguage   bool   `toml:"detect_language"`
}

// Convert contains audio normalization settings.
type Convert struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	Channels      int    `toml:"channels"`
	SampleRate    int    `toml:"sample_rate"`
}

// Storage selects the durable object store normalized audio is uploaded to.
type Storage struct {
	Backend         string `toml:"backend"`
	LocalDir        string `toml:"local_dir"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Project         string `toml:"project"`
	Location        string `toml:"location"`
	CredentialsFile string `toml:"credentials_file"`
	EnsureBucket    bool   `toml:"ensure_bucket"`
	UploadTimeout   int    `toml:"upload_timeout"`
}

// Transcription contains long-running recognition settings.
type Transcription struct {
	Backend              string `toml:"backend"`
	LanguageCode         string `toml:"language_code"`
	Model                string `toml:"model"`
	UseEnhanced          bool   `toml:"use_enhanced"`
	AutomaticPunctuation bool   `toml:"automatic_punctuation"`
	PollInterval         int    `toml:"poll_interval"`
	Timeout              int    `toml:"timeout"`
	CredentialsFile      string `toml:"credentials_file"`
	WhisperXModel        string `toml:"whisperx_model"`
	WhisperXCUDAEnabled  bool   `toml:"whisperx_cuda_enabled"`
	WhisperXWorkDir      string `toml:"whisperx_work_dir"`
}

// LLM contains generative model connection settings.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Annotation contains prompt shaping and rate limiting for the annotate stage.
type Annotation struct {
	TranscriptLimit  int `toml:"transcript_limit"`
	RawLimit         int `toml:"raw_limit"`
	RateDelaySeconds int `toml:"rate_delay_seconds"`
}

// Pipeline contains orchestrator behaviour.
type Pipeline struct {
	Stages             []string `toml:"stages"`
	ItemDelaySeconds   int      `toml:"item_delay_seconds"`
	IdentityResolution bool     `toml:"identity_resolution"`
}

// Aggregate contains index output and ranking limits.
type Aggregate struct {
	IndexPath   string `toml:"index_path"`
	YAMLPath    string `toml:"yaml_path"`
	TopTech     int    `toml:"top_tech"`
	TopBusiness int    `toml:"top_business"`
	TopTopics   int    `toml:"top_topics"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunSummary     bool   `toml:"run_summary"`
	Errors         bool   `toml:"errors"`
}

// Schedule contains the cron settings used by `castindex schedule`.
type Schedule struct {
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
	Ingest   bool   `toml:"ingest"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for castindex.
//
// Configuration sections by subsystem:
//   - Paths: data directory and per-stage artifact directories
//   - Feed: RSS source, ingestion window, and downloads
//   - Convert: ffmpeg normalization parameters
//   - Storage: object store receiving normalized audio
//   - Transcription: recognition backend and polling policy
//   - LLM: generative model connection
//   - Annotation: prompt truncation and rate limiting
//   - Pipeline: stage selection and pacing
//   - Aggregate: index outputs and ranking limits
//   - Notifications: ntfy settings
//   - Schedule: cron expression for unattended runs
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Feed          Feed          `toml:"feed"`
	Convert       Convert       `toml:"convert"`
	Storage       Storage       `toml:"storage"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Annotation    Annotation    `toml:"annotation"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Aggregate     Aggregate     `toml:"aggregate"`
	Notifications Notifications `toml:"notifications"`
	Schedule      Schedule      `toml:"schedule"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("castindex.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates every directory the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.EpisodesDir,
		c.Paths.ConvertedDir,
		c.Paths.TranscriptsDir,
		c.Paths.AnnotationsDir,
		c.Paths.AnalysisDir,
		c.Paths.LogDir,
	}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the advisory lock file guarding pipeline state.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "castindex.lock")
}

// PollInterval returns the transcription poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Transcription.PollInterval) * time.Second
}

// TranscriptionTimeout returns the ceiling for a single recognition job.
func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Transcription.Timeout) * time.Second
}

// RateDelay returns the pause enforced after every generative call.
func (c *Config) RateDelay() time.Duration {
	return time.Duration(c.Annotation.RateDelaySeconds) * time.Second
}

// ItemDelay returns the pause between items in a pipeline run.
func (c *Config) ItemDelay() time.Duration {
	return time.Duration(c.Pipeline.ItemDelaySeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EncodeRedacted renders the effective configuration as TOML with secrets
// masked.
func (c *Config) EncodeRedacted() ([]byte, error) {
	copyCfg := *c
	if copyCfg.LLM.APIKey != "" {
		copyCfg.LLM.APIKey = "********"
	}
	data, err := toml.Marshal(copyCfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
