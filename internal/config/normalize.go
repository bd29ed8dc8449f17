package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Normalize fills derived paths and defaults. Load calls it; callers that
// build a Config by hand call it before use.
func (c *Config) Normalize() error {
	return c.normalize()
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFeed()
	c.normalizeConvert()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	if err := c.normalizeTranscription(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeAnnotation()
	c.normalizePipeline()
	if err := c.normalizeAggregate(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	derived := []struct {
		key   string
		value *string
		name  string
	}{
		{"paths.episodes_dir", &c.Paths.EpisodesDir, "episodes"},
		{"paths.converted_dir", &c.Paths.ConvertedDir, "audio"},
		{"paths.transcripts_dir", &c.Paths.TranscriptsDir, "transcripts"},
		{"paths.annotations_dir", &c.Paths.AnnotationsDir, "tags"},
		{"paths.analysis_dir", &c.Paths.AnalysisDir, "analysis"},
		{"paths.log_dir", &c.Paths.LogDir, "logs"},
		{"paths.items_file", &c.Paths.ItemsFile, "episodes_metadata.json"},
		{"paths.ledger_file", &c.Paths.LedgerFile, "ledger.db"},
	}
	for _, entry := range derived {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = filepath.Join(c.Paths.DataDir, entry.name)
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeFeed() {
	c.Feed.URL = strings.TrimSpace(c.Feed.URL)
	if c.Feed.URL == "" {
		if value, ok := os.LookupEnv("CASTINDEX_FEED_URL"); ok {
			c.Feed.URL = strings.TrimSpace(value)
		}
	}
	c.Feed.UserAgent = strings.TrimSpace(c.Feed.UserAgent)
	if c.Feed.UserAgent == "" {
		c.Feed.UserAgent = defaultFeedUserAgent
	}
	if c.Feed.RequestTimeout <= 0 {
		c.Feed.RequestTimeout = defaultFeedRequestTimeout
	}
	if c.Feed.DownloadTimeout <= 0 {
		c.Feed.DownloadTimeout = defaultFeedDownloadTimeout
	}
	if c.Feed.DescriptionLimit <= 0 {
		c.Feed.DescriptionLimit = defaultDescriptionLimit
	}
	if c.Feed.BatchStart < 0 {
		c.Feed.BatchStart = 0
	}
}

func (c *Config) normalizeConvert() {
	c.Convert.FFmpegBinary = strings.TrimSpace(c.Convert.FFmpegBinary)
	if c.Convert.FFmpegBinary == "" {
		c.Convert.FFmpegBinary = defaultFFmpegBinary
	}
	c.Convert.FFprobeBinary = strings.TrimSpace(c.Convert.FFprobeBinary)
	if c.Convert.FFprobeBinary == "" {
		c.Convert.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	var err error
	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = filepath.Join(c.Paths.DataDir, "objects")
	}
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Project = strings.TrimSpace(c.Storage.Project)
	c.Storage.Location = strings.TrimSpace(c.Storage.Location)
	if c.Storage.Location == "" {
		c.Storage.Location = defaultStorageLocation
	}
	c.Storage.Prefix = strings.TrimLeft(strings.TrimSpace(c.Storage.Prefix), "/")
	if c.Storage.Prefix != "" && !strings.HasSuffix(c.Storage.Prefix, "/") {
		c.Storage.Prefix += "/"
	}
	c.Storage.CredentialsFile = strings.TrimSpace(c.Storage.CredentialsFile)
	if c.Storage.CredentialsFile == "" {
		if value, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			c.Storage.CredentialsFile = strings.TrimSpace(value)
		}
	}
	if c.Storage.CredentialsFile, err = expandPath(c.Storage.CredentialsFile); err != nil {
		return fmt.Errorf("storage.credentials_file: %w", err)
	}
	if c.Storage.UploadTimeout <= 0 {
		c.Storage.UploadTimeout = defaultUploadTimeout
	}
	return nil
}

func (c *Config) normalizeTranscription() error {
	c.Transcription.Backend = strings.ToLower(strings.TrimSpace(c.Transcription.Backend))
	if c.Transcription.Backend == "" {
		c.Transcription.Backend = TranscriptionGoogle
	}
	c.Transcription.LanguageCode = strings.TrimSpace(c.Transcription.LanguageCode)
	if c.Transcription.LanguageCode == "" {
		c.Transcription.LanguageCode = defaultLanguageCode
	}
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultRecognitionModel
	}
	c.Transcription.CredentialsFile = strings.TrimSpace(c.Transcription.CredentialsFile)
	if c.Transcription.CredentialsFile == "" {
		c.Transcription.CredentialsFile = c.Storage.CredentialsFile
	}
	var err error
	if c.Transcription.CredentialsFile, err = expandPath(c.Transcription.CredentialsFile); err != nil {
		return fmt.Errorf("transcription.credentials_file: %w", err)
	}
	c.Transcription.WhisperXModel = strings.TrimSpace(c.Transcription.WhisperXModel)
	if c.Transcription.WhisperXModel == "" {
		c.Transcription.WhisperXModel = defaultWhisperXModel
	}
	if strings.TrimSpace(c.Transcription.WhisperXWorkDir) == "" {
		c.Transcription.WhisperXWorkDir = filepath.Join(c.Paths.DataDir, "whisperx")
	}
	if c.Transcription.WhisperXWorkDir, err = expandPath(c.Transcription.WhisperXWorkDir); err != nil {
		return fmt.Errorf("transcription.whisperx_work_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeAnnotation() {
	if c.Annotation.TranscriptLimit <= 0 {
		c.Annotation.TranscriptLimit = defaultTranscriptLimit
	}
	if c.Annotation.RawLimit <= 0 {
		c.Annotation.RawLimit = defaultRawLimit
	}
	if c.Annotation.RateDelaySeconds < 0 {
		c.Annotation.RateDelaySeconds = 0
	}
}

func (c *Config) normalizePipeline() {
	stages := make([]string, 0, len(c.Pipeline.Stages))
	seen := make(map[string]struct{}, len(c.Pipeline.Stages))
	for _, name := range c.Pipeline.Stages {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		stages = append(stages, normalized)
	}
	c.Pipeline.Stages = stages
	if c.Pipeline.ItemDelaySeconds < 0 {
		c.Pipeline.ItemDelaySeconds = 0
	}
}

func (c *Config) normalizeAggregate() error {
	var err error
	if strings.TrimSpace(c.Aggregate.IndexPath) == "" {
		c.Aggregate.IndexPath = filepath.Join(c.Paths.AnalysisDir, "index.json")
	}
	if c.Aggregate.IndexPath, err = expandPath(c.Aggregate.IndexPath); err != nil {
		return fmt.Errorf("aggregate.index_path: %w", err)
	}
	if c.Aggregate.YAMLPath, err = expandPath(strings.TrimSpace(c.Aggregate.YAMLPath)); err != nil {
		return fmt.Errorf("aggregate.yaml_path: %w", err)
	}
	if c.Aggregate.TopTech <= 0 {
		c.Aggregate.TopTech = defaultTopTech
	}
	if c.Aggregate.TopBusiness <= 0 {
		c.Aggregate.TopBusiness = defaultTopBusiness
	}
	if c.Aggregate.TopTopics <= 0 {
		c.Aggregate.TopTopics = defaultTopTopics
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Schedule.Cron = strings.TrimSpace(c.Schedule.Cron)
	c.Schedule.Timezone = strings.TrimSpace(c.Schedule.Timezone)
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultScheduleTimezone
	}
}
