package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var knownStages = []string{"convert", "upload", "transcribe", "annotate"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateConvert(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateFeed(); err != nil {
		return err
	}
	return nil
}

// ValidateFeed reports whether ingestion has a feed to read.
func (c *Config) ValidateFeed() error {
	if strings.TrimSpace(c.Feed.URL) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("feed.url is required for ingestion. Set CASTINDEX_FEED_URL or edit %s (create with 'castindex config init')", defaultPath)
	}
	return nil
}

// ValidateBackends checks the combination of storage and recognition backends
// a pipeline run needs. Google recognition reads audio from gs:// URIs only.
func (c *Config) ValidateBackends() error {
	if c.Transcription.Backend == TranscriptionGoogle && c.Storage.Backend != StorageGCS && c.StageEnabled("transcribe") {
		return errors.New("transcription.backend google requires storage.backend gcs")
	}
	if c.Transcription.Backend == TranscriptionWhisperX && c.Storage.Backend != StorageLocal && c.StageEnabled("transcribe") {
		return errors.New("transcription.backend whisperx requires storage.backend local")
	}
	if c.StageEnabled("annotate") {
		return c.ValidateLLM()
	}
	return nil
}

// ValidateLLM reports whether the annotate stage can reach the model.
func (c *Config) ValidateLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key must be set to run the annotate stage (or set OPENROUTER_API_KEY)")
	}
	return nil
}

func (c *Config) validateConvert() error {
	if c.Convert.Channels < 1 || c.Convert.Channels > 8 {
		return errors.New("convert.channels must be between 1 and 8")
	}
	if c.Convert.SampleRate < 8000 || c.Convert.SampleRate > 48000 {
		return errors.New("convert.sample_rate must be between 8000 and 48000")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return errors.New("storage.local_dir must be set when storage.backend is local")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when storage.backend is gcs")
		}
		if c.Storage.EnsureBucket && c.Storage.Project == "" {
			return errors.New("storage.project must be set when storage.ensure_bucket is true")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (expected local or gcs)", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.Backend {
	case TranscriptionGoogle, TranscriptionWhisperX:
	default:
		return fmt.Errorf("transcription.backend: unsupported value %q (expected google or whisperx)", c.Transcription.Backend)
	}
	if err := ensurePositiveMap(map[string]int{
		"transcription.poll_interval":   c.Transcription.PollInterval,
		"transcription.timeout":         c.Transcription.Timeout,
		"feed.request_timeout":          c.Feed.RequestTimeout,
		"storage.upload_timeout":        c.Storage.UploadTimeout,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Transcription.Timeout < c.Transcription.PollInterval {
		return errors.New("transcription.timeout must be greater than or equal to transcription.poll_interval")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	for _, name := range c.Pipeline.Stages {
		if !slices.Contains(knownStages, name) {
			return fmt.Errorf("pipeline.stages: unknown stage %q (expected one of %s)", name, strings.Join(knownStages, ", "))
		}
	}
	return nil
}

func (c *Config) validateFeed() error {
	if c.Feed.Latest < 0 {
		return errors.New("feed.latest must be >= 0")
	}
	if c.Feed.BatchSize < 0 {
		return errors.New("feed.batch_size must be >= 0")
	}
	return nil
}

// StageEnabled reports whether the named stage is part of configured runs.
func (c *Config) StageEnabled(name string) bool {
	return len(c.Pipeline.Stages) == 0 || slices.Contains(c.Pipeline.Stages, name)
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
