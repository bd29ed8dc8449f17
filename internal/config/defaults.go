package config

const (
	defaultConfigPath          = "~/.config/castindex/config.toml"
	defaultDataDir             = "~/.local/share/castindex"
	defaultFeedUserAgent       = "castindex/dev"
	defaultFeedRequestTimeout  = 30
	defaultFeedDownloadTimeout = 600
	defaultFeedLatest          = 20
	defaultFeedBatchStart      = 20
	defaultFeedBatchSize       = 40
	defaultDescriptionLimit    = 500
	defaultFFmpegBinary        = "ffmpeg"
	defaultFFprobeBinary       = "ffprobe"
	defaultChannels            = 1
	defaultSampleRate          = 16000
	defaultStoragePrefix       = "audio/"
	defaultStorageLocation     = "us-east1"
	defaultUploadTimeout       = 600
	defaultLanguageCode        = "en-US"
	defaultRecognitionModel    = "latest_long"
	defaultPollInterval        = 10
	defaultTranscribeTimeout   = 1800
	defaultWhisperXModel       = "large-v3-turbo"
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel            = "google/gemini-2.0-flash-001"
	defaultLLMReferer          = "https://github.com/castindex/castindex"
	defaultLLMTitle            = "castindex annotator"
	defaultLLMTimeoutSeconds   = 60
	defaultTranscriptLimit     = 10000
	defaultRawLimit            = 500
	defaultRateDelaySeconds    = 2
	defaultItemDelaySeconds    = 1
	defaultTopTech             = 25
	defaultTopBusiness         = 20
	defaultTopTopics           = 20
	defaultScheduleCron        = "0 6 * * *"
	defaultScheduleTimezone    = "Local"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Transcription backends.
const (
	TranscriptionGoogle   = "google"
	TranscriptionWhisperX = "whisperx"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Feed: Feed{
			UserAgent:        defaultFeedUserAgent,
			RequestTimeout:   defaultFeedRequestTimeout,
			DownloadTimeout:  defaultFeedDownloadTimeout,
			Latest:           defaultFeedLatest,
			BatchStart:       defaultFeedBatchStart,
			BatchSize:        defaultFeedBatchSize,
			DescriptionLimit: defaultDescriptionLimit,
			DetectLanguage:   true,
		},
		Convert: Convert{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			Channels:      defaultChannels,
			SampleRate:    defaultSampleRate,
		},
		Storage: Storage{
			Backend:       StorageLocal,
			Prefix:        defaultStoragePrefix,
			Location:      defaultStorageLocation,
			UploadTimeout: defaultUploadTimeout,
		},
		Transcription: Transcription{
			Backend:              TranscriptionGoogle,
			LanguageCode:         defaultLanguageCode,
			Model:                defaultRecognitionModel,
			UseEnhanced:          true,
			AutomaticPunctuation: true,
			PollInterval:         defaultPollInterval,
			Timeout:              defaultTranscribeTimeout,
			WhisperXModel:        defaultWhisperXModel,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Annotation: Annotation{
			TranscriptLimit:  defaultTranscriptLimit,
			RawLimit:         defaultRawLimit,
			RateDelaySeconds: defaultRateDelaySeconds,
		},
		Pipeline: Pipeline{
			ItemDelaySeconds: defaultItemDelaySeconds,
		},
		Aggregate: Aggregate{
			TopTech:     defaultTopTech,
			TopBusiness: defaultTopBusiness,
			TopTopics:   defaultTopTopics,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			RunSummary:     true,
			Errors:         true,
		},
		Schedule: Schedule{
			Cron:     defaultScheduleCron,
			Timezone: defaultScheduleTimezone,
			Ingest:   true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
