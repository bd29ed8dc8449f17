package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"castindex/internal/annotation"
	"castindex/internal/artifacts"
	"castindex/internal/config"
	"castindex/internal/convert"
	"castindex/internal/identity"
	"castindex/internal/itemstore"
	"castindex/internal/ledger"
	"castindex/internal/logging"
	"castindex/internal/notifications"
	"castindex/internal/pipeline"
	"castindex/internal/services/llm"
	"castindex/internal/services/speech"
	"castindex/internal/services/whisperx"
	"castindex/internal/stage"
	"castindex/internal/storage"
	"castindex/internal/transcription"
	"castindex/internal/upload"
)

// components holds everything a pipeline run needs. Close releases the
// network clients.
type components struct {
	store     storage.ObjectStore
	cache     *artifacts.Cache
	executors []stage.Executor
	closers   []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openObjectStore selects the durable storage backend.
func openObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, func() error, error) {
	switch cfg.Storage.Backend {
	case config.StorageGCS:
		gcs, err := storage.NewGCS(ctx, storage.GCSConfig{
			Bucket:          cfg.Storage.Bucket,
			Project:         cfg.Storage.Project,
			Location:        cfg.Storage.Location,
			CredentialsFile: cfg.Storage.CredentialsFile,
			UploadTimeout:   time.Duration(cfg.Storage.UploadTimeout) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.EnsureBucket {
			created, err := gcs.EnsureBucket(ctx, cfg.Storage.Project, cfg.Storage.Location)
			if err != nil {
				_ = gcs.Close()
				return nil, nil, err
			}
			if created {
				logger.Info("created storage bucket", logging.String("bucket", cfg.Storage.Bucket))
			}
		}
		return gcs, gcs.Close, nil
	default:
		return storage.NewLocal(cfg.Storage.LocalDir), func() error { return nil }, nil
	}
}

// openRecognizer selects the transcription backend.
func openRecognizer(ctx context.Context, cfg *config.Config) (transcription.Recognizer, func() error, error) {
	switch cfg.Transcription.Backend {
	case config.TranscriptionWhisperX:
		svc := whisperx.NewService(whisperx.Config{
			Model:       cfg.Transcription.WhisperXModel,
			CUDAEnabled: cfg.Transcription.WhisperXCUDAEnabled,
			WorkDir:     cfg.Transcription.WhisperXWorkDir,
		})
		return svc, func() error { return nil }, nil
	default:
		client, err := speech.New(ctx, speech.Config{CredentialsFile: cfg.Transcription.CredentialsFile})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}

func newCache(cfg *config.Config, store storage.ObjectStore) *artifacts.Cache {
	return artifacts.New(artifacts.Layout{
		EpisodesDir:    cfg.Paths.EpisodesDir,
		ConvertedDir:   cfg.Paths.ConvertedDir,
		TranscriptsDir: cfg.Paths.TranscriptsDir,
		AnnotationsDir: cfg.Paths.AnnotationsDir,
		KeyPrefix:      cfg.Storage.Prefix,
	}, store)
}

func newLLMClient(cfg *config.Config) *llm.Client {
	return llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
}

func recognitionConfig(cfg *config.Config) transcription.RecognitionConfig {
	return transcription.RecognitionConfig{
		Encoding:             "FLAC",
		SampleRateHz:         cfg.Convert.SampleRate,
		Channels:             cfg.Convert.Channels,
		LanguageCode:         cfg.Transcription.LanguageCode,
		Model:                cfg.Transcription.Model,
		AutomaticPunctuation: cfg.Transcription.AutomaticPunctuation,
		UseEnhanced:          cfg.Transcription.UseEnhanced,
	}
}

// buildComponents constructs the executors for the enabled stages only, so a
// convert-only run never needs cloud credentials.
func buildComponents(ctx context.Context, cfg *config.Config, ledgerStore *ledger.Store, stages []stage.Name, logger *slog.Logger) (*components, error) {
	comp := &components{}
	enabled := make(map[stage.Name]bool, len(stages))
	for _, name := range stages {
		enabled[name] = true
	}

	store, closeStore, err := openObjectStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	comp.store = store
	comp.closers = append(comp.closers, closeStore)
	comp.cache = newCache(cfg, store)

	if enabled[stage.Convert] {
		comp.executors = append(comp.executors, convert.New(cfg.Convert))
	}
	if enabled[stage.Upload] {
		comp.executors = append(comp.executors, upload.New(store, time.Duration(cfg.Storage.UploadTimeout)*time.Second))
	}
	if enabled[stage.Transcribe] {
		recognizer, closeRecognizer, err := openRecognizer(ctx, cfg)
		if err != nil {
			_ = comp.Close()
			return nil, err
		}
		comp.closers = append(comp.closers, closeRecognizer)
		comp.executors = append(comp.executors, transcription.New(recognizer, ledgerStore, recognitionConfig(cfg),
			transcription.Policy{Interval: cfg.PollInterval(), Ceiling: cfg.TranscriptionTimeout()}))
	}
	if enabled[stage.Annotate] {
		comp.executors = append(comp.executors, annotation.New(newLLMClient(cfg), annotation.Settings{
			TranscriptLimit: cfg.Annotation.TranscriptLimit,
			RawLimit:        cfg.Annotation.RawLimit,
			RateDelay:       cfg.RateDelay(),
		}))
	}
	return comp, nil
}

// selectStages resolves the configured stage list, narrowed by --until and
// --stages.
func selectStages(cfg *config.Config, until string, only []string) ([]stage.Name, error) {
	var selected []stage.Name
	for _, name := range stage.Order() {
		if cfg.StageEnabled(string(name)) {
			selected = append(selected, name)
		}
	}
	if len(only) > 0 {
		wanted := make(map[stage.Name]bool, len(only))
		for _, raw := range only {
			for _, part := range strings.Split(raw, ",") {
				part = strings.ToLower(strings.TrimSpace(part))
				if part == "" {
					continue
				}
				name, err := stage.Parse(part)
				if err != nil {
					return nil, err
				}
				wanted[name] = true
			}
		}
		filtered := selected[:0]
		for _, name := range selected {
			if wanted[name] {
				filtered = append(filtered, name)
			}
		}
		selected = filtered
	}
	if until = strings.ToLower(strings.TrimSpace(until)); until != "" {
		limit, err := stage.Parse(until)
		if err != nil {
			return nil, err
		}
		var capped []stage.Name
		for _, name := range selected {
			capped = append(capped, name)
			if name == limit {
				break
			}
		}
		selected = capped
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no stages selected")
	}
	return selected, nil
}

// newOrchestrator wires a pipeline run over the stores and components.
func newOrchestrator(cfg *config.Config, items *itemstore.Store, ledgerStore *ledger.Store, comp *components, stages []stage.Name, logger *slog.Logger) *pipeline.Orchestrator {
	var resolver pipeline.Resolver
	if cfg.Pipeline.IdentityResolution {
		resolver = identity.New(cfg.Paths.EpisodesDir, logger)
	}
	return pipeline.New(pipeline.Options{
		Config:    cfg,
		Items:     items,
		Ledger:    ledgerStore,
		Cache:     comp.cache,
		Executors: comp.executors,
		Stages:    stages,
		Resolver:  resolver,
		Notifier:  notifications.NewService(cfg),
		Logger:    logger,
	})
}
