package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"castindex/internal/config"
	"castindex/internal/feed"
	"castindex/internal/fileutil"
	"castindex/internal/itemstore"
	"castindex/internal/logging"
	"castindex/internal/notifications"
	"castindex/internal/services"
)

// Mode selects which slice of the feed is ingested.
type Mode string

const (
	// ModeLatest takes the newest Latest episodes.
	ModeLatest Mode = "latest"
	// ModeBatch takes Size episodes starting at feed position Start.
	ModeBatch Mode = "batch"
)

// Source fetches feed episodes, newest first.
type Source interface {
	Fetch(ctx context.Context, url string) ([]feed.Episode, error)
}

// Options selects episodes for one ingest.
type Options struct {
	Mode   Mode
	Latest int
	Start  int
	Size   int
	// SkipDownload records metadata without fetching audio.
	SkipDownload bool
}

// Failure is one episode that could not be downloaded.
type Failure struct {
	ItemID string
	Err    error
}

// Result summarizes an ingest.
type Result struct {
	Found      int
	Selected   int
	Added      int
	Updated    int
	Downloaded int
	Existing   int
	Bytes      int64
	Failures   []Failure
}

// Service pulls the feed into the item store and downloads raw audio.
type Service struct {
	cfg      *config.Config
	source   Source
	items    *itemstore.Store
	client   *http.Client
	notifier notifications.Service
	logger   *slog.Logger
}

// New builds an ingest service.
func New(cfg *config.Config, source Source, items *itemstore.Store, notifier notifications.Service, logger *slog.Logger) *Service {
	timeout := time.Duration(cfg.Feed.DownloadTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:      cfg,
		source:   source,
		items:    items,
		client:   &http.Client{Timeout: timeout},
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "ingest"),
	}
}

// Select returns the feed window for opts together with each episode's
// feed position.
func Select(episodes []feed.Episode, opts Options) ([]feed.Episode, int) {
	switch opts.Mode {
	case ModeBatch:
		start := opts.Start
		if start < 0 {
			start = 0
		}
		if start >= len(episodes) {
			return nil, start
		}
		end := len(episodes)
		if opts.Size > 0 && start+opts.Size < end {
			end = start + opts.Size
		}
		return episodes[start:end], start
	default:
		n := opts.Latest
		if n <= 0 || n > len(episodes) {
			n = len(episodes)
		}
		return episodes[:n], 0
	}
}

// ToItem converts a feed episode at feed position into an item.
func ToItem(ep feed.Episode, position int) itemstore.Item {
	item := itemstore.Item{
		ID:            itemstore.DeriveID(ep.EpisodeNumber, position),
		EpisodeNumber: ep.EpisodeNumber,
		Title:         ep.Title,
		SourceURL:     ep.AudioURL,
		PubDate:       ep.PubDate,
		Duration:      ep.Duration,
		Description:   ep.Description,
		Language:      ep.Language,
	}
	item.ArtifactStem = itemstore.DeriveStem(item.ID, item.Title)
	return item
}

// Run fetches the feed, downloads the selected episodes, and merges them into
// the item store. Individual download failures are reported in the result
// and do not stop the ingest.
func (s *Service) Run(ctx context.Context, opts Options) (Result, error) {
	var result Result
	if err := s.cfg.ValidateFeed(); err != nil {
		return result, services.Wrap(services.ErrConfiguration, "ingest", "validate", "", err)
	}
	episodes, err := s.source.Fetch(ctx, s.cfg.Feed.URL)
	if err != nil {
		return result, err
	}
	result.Found = len(episodes)
	selected, offset := Select(episodes, opts)
	result.Selected = len(selected)
	s.logger.Info("feed fetched",
		logging.String("url", s.cfg.Feed.URL),
		logging.Int("episodes", len(episodes)),
		logging.Int("selected", len(selected)),
		logging.String("mode", string(opts.Mode)),
	)

	items := make([]itemstore.Item, 0, len(selected))
	for i, ep := range selected {
		if err := ctx.Err(); err != nil {
			break
		}
		item := ToItem(ep, offset+i)
		if !opts.SkipDownload {
			path, n, fresh, err := s.download(ctx, item)
			if err != nil {
				result.Failures = append(result.Failures, Failure{ItemID: item.ID, Err: err})
				logging.WarnWithContext(s.logger, "episode download failed", "ingest_download_failed",
					logging.String(logging.FieldItemID, item.ID),
					logging.String("title", item.DisplayTitle()),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "rerun ingest to retry the download"),
					logging.String(logging.FieldImpact, "item is recorded without raw audio"),
				)
			} else {
				item.LocalPath = path
				if fresh {
					result.Downloaded++
					result.Bytes += n
				} else {
					result.Existing++
				}
			}
		}
		items = append(items, item)
	}

	result.Added, result.Updated = s.items.Merge(items)
	if err := s.items.Save(); err != nil {
		return result, services.Wrap(services.ErrSetup, "ingest", "save items", s.items.Path(), err)
	}
	s.logger.Info("ingest complete",
		logging.String(logging.FieldEventType, "ingest_summary"),
		logging.Int("added", result.Added),
		logging.Int("updated", result.Updated),
		logging.Int("downloaded", result.Downloaded),
		logging.Int("existing", result.Existing),
		logging.Int("failed", len(result.Failures)),
		logging.String("bytes", humanize.Bytes(uint64(result.Bytes))),
		logging.Int("total_items", s.items.Len()),
	)
	if err := s.notifier.Publish(context.WithoutCancel(ctx), notifications.EventIngestCompleted, notifications.Payload{
		"added":      result.Added,
		"downloaded": result.Downloaded,
	}); err != nil {
		s.logger.Debug("ingest notification failed", logging.Error(err))
	}
	return result, ctx.Err()
}

// download stores the episode audio under the episodes directory. An existing
// non-empty file is kept as is.
func (s *Service) download(ctx context.Context, item itemstore.Item) (string, int64, bool, error) {
	path := filepath.Join(s.cfg.Paths.EpisodesDir, item.RawFileName())
	if ok, err := fileutil.NonEmptyFile(path); err != nil {
		return "", 0, false, services.Wrap(services.ErrSetup, "ingest", "stat", path, err)
	} else if ok {
		s.logger.Info("episode already downloaded",
			logging.String(logging.FieldEventType, "ingest_download"),
			logging.String(logging.FieldItemID, item.ID),
			logging.String("path", path),
			logging.String("result", "exists"),
		)
		return path, 0, false, nil
	}
	if item.SourceURL == "" {
		return "", 0, false, services.Wrap(services.ErrData, "ingest", "download", "episode has no audio enclosure", nil)
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.SourceURL, nil)
	if err != nil {
		return "", 0, false, services.Wrap(services.ErrData, "ingest", "download", item.SourceURL, err)
	}
	if ua := s.cfg.Feed.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, false, services.Wrap(services.ErrTransient, "ingest", "download", item.SourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, false, services.Wrap(services.ErrTransient, "ingest", "download", fmt.Sprintf("%s returned %s", item.SourceURL, resp.Status), nil)
	}
	n, err := fileutil.WriteStreamAtomic(path, resp.Body, 0o644)
	if err != nil {
		return "", 0, false, services.Wrap(services.ErrTransient, "ingest", "download", path, err)
	}
	if n == 0 {
		_ = removeEmpty(path)
		return "", 0, false, services.Wrap(services.ErrData, "ingest", "download", "empty response body", errors.New(item.SourceURL))
	}
	s.logger.Info("episode downloaded",
		logging.String(logging.FieldEventType, "ingest_download"),
		logging.String(logging.FieldItemID, item.ID),
		logging.String("path", path),
		logging.String("size", humanize.Bytes(uint64(n))),
		logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)),
		logging.String("result", "downloaded"),
	)
	return path, n, true, nil
}
