package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/pemistahl/lingua-go"

	"castindex/internal/config"
	"castindex/internal/services"
	"castindex/internal/textutil"
)

var episodeNumberPattern = regexp.MustCompile(`#(\d+)`)

// Episode is one entry of the podcast feed, newest first.
type Episode struct {
	Title         string
	EpisodeNumber string
	AudioURL      string
	PubDate       string
	Duration      string
	Description   string
	Language      string
}

// Client downloads and parses a podcast RSS feed.
type Client struct {
	httpClient       *http.Client
	userAgent        string
	descriptionLimit int
	detectLanguage   bool

	detectorOnce sync.Once
	detector     lingua.LanguageDetector
}

// NewClient builds a feed client from configuration.
func NewClient(cfg config.Feed) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:       &http.Client{Timeout: timeout},
		userAgent:        strings.TrimSpace(cfg.UserAgent),
		descriptionLimit: cfg.DescriptionLimit,
		detectLanguage:   cfg.DetectLanguage,
	}
}

// Fetch retrieves the feed at url and returns its episodes in feed order.
func (c *Client) Fetch(ctx context.Context, url string) ([]Episode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "feed", "build request", url, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "feed", "fetch", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		marker := services.ErrExternalTool
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "feed", "fetch", fmt.Sprintf("%s returned %s", url, resp.Status), nil)
	}
	return c.Parse(resp.Body)
}

// Parse decodes an RSS or Atom document.
func (c *Client) Parse(r io.Reader) ([]Episode, error) {
	parsed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, services.Wrap(services.ErrData, "feed", "parse", "", err)
	}
	episodes := make([]Episode, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		episodes = append(episodes, c.episode(item))
	}
	return episodes, nil
}

func (c *Client) episode(item *gofeed.Item) Episode {
	title := strings.TrimSpace(item.Title)
	ep := Episode{
		Title:    title,
		PubDate:  strings.TrimSpace(item.Published),
		AudioURL: audioURL(item),
	}
	if match := episodeNumberPattern.FindStringSubmatch(title); match != nil {
		ep.EpisodeNumber = match[1]
	}
	if item.ITunesExt != nil {
		ep.Duration = strings.TrimSpace(item.ITunesExt.Duration)
		if ep.EpisodeNumber == "" {
			ep.EpisodeNumber = strings.TrimSpace(item.ITunesExt.Episode)
		}
	}
	text := StripHTML(item.Description)
	if c.descriptionLimit > 0 {
		ep.Description = textutil.TruncateWithEllipsis(text, c.descriptionLimit)
	} else {
		ep.Description = text
	}
	if c.detectLanguage {
		ep.Language = c.language(title + "\n" + text)
	}
	return ep
}

func audioURL(item *gofeed.Item) string {
	for _, enclosure := range item.Enclosures {
		if enclosure == nil || strings.TrimSpace(enclosure.URL) == "" {
			continue
		}
		if enclosure.Type == "" || strings.HasPrefix(enclosure.Type, "audio/") {
			return strings.TrimSpace(enclosure.URL)
		}
	}
	return ""
}

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed.
func StripHTML(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// language returns the ISO 639-1 code of the detected language, or "" when
// detection is inconclusive.
func (c *Client) language(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	c.detectorOnce.Do(func() {
		c.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.Spanish, lingua.German, lingua.French, lingua.Portuguese, lingua.Italian).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	lang, ok := c.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
