package itemstore

import (
	"fmt"
	"path/filepath"
	"strings"

	"castindex/internal/textutil"
)

// Item is one unit of source media and its metadata. Field names follow the
// episodes metadata file so existing files load unchanged.
type Item struct {
	ID            string `json:"id"`
	EpisodeNumber string `json:"episode_number,omitempty"`
	Title         string `json:"title"`
	SourceURL     string `json:"audio_url,omitempty"`
	PubDate       string `json:"pub_date,omitempty"`
	Duration      string `json:"duration,omitempty"`
	Description   string `json:"description,omitempty"`
	Language      string `json:"language,omitempty"`
	// ArtifactStem names every artifact produced for the item. It always
	// starts with the item ID.
	ArtifactStem  string `json:"artifact_stem,omitempty"`
	LocalPath     string `json:"local_file,omitempty"`
	SequenceIndex int    `json:"-"`
}

// DeriveID returns the stable identifier for an episode: the feed episode
// number when known, otherwise the zero-padded feed position.
func DeriveID(episodeNumber string, position int) string {
	if num := strings.TrimSpace(episodeNumber); num != "" {
		return "ep" + num
	}
	return fmt.Sprintf("ep%03d", position)
}

// DeriveStem builds the artifact stem from an item ID and title.
func DeriveStem(id, title string) string {
	clean := textutil.CleanFileName(title)
	if clean == "" {
		return id
	}
	return id + "-" + clean
}

// Stem returns the artifact stem, deriving it when the store entry predates
// the field.
func (i Item) Stem() string {
	if stem := strings.TrimSpace(i.ArtifactStem); stem != "" {
		return stem
	}
	return DeriveStem(i.ID, i.Title)
}

// RawFileName is the name the raw download is stored under.
func (i Item) RawFileName() string {
	return i.Stem() + ".mp3"
}

// HasLocalFile reports whether a raw artifact path has been recorded.
func (i Item) HasLocalFile() bool {
	return strings.TrimSpace(i.LocalPath) != ""
}

// DisplayTitle shortens the title for progress lines.
func (i Item) DisplayTitle() string {
	title := strings.TrimSpace(i.Title)
	if title == "" {
		title = "Unknown"
	}
	return textutil.TruncateWithEllipsis(title, 60)
}

// LocalBase returns the base name of the recorded raw file.
func (i Item) LocalBase() string {
	if !i.HasLocalFile() {
		return ""
	}
	return filepath.Base(i.LocalPath)
}
