package aggregate

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"castindex/internal/annotation"
)

// Limits caps each ranked category.
type Limits struct {
	Tech     int
	Business int
	Topics   int
}

// DefaultLimits returns the standard top-N sizes.
func DefaultLimits() Limits {
	return Limits{Tech: 25, Business: 20, Topics: 20}
}

// Count is one ranked tag and the number of occurrences across items.
type Count struct {
	Tag   string `json:"tag" yaml:"tag"`
	Count int    `json:"count" yaml:"count"`
}

// ItemSummary is the per-item slice of the index.
type ItemSummary struct {
	ItemID   string            `json:"item_id" yaml:"item_id"`
	Summary  string            `json:"summary" yaml:"summary"`
	Guest    *annotation.Guest `json:"guest,omitempty" yaml:"guest,omitempty"`
	TechTags []string          `json:"tech_tags" yaml:"tech_tags"`
}

// Skip records an annotation left out of the counts.
type Skip struct {
	ItemID string `json:"item_id" yaml:"item_id"`
	Reason string `json:"reason" yaml:"reason"`
}

// Index is the ranked cross-item view rebuilt from every annotation on each run.
type Index struct {
	GeneratedAt        string        `json:"generated_at" yaml:"generated_at"`
	ItemsAnalyzed      int           `json:"items_analyzed" yaml:"items_analyzed"`
	RankedTechTags     []Count       `json:"ranked_tech_tags" yaml:"ranked_tech_tags"`
	RankedBusinessTags []Count       `json:"ranked_business_tags" yaml:"ranked_business_tags"`
	RankedTopics       []Count       `json:"ranked_topics" yaml:"ranked_topics"`
	PerItemSummaries   []ItemSummary `json:"per_item_summaries" yaml:"per_item_summaries"`
	Skipped            []Skip        `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Build ranks tags across annotations. Tags are keyed by their case-folded
// text and counted per occurrence. Each category is sorted by count
// descending; equal counts keep the order in which the key was first seen
// while walking annotations in the given order. Error annotations are listed
// in Skipped and contribute nothing else.
func Build(annotations []annotation.Annotation, now time.Time, limits Limits) Index {
	if limits.Tech <= 0 || limits.Business <= 0 || limits.Topics <= 0 {
		defaults := DefaultLimits()
		if limits.Tech <= 0 {
			limits.Tech = defaults.Tech
		}
		if limits.Business <= 0 {
			limits.Business = defaults.Business
		}
		if limits.Topics <= 0 {
			limits.Topics = defaults.Topics
		}
	}

	tech := newTally()
	business := newTally()
	topics := newTally()
	index := Index{
		GeneratedAt:      now.UTC().Format(time.RFC3339),
		PerItemSummaries: []ItemSummary{},
	}

	for _, ann := range annotations {
		if ann.IsError() {
			index.Skipped = append(index.Skipped, Skip{ItemID: ann.ItemID, Reason: ann.Error})
			continue
		}
		tech.addAll(ann.TechTags)
		business.addAll(ann.BusinessTags)
		topics.addAll(ann.KeyTopics)

		tags := ann.TechTags
		if tags == nil {
			tags = []string{}
		}
		index.PerItemSummaries = append(index.PerItemSummaries, ItemSummary{
			ItemID:   ann.ItemID,
			Summary:  ann.Summary,
			Guest:    ann.Guest,
			TechTags: tags,
		})
	}

	index.ItemsAnalyzed = len(index.PerItemSummaries)
	index.RankedTechTags = tech.ranked(limits.Tech)
	index.RankedBusinessTags = business.ranked(limits.Business)
	index.RankedTopics = topics.ranked(limits.Topics)
	return index
}

// TopTags returns up to n tag names from a ranked list.
func TopTags(counts []Count, n int) []string {
	if n > len(counts) {
		n = len(counts)
	}
	out := make([]string, 0, n)
	for _, c := range counts[:n] {
		out = append(out, c.Tag)
	}
	return out
}

// tally counts tags under their case-folded key and displays each key with
// the spelling it was first seen in.
type tally struct {
	fold    cases.Caser
	counts  map[string]int
	display map[string]string
	order   []string
}

func newTally() *tally {
	return &tally{fold: cases.Fold(), counts: make(map[string]int), display: make(map[string]string)}
}

func (t *tally) addAll(tags []string) {
	for _, tag := range tags {
		spelling := strings.Join(strings.Fields(tag), " ")
		key := t.fold.String(spelling)
		if key == "" {
			continue
		}
		if _, seen := t.counts[key]; !seen {
			t.order = append(t.order, key)
			t.display[key] = spelling
		}
		t.counts[key]++
	}
}

func (t *tally) ranked(limit int) []Count {
	out := make([]Count, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, Count{Tag: t.display[key], Count: t.counts[key]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
