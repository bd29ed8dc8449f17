package annotation

import (
	"fmt"
	"strings"

	"castindex/internal/textutil"
)

// DefaultTranscriptLimit is the number of transcript runes sent to the model.
const DefaultTranscriptLimit = 10000

// DefaultRawLimit caps the raw response kept in a parse-failure annotation.
const DefaultRawLimit = 500

const promptTemplate = `Analyze this podcast episode transcript and extract:

1. Technology Tags (5-10 specific technologies, frameworks, or tools mentioned)
2. Business Tags (3-5 business concepts, strategies, or themes)
3. Key Topics (3-5 main discussion topics)
4. Guest Info (name, role, company if mentioned)
5. One-line Summary (25 words max)

Episode Title: %s

Transcript (first %d characters):
%s

Respond in valid JSON only (no markdown):
{
    "tech_tags": ["tag1", "tag2"],
    "business_tags": ["tag1", "tag2"],
    "key_topics": ["topic1", "topic2"],
    "guest": {"name": "...", "role": "...", "company": "..."},
    "summary": "..."
}
`

// BuildPrompt renders the annotation prompt for title using at most limit
// runes of transcript.
func BuildPrompt(title, transcript string, limit int) string {
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(title), limit, textutil.Truncate(transcript, limit))
}
