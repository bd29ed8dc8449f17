package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseFailure is the error text stored in an annotation whose model response
// could not be decoded.
const ParseFailure = "failed to parse response"

// Guest describes the interviewee named in an episode, when there is one.
type Guest struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Role    string `json:"role,omitempty" yaml:"role,omitempty"`
	Company string `json:"company,omitempty" yaml:"company,omitempty"`
}

// Empty reports whether no guest field is set.
func (g Guest) Empty() bool {
	return g.Name == "" && g.Role == "" && g.Company == ""
}

// Annotation is the structured result stored per item by the annotate stage.
// When Error is set the remaining content fields are empty and Raw holds the
// start of the unparseable response.
type Annotation struct {
	ItemID       string   `json:"item_id"`
	Title        string   `json:"title,omitempty"`
	TechTags     []string `json:"tech_tags,omitempty"`
	BusinessTags []string `json:"business_tags,omitempty"`
	KeyTopics    []string `json:"key_topics,omitempty"`
	Guest        *Guest   `json:"guest,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Error        string   `json:"error,omitempty"`
	Raw          string   `json:"raw,omitempty"`
}

// IsError reports whether the annotation is the parse-failure variant.
func (a Annotation) IsError() bool {
	return strings.TrimSpace(a.Error) != ""
}

// Encode renders the annotation as indented JSON with a trailing newline.
func (a Annotation) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses a stored annotation artifact. Artifacts written by hand or by
// older runs may lack item_id; callers fill it from the artifact name.
func Decode(data []byte) (Annotation, error) {
	var ann Annotation
	if len(bytes.TrimSpace(data)) == 0 {
		return ann, errors.New("empty annotation")
	}
	if err := json.Unmarshal(data, &ann); err != nil {
		return ann, fmt.Errorf("decode annotation: %w", err)
	}
	return ann, nil
}

// response is the shape requested from the model. Lists and the guest are
// decoded leniently since models drift from the requested schema.
type response struct {
	TechTags     stringList      `json:"tech_tags"`
	BusinessTags stringList      `json:"business_tags"`
	KeyTopics    stringList      `json:"key_topics"`
	Guest        json.RawMessage `json:"guest"`
	Summary      string          `json:"summary"`
}

type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if trimmed[0] == '"' {
		var single string
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return err
		}
		*l = stringList{single}
		return nil
	}
	var values []any
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return err
	}
	out := make(stringList, 0, len(values))
	for _, value := range values {
		switch v := value.(type) {
		case string:
			out = append(out, v)
		case float64, bool:
			out = append(out, fmt.Sprint(v))
		}
	}
	*l = out
	return nil
}

func parseGuest(raw json.RawMessage) *Guest {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var guest Guest
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &guest.Name); err != nil {
			return nil
		}
	} else if err := json.Unmarshal(trimmed, &guest); err != nil {
		return nil
	}
	guest = Guest{
		Name:    cleanField(guest.Name),
		Role:    cleanField(guest.Role),
		Company: cleanField(guest.Company),
	}
	if guest.Empty() {
		return nil
	}
	return &guest
}

// cleanField trims a value and drops common placeholders for unknowns.
func cleanField(value string) string {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "...", "n/a", "na", "none", "unknown", "null":
		return ""
	}
	return value
}

// dedupe trims each entry and removes empties and exact duplicates, keeping
// the first occurrence.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.Join(strings.Fields(value), " ")
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
