package tagparser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	thoughtTagPattern = regexp.MustCompile(`(?is)<thought\b([^>]*)>(.*?)</thought>`)
	attrPattern       = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*?)"`)
)

// StructuredThought is one parsed `<thought ...>content</thought>` element.
type StructuredThought struct {
	ThoughtID  string
	Category   string
	Confidence float64
	Content    string
}

// ParseStructuredThoughts parses XML-attribute style thought tags out of
// text, as emitted by reflection cycles. Tags with empty content are
// skipped. Missing attributes fall back to defaultCategory/defaultConfidence;
// an unparsable confidence value also falls back to defaultConfidence.
// Confidence is clamped to [0, 1].
func ParseStructuredThoughts(text, defaultCategory string, defaultConfidence float64) []StructuredThought {
	var out []StructuredThought
	for _, match := range thoughtTagPattern.FindAllStringSubmatch(text, -1) {
		attrsRaw := match[1]
		content := strings.TrimSpace(match[2])
		if content == "" {
			continue
		}

		attrs := map[string]string{}
		for _, am := range attrPattern.FindAllStringSubmatch(attrsRaw, -1) {
			attrs[strings.ToLower(am[1])] = am[2]
		}

		id := attrs["id"]
		if id == "" {
			id = uuid.NewString()
		}

		category := strings.TrimSpace(attrs["category"])
		if category == "" {
			category = defaultCategory
		}

		confidence := defaultConfidence
		if raw, ok := attrs["confidence"]; ok {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				confidence = parsed
			}
		}
		confidence = clamp01(confidence)

		out = append(out, StructuredThought{
			ThoughtID:  id,
			Category:   category,
			Confidence: confidence,
			Content:    content,
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
