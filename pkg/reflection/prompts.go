// Package reflection implements the recall -> prompt -> LLM -> parse ->
// persist -> link cycle that turns recalled thoughts into new meta-thoughts.
package reflection

import (
	"fmt"
	"strings"

	"github.com/thoughtmemory/tms/pkg/memory"
)

// Mode names a reflection template. Unrecognized modes are rejected with
// [memory.ErrUnsupportedMode].
const (
	ModeReasoning              = "reasoning"
	ModeSummarization          = "summarization"
	ModeContradictionDetection = "contradiction_detection"
	ModePlanning               = "planning"
)

// templates maps each supported mode to its instruction text.
var templates = map[string]string{
	ModeReasoning: "Review recalled thoughts and produce 1-3 high-signal reasoning reflections. " +
		"Use <thought ...> tags with category='reflection'.",
	ModeSummarization: "Summarize recalled thoughts into actionable memory nuggets. " +
		"Use <thought ...> tags with category='summary'.",
	ModeContradictionDetection: "Detect contradictions or tension between recalled thoughts. " +
		"Emit corrected reflections with category='reflection'.",
	ModePlanning: "Convert recalled thoughts into next-step plans. " +
		"Use <thought ...> tags with category='plan'.",
}

// supportsMode reports whether mode has a registered template.
func supportsMode(mode string) bool {
	_, ok := templates[mode]
	return ok
}

// buildPrompt renders the full reflection prompt for mode given the query and
// the already-formatted recalled-thoughts context block.
func buildPrompt(mode, query, recalledContext string) (string, error) {
	tmpl, ok := templates[mode]
	if !ok {
		return "", fmt.Errorf("reflection: build prompt: %w: %s", memory.ErrUnsupportedMode, mode)
	}
	var b strings.Builder
	b.WriteString(tmpl)
	b.WriteString("\n\nQuery:\n")
	b.WriteString(query)
	b.WriteString("\n\nRecalled Thoughts:\n")
	b.WriteString(recalledContext)
	b.WriteString("\n\nReturn only <thought ...> tags.")
	return b.String(), nil
}

// defaultCategoryForMode mirrors the reference implementation: every mode
// stores reflections under category "reflection" except planning, which uses
// "plan".
func defaultCategoryForMode(mode string) string {
	if mode == ModePlanning {
		return "plan"
	}
	return "reflection"
}

func formatRecalledLine(t memory.Thought) string {
	return fmt.Sprintf("- (%s/%s/%.2f) %s", t.SessionID, t.Category, t.Confidence, t.CleanedText)
}
