// Package ingest implements the parse -> embed -> store pipeline that turns
// raw language model output containing `/thought[...]` markers into persisted
// [memory.Thought] records.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thoughtmemory/tms/pkg/memory"
	"github.com/thoughtmemory/tms/pkg/provider/embeddings"
	"github.com/thoughtmemory/tms/pkg/tagparser"
)

// Options configures one call to [ParseAndStore]. Zero value is usable
// except for SessionID, which must be non-empty.
type Options struct {
	// SessionID is the owning session for every thought produced. Required.
	SessionID string

	// Category is applied to every thought produced. Defaults to "reasoning".
	Category string

	// Confidence is applied to every thought produced. Defaults to 0.9.
	Confidence float64

	// Tags is applied to every thought produced.
	Tags []string

	// TagName is the marker name to look for, e.g. "thought" for
	// `/thought[...]`. Defaults to "thought".
	TagName string

	// LinearFallback enables the bracket-balanced parser as a fallback when
	// it captures strictly more content than the regex grammar. Defaults to
	// true when Options is built via [DefaultOptions].
	LinearFallback bool
}

// DefaultOptions returns Options with the same defaults as the reference
// pipeline: category "reasoning", confidence 0.9, tag name "thought", linear
// fallback enabled.
func DefaultOptions(sessionID string) Options {
	return Options{
		SessionID:      sessionID,
		Category:       "reasoning",
		Confidence:     0.9,
		TagName:        "thought",
		LinearFallback: true,
	}
}

// Pipeline wires an embedding provider and a thought store into the
// parse -> embed -> store cycle.
type Pipeline struct {
	store    memory.ThoughtStore
	embedder embeddings.Provider
}

// NewPipeline returns a [Pipeline] that embeds with embedder and persists to
// store.
func NewPipeline(store memory.ThoughtStore, embedder embeddings.Provider) *Pipeline {
	return &Pipeline{store: store, embedder: embedder}
}

// ParseAndStore atomically parses rawOutput for tagged thoughts, embeds every
// fragment concurrently, and persists the batch. Parsing prefers the regex
// grammar; when opts.LinearFallback is set and the bracket-balanced linear
// grammar captures strictly more (either more fragments, or a longer match
// for some fragment the regex also found — e.g. nested brackets the regex
// truncated), the linear parse and its cleaned output are used instead.
func (p *Pipeline) ParseAndStore(ctx context.Context, rawOutput string, opts Options) (memory.ParseStoreResult, error) {
	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		return memory.ParseStoreResult{}, fmt.Errorf("ingest: parse and store: %w: session id must be non-empty", memory.ErrValidation)
	}
	tagName := opts.TagName
	if tagName == "" {
		tagName = "thought"
	}

	regexThoughts, err := tagparser.ParseThoughtTags(rawOutput, tagName)
	if err != nil {
		return memory.ParseStoreResult{}, fmt.Errorf("ingest: parse and store: %w", err)
	}
	cleanedOutput, err := tagparser.CleanThoughtTags(rawOutput, tagName)
	if err != nil {
		return memory.ParseStoreResult{}, fmt.Errorf("ingest: parse and store: %w", err)
	}

	thoughtsMap := regexThoughts
	usedLinearFallback := false

	if opts.LinearFallback {
		linearThoughts, err := tagparser.ParseThoughtTagsLinear(rawOutput, tagName)
		if err != nil {
			return memory.ParseStoreResult{}, fmt.Errorf("ingest: parse and store: %w", err)
		}
		if shouldPreferLinear(regexThoughts, linearThoughts) {
			thoughtsMap = linearThoughts
			usedLinearFallback = true
			cleanedOutput, err = tagparser.CleanThoughtTagsLinear(rawOutput, tagName)
			if err != nil {
				return memory.ParseStoreResult{}, fmt.Errorf("ingest: parse and store: %w", err)
			}
		}
	}

	category := opts.Category
	if category == "" {
		category = "reasoning"
	}
	confidence := opts.Confidence
	if confidence == 0 {
		confidence = 0.9
	}

	keys := sortedKeys(thoughtsMap)
	thoughtObjects := make([]memory.Thought, len(keys))
	now := time.Now().UTC()

	eg, egCtx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, content := i, thoughtsMap[key]
		eg.Go(func() error {
			clean := strings.TrimSpace(content)
			vector, err := p.embedder.Embed(egCtx, clean)
			if err != nil {
				return fmt.Errorf("embed fragment %q: %w", key, err)
			}
			thoughtObjects[i] = memory.Thought{
				TimestampUTC: now,
				SessionID:    sessionID,
				Category:     category,
				Confidence:   confidence,
				Tags:         append([]string{}, opts.Tags...),
				RawText:      content,
				CleanedText:  clean,
				Embedding:    vector,
				EmbeddingDim: len(vector),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return memory.ParseStoreResult{}, fmt.Errorf("ingest: parse and store: %w", err)
	}

	if len(thoughtObjects) > 0 {
		stored, err := p.store.BatchStore(ctx, thoughtObjects)
		if err != nil {
			return memory.ParseStoreResult{}, fmt.Errorf("ingest: parse and store: %w", err)
		}
		thoughtObjects = stored
	}

	return memory.ParseStoreResult{
		CleanedOutput:      cleanedOutput,
		Thoughts:           thoughtObjects,
		UsedLinearFallback: usedLinearFallback,
	}, nil
}

// shouldPreferLinear implements the reference implementation's precedence
// heuristic: prefer the linear parse when it captures more fragments
// overall, or when it captures a strictly longer match for some fragment the
// regex grammar also found (e.g. nested brackets truncated by the non-greedy
// regex).
func shouldPreferLinear(regexThoughts, linearThoughts map[string]string) bool {
	if len(linearThoughts) == 0 {
		return false
	}
	if len(linearThoughts) > len(regexThoughts) {
		return true
	}
	for key, linearContent := range linearThoughts {
		if len(linearContent) > len(regexThoughts[key]) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	// thoughtsMap keys are "<tagName>_<index>" assigned in appearance order
	// by the parser; a plain lexical sort on up to two-digit indices would
	// misorder 10+ matches, so index numerically.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortByTrailingIndex(keys)
	return keys
}
