package resilience

import (
	"context"

	"github.com/thoughtmemory/tms/pkg/provider/llm"
)

// LLMFallback implements [llm.Client] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Client]
}

// Compile-time interface assertion.
var _ llm.Client = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Client, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM client as a fallback.
func (f *LLMFallback) AddFallback(name string, client llm.Client) {
	f.group.AddFallback(name, client)
}

// Complete sends prompt to the first healthy client and returns its response.
// If the primary fails, subsequent fallbacks are tried in order.
func (f *LLMFallback) Complete(ctx context.Context, prompt string) (string, error) {
	return ExecuteWithResult(f.group, func(c llm.Client) (string, error) {
		return c.Complete(ctx, prompt)
	})
}
