// Package llm defines the Client interface consumed by the reflection engine.
//
// The core never imposes a model or retry policy: Client is a single-method
// capability, a prompt-in/text-out function. Callers that need retries,
// streaming, or tool calling wrap Client themselves — those concerns live
// outside the core (see internal/resilience for a circuit-breaker wrapper).
package llm

import "context"

// Client is the minimal LLM callable the reflection engine depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	// Complete sends prompt to the model and returns its raw text response.
	// Complete never retries internally; a failing call returns an error.
	Complete(ctx context.Context, prompt string) (string, error)
}
