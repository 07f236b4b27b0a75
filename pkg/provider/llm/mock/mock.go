// Package mock provides a test double for the llm.Client interface.
//
// Use Client in unit tests to feed controlled responses to the reflection
// engine without a live LLM backend, and to verify which prompts it sends.
package mock

import (
	"context"
	"sync"

	"github.com/thoughtmemory/tms/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx    context.Context
	Prompt string
}

// Client is a mock implementation of llm.Client.
type Client struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete.
	CompleteResponse string

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteCalls = append(c.CompleteCalls, CompleteCall{Ctx: ctx, Prompt: prompt})
	if c.CompleteErr != nil {
		return "", c.CompleteErr
	}
	return c.CompleteResponse, nil
}

// Reset clears all recorded calls. Thread-safe.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteCalls = nil
}

// Ensure Client implements llm.Client at compile time.
var _ llm.Client = (*Client)(nil)
