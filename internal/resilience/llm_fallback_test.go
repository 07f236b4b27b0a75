package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/thoughtmemory/tms/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &mock.Client{CompleteResponse: "hello from primary"}
	secondary := &mock.Client{CompleteResponse: "hello from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello from primary" {
		t.Fatalf("resp = %q, want 'hello from primary'", resp)
	}
	if len(primary.CompleteCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.CompleteCalls))
	}
	if len(secondary.CompleteCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.CompleteCalls))
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &mock.Client{CompleteErr: errors.New("primary down")}
	secondary := &mock.Client{CompleteResponse: "hello from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello from secondary" {
		t.Fatalf("resp = %q, want 'hello from secondary'", resp)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	primary := &mock.Client{CompleteErr: errors.New("primary down")}
	secondary := &mock.Client{CompleteErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), "prompt")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Complete_OpenCircuitSkipsPrimary(t *testing.T) {
	primary := &mock.Client{CompleteErr: errors.New("primary down")}
	secondary := &mock.Client{CompleteResponse: "hello from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	// First call trips the primary's breaker.
	if _, err := fb.Complete(context.Background(), "prompt"); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	primary.Reset()

	// Second call should skip the now-open primary breaker entirely.
	if _, err := fb.Complete(context.Background(), "prompt"); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if len(primary.CompleteCalls) != 0 {
		t.Fatalf("primary called %d times after breaker tripped, want 0", len(primary.CompleteCalls))
	}
}
