package config_test

import (
	"strings"
	"testing"

	"github.com/thoughtmemory/tms/internal/config"
)

func TestValidate_MissingEmbeddingDimensions(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
  embeddings:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing embedding_dimensions, got nil")
	}
	if !strings.Contains(err.Error(), "embedding_dimensions") {
		t.Errorf("error should mention embedding_dimensions, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: trace
store:
  embedding_dimensions: 0
  vector_backend: annoy
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "embedding_dimensions") {
		t.Errorf("error should mention embedding_dimensions, got: %v", err)
	}
	if !strings.Contains(errStr, "vector_backend") {
		t.Errorf("error should mention vector_backend, got: %v", err)
	}
}

func TestValidate_WellFormedConfigPasses(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
  embeddings:
    name: hash
store:
  embedding_dimensions: 256
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
