package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "mock"},
	"embeddings": {"hash", "openai", "ollama", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-value fields with the service's defaults so an
// empty or partial config file still yields a usable store.
func applyDefaults(cfg *Config) {
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = ":memory:"
	}
	if cfg.Store.VectorBackend == "" {
		cfg.Store.VectorBackend = VectorBackendDense
	}
	if cfg.Reflection.DefaultMode == "" {
		cfg.Reflection.DefaultMode = ReflectionModeReasoning
	}
	if cfg.Reflection.DefaultTopK <= 0 {
		cfg.Reflection.DefaultTopK = 5
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; reflection cycles will use the deterministic fallback synthesizer")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; ingestion will fail until one is registered")
	}

	if cfg.Store.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions must be positive, got %d", cfg.Store.EmbeddingDimensions))
	}

	if !cfg.Store.VectorBackend.IsValid() {
		errs = append(errs, fmt.Errorf("store.vector_backend %q is invalid; valid values: dense", cfg.Store.VectorBackend))
	}

	if !cfg.Reflection.DefaultMode.IsValid() {
		errs = append(errs, fmt.Errorf("reflection.default_mode %q is invalid; valid values: reasoning, summarization, contradiction_detection, planning", cfg.Reflection.DefaultMode))
	}
	if cfg.Reflection.DefaultTopK <= 0 {
		errs = append(errs, fmt.Errorf("reflection.default_top_k must be positive, got %d", cfg.Reflection.DefaultTopK))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
