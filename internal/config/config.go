// Package config provides the configuration schema, loader, and provider
// registry for the thought memory service.
package config

// Config is the root configuration structure for the service.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Store      StoreConfig      `yaml:"store"`
	Reflection ReflectionConfig `yaml:"reflection"`
}

// LogLevel controls slog verbosity. Valid values: "debug", "info", "warn", "error".
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognized log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ServerConfig holds network and logging settings for the optional status
// endpoint exposing health and metrics.
type ServerConfig struct {
	// ListenAddr is the TCP address the status endpoint listens on (e.g., ":8080").
	// Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// pluggable dependency. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "hash", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "text-embedding-3-small").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// VectorBackend selects the vector index implementation backing semantic search.
type VectorBackend string

const (
	// VectorBackendDense is the in-process dense matrix backend (default).
	VectorBackendDense VectorBackend = "dense"
)

// IsValid reports whether b is a recognized vector backend.
func (b VectorBackend) IsValid() bool {
	switch b {
	case VectorBackendDense:
		return true
	default:
		return false
	}
}

// StoreConfig holds settings for the persistence and retrieval layer.
type StoreConfig struct {
	// SQLitePath is the filesystem path to the SQLite database file.
	// Use ":memory:" for an ephemeral in-process store (the default for tests).
	SQLitePath string `yaml:"sqlite_path"`

	// EmbeddingDimensions is the vector dimension stored and indexed for each
	// thought. Must match the dimension produced by Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// VectorBackend selects the in-process vector index implementation.
	VectorBackend VectorBackend `yaml:"vector_backend"`
}

// ReflectionMode selects which prompt template the reflection engine uses.
type ReflectionMode string

const (
	ReflectionModeReasoning              ReflectionMode = "reasoning"
	ReflectionModeSummarization          ReflectionMode = "summarization"
	ReflectionModeContradictionDetection ReflectionMode = "contradiction_detection"
	ReflectionModePlanning               ReflectionMode = "planning"
)

// IsValid reports whether m is a recognized reflection mode.
func (m ReflectionMode) IsValid() bool {
	switch m {
	case ReflectionModeReasoning, ReflectionModeSummarization, ReflectionModeContradictionDetection, ReflectionModePlanning:
		return true
	default:
		return false
	}
}

// ReflectionConfig holds default parameters for the reflection engine.
type ReflectionConfig struct {
	// DefaultMode is used when a reflection request does not specify a mode.
	DefaultMode ReflectionMode `yaml:"default_mode"`

	// DefaultTopK is the number of recalled thoughts folded into the
	// reflection prompt when a request does not specify one.
	DefaultTopK int `yaml:"default_top_k"`
}
