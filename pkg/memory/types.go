// Package memory defines the thought store's domain types and the
// [ThoughtStore] interface: the persistence and retrieval layer for tagged
// reasoning fragments emitted by language models.
//
// The architecture layers three concerns behind one interface:
//
//   - Durable storage of [Thought] records and [Session] lineage metadata.
//   - An embedded vector index for semantic similarity search.
//   - Hybrid ranking that blends semantic similarity with recency.
//
// The thought graph ([github.com/thoughtmemory/tms/pkg/memory/graph]) and
// reflection engine build on top of this package; neither owns persistence
// themselves.
//
// All implementations must be safe for concurrent use.
package memory

import (
	"errors"
	"time"
)

// Sentinel errors. Wrap with fmt.Errorf("<component>: <what>: %w", ...) at
// each layer; check with errors.Is, never string comparison.
var (
	// ErrValidation covers malformed input: empty session id, empty tag name,
	// confidence outside [0,1], and similar caller mistakes.
	ErrValidation = errors.New("memory: validation failed")

	// ErrDimensionMismatch is returned when a thought's embedding length does
	// not equal the store's configured embedding dimension.
	ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

	// ErrNegativeWeight is returned when a graph edge is created with a
	// negative weight.
	ErrNegativeWeight = errors.New("memory: negative edge weight")

	// ErrUnsupportedMode is returned when a reflection request names a mode
	// with no registered prompt template.
	ErrUnsupportedMode = errors.New("memory: unsupported reflection mode")

	// ErrUnsupportedBackend reports a vector backend name with no
	// implementation. No function in this module returns it; config.Validate
	// rejects unknown backend names with its own error.
	ErrUnsupportedBackend = errors.New("memory: unsupported vector backend")

	// ErrNotFound reports a missing record. No store operation in this module
	// returns it: reads return a nil pointer/empty slice instead.
	ErrNotFound = errors.New("memory: not found")
)

// Thought is the atomic persisted record: one tagged reasoning fragment.
type Thought struct {
	// ID is a stable, unique identifier. Caller-supplied or generated.
	ID string

	// TimestampUTC is the creation time, always normalized to UTC.
	TimestampUTC time.Time

	// SessionID is the owning session. Non-empty.
	SessionID string

	// Category is a free-form label. Conventional values: "reasoning",
	// "fact", "plan", "reflection", "summary".
	Category string

	// Confidence is a real number in [0, 1].
	Confidence float64

	// Tags is an ordered list of labels. Duplicates are allowed on write;
	// filters apply set semantics.
	Tags []string

	// RawText is the original extracted fragment text, before cleaning.
	RawText string

	// CleanedText is the trimmed, whitespace-normalized fragment text.
	CleanedText string

	// Embedding is the vector representation of CleanedText.
	Embedding []float32

	// EmbeddingDim is the length of Embedding. Must equal the store's
	// configured dimension and len(Embedding).
	EmbeddingDim int

	// Payload holds arbitrary caller metadata not covered by the fields
	// above (e.g. XML-tag attributes beyond id/category/confidence).
	Payload map[string]any
}

// Session is lineage metadata: every thought belongs to exactly one session,
// and sessions may chain to a parent to model conversational lineage.
type Session struct {
	// SessionID is the primary key. Non-empty.
	SessionID string

	// ParentSessionID is the session this one branched from. Empty means no parent.
	ParentSessionID string

	// CreatedAtUTC is when the session was first created.
	CreatedAtUTC time.Time

	// Metadata holds arbitrary caller-supplied session metadata.
	Metadata map[string]any
}

// Relation names privileged by graph algorithms. Other strings are accepted
// but not treated specially.
const (
	RelationSemanticSimilarity = "semantic-similarity"
	RelationExplicitReference  = "explicit-reference"
	RelationTemporalSuccessor  = "temporal-successor"
)

// Edge is a directed relation between two thought ids.
type Edge struct {
	// ID is the auto-assigned primary key. Zero for edges not yet persisted.
	ID int64

	SourceID string
	TargetID string

	// Relation is a typed label. See the Relation* constants for the three
	// relations privileged by graph algorithms; other strings are accepted.
	Relation string

	// Weight must be >= 0.
	Weight float64

	CreatedAtUTC time.Time
	Metadata     map[string]any
}

// GraphNode mirrors a thought's identity into the graph's adjacency
// projection. Every GraphNode must reference an existing Thought.
type GraphNode struct {
	ThoughtID    string
	SessionID    string
	TimestampUTC time.Time
	Metadata     map[string]any
}

// ThoughtFilters narrows [ThoughtStore.Retrieve] and [ThoughtStore.SemanticSearch]
// queries. All non-zero fields are applied as AND conditions; TagsAny is
// applied as a post-query set intersection.
type ThoughtFilters struct {
	// SessionID restricts results to a single session. Empty matches all sessions.
	SessionID string

	// Category restricts results to a single category. Empty matches all categories.
	Category string

	// MinConfidence excludes thoughts with Confidence below this value.
	MinConfidence float64

	// After filters thoughts recorded at or after this instant. A zero Time disables the bound.
	After time.Time

	// Before filters thoughts recorded at or before this instant. A zero Time disables the bound.
	Before time.Time

	// TagsAny, when non-empty, keeps only thoughts that carry at least one of
	// these tags. Applied after the SQL-pushed filters above.
	TagsAny []string
}

// ScoredThought pairs a retrieved thought with the components of its hybrid
// ranking score (semantic similarity blended with recency).
type ScoredThought struct {
	Thought       Thought
	Score         float64
	SemanticScore float64
	RecencyScore  float64
}

// ParseStoreResult is returned by the ingestion pipeline's ParseAndStore.
type ParseStoreResult struct {
	CleanedOutput     string
	Thoughts          []Thought
	UsedLinearFallback bool
}

// ReflectionResult is returned by a completed reflection cycle.
type ReflectionResult struct {
	ReflectionText     string
	PromptUsed         string
	RecalledThoughts   []ScoredThought
	StoredReflections  []Thought
	LatencyMS          float64
}
