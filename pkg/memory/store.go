package memory

import "context"

// ThoughtStore is the persistence and retrieval layer for [Thought] records.
// It owns the durable relational substrate, the embedded vector index, and
// session lineage metadata.
//
// Implementations must be safe for concurrent use. All public operations
// should serialize around a single per-store mutex shared with a
// [github.com/thoughtmemory/tms/pkg/memory/graph.Graph] built on top of the
// same store, so that graph writes observe every thought insert before they
// can link to it.
type ThoughtStore interface {
	// CreateSession upserts a session. It never downgrades an existing
	// parent silently — the most recent call wins. If parent is non-empty
	// and does not yet exist, it is inserted first with no parent of its own.
	CreateSession(ctx context.Context, sessionID, parent string, metadata map[string]any) error

	// Store persists a single thought and returns the persisted record
	// (normalized: UTC timestamp, etc). The vector index is updated only
	// after the write commits.
	Store(ctx context.Context, t Thought) (Thought, error)

	// BatchStore persists all of thoughts atomically: on any validation or
	// I/O failure, none of the batch is visible. The vector index is updated
	// only after the transaction commits, and may rebuild rather than
	// incrementally insert for multi-row batches.
	BatchStore(ctx context.Context, thoughts []Thought) ([]Thought, error)

	// Retrieve runs a pure metadata query: AND of session/category/min-confidence/
	// time-range, with TagsAny applied as a post-query set intersection.
	// Results are ordered by TimestampUTC descending. Returns an empty
	// (non-nil) slice when nothing matches.
	Retrieve(ctx context.Context, filters ThoughtFilters, limit int) ([]Thought, error)

	// SemanticSearch ranks thoughts by a blend of semantic similarity to
	// queryVec and recency (see the ranking formula on
	// github.com/thoughtmemory/tms/pkg/memory/sqlite.Store.SemanticSearch).
	// alpha in [0,1] weights semantic similarity against recency;
	// maxCandidates bounds how many vector-index hits are materialized
	// before filtering and scoring.
	SemanticSearch(ctx context.Context, queryVec []float32, filters ThoughtFilters, limit int, alpha float64, maxCandidates int) ([]ScoredThought, error)

	// RecallFromPriorSessions performs lineage-scoped recall: it restricts
	// SemanticSearch results to ancestors of currentSessionID, optionally
	// expanding the seed set via graph neighbors when a non-nil graph and
	// graphHops > 0 are supplied. graph is typed as the narrow [GraphExpander]
	// interface to avoid an import cycle with
	// github.com/thoughtmemory/tms/pkg/memory/graph; pass a *graph.Graph or nil.
	RecallFromPriorSessions(ctx context.Context, queryVec []float32, currentSessionID string, graph GraphExpander, limit int, alpha float64, graphHops int) ([]ScoredThought, error)

	// GetThoughtByID returns the thought with the given id, or nil if absent.
	GetThoughtByID(ctx context.Context, id string) (*Thought, error)

	// GetSessionParent returns the parent session id of sessionID, or "" if
	// sessionID has no parent or does not exist.
	GetSessionParent(ctx context.Context, sessionID string) (string, error)

	// GetSessionLineage walks parent links starting from sessionID, stopping
	// on cycle (a revisited id is treated as data corruption: the walker
	// returns the accumulated prefix rather than raising). includeSelf
	// controls whether sessionID itself is included in the result.
	GetSessionLineage(ctx context.Context, sessionID string, includeSelf bool) ([]string, error)

	// Close releases the underlying database handle.
	Close() error
}

// GraphExpander is the subset of graph functionality RecallFromPriorSessions
// needs to expand a seed set by neighbors. Satisfied by
// *github.com/thoughtmemory/tms/pkg/memory/graph.Graph; kept as a narrow
// interface here to avoid an import cycle between pkg/memory and
// pkg/memory/graph (the graph package imports pkg/memory for its types).
type GraphExpander interface {
	// NeighborIDs returns up to limit thought ids reachable from id within
	// hops traversal steps, excluding id itself.
	NeighborIDs(ctx context.Context, id string, hops int, limit int) ([]string, error)
}
