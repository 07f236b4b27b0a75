// Package graph provides the directed, typed thought graph: BFS neighbor
// traversal, bounded simple-path search, connected-components topic
// clustering, and temporal range queries over thought ids linked by a
// [Store]-backed persistence handle.
//
// The graph holds a non-owning reference to its store (via the narrow
// [Store] interface) and reuses the store's mutex rather than its own, so
// that a semantic-similarity edge can never be created before the thought it
// references has actually committed (see the shared-lock note on
// github.com/thoughtmemory/tms/pkg/memory.ThoughtStore).
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/thoughtmemory/tms/pkg/memory"
)

// Store is the subset of [memory.ThoughtStore] the graph needs: reading and
// writing thought records, running a semantic search for auto-linking, and
// the shared database handle + mutex. Satisfied by *github.com/thoughtmemory/tms/pkg/memory/sqlite.Store
// without this package importing it directly.
type Store interface {
	DB() *sql.DB
	Mutex() *sync.Mutex
	GetThoughtByID(ctx context.Context, id string) (*memory.Thought, error)
	Store(ctx context.Context, t memory.Thought) (memory.Thought, error)
	SemanticSearch(ctx context.Context, queryVec []float32, filters memory.ThoughtFilters, limit int, alpha float64, maxCandidates int) ([]memory.ScoredThought, error)
}

// Graph is the directed thought graph. It is safe for concurrent use.
type Graph struct {
	store Store
	db    *sql.DB
	mu    *sync.Mutex
}

// Compile-time interface check: Graph satisfies the narrow expansion
// capability pkg/memory.ThoughtStore.RecallFromPriorSessions needs.
var _ memory.GraphExpander = (*Graph)(nil)

// NewGraph returns a [Graph] built on top of store, sharing its mutex.
func NewGraph(store Store) *Graph {
	return &Graph{store: store, db: store.DB(), mu: store.Mutex()}
}

// AddThoughtOptions controls [Graph.AddThought]'s optional behavior. Zero
// value is not a usable default; use [DefaultAddThoughtOptions].
type AddThoughtOptions struct {
	// StoreIfMissing inserts thought into the store first when it is not
	// already persisted.
	StoreIfMissing bool

	// TemporalLink, when true, links the most recent earlier node in the same
	// session to this one with a temporal-successor edge.
	TemporalLink bool

	// SemanticNeighbors, when > 0, runs a semantic search for thought's own
	// vector and links every sufficiently similar result to this node.
	SemanticNeighbors int

	// SemanticThreshold is the minimum semantic score (cosine similarity) a
	// neighbor must reach to be linked when SemanticNeighbors > 0.
	SemanticThreshold float64
}

// DefaultAddThoughtOptions mirrors the reference implementation's defaults:
// store if missing, link temporally, and with SemanticNeighbors 3 search the
// top 3+5 candidates, linking each at or above a 0.80 similarity threshold.
func DefaultAddThoughtOptions() AddThoughtOptions {
	return AddThoughtOptions{
		StoreIfMissing:    true,
		TemporalLink:      true,
		SemanticNeighbors: 3,
		SemanticThreshold: 0.80,
	}
}

// AddThought upserts thought as a graph node and, per opts, links it to its
// temporal predecessor and/or sufficiently similar prior thoughts. The node
// upsert and each edge are committed in separate transactions; the edges
// created by one call are not atomic as a group, so an error part-way leaves
// the edges already linked in place.
func (g *Graph) AddThought(ctx context.Context, thought memory.Thought, opts AddThoughtOptions) (memory.Thought, error) {
	if opts.StoreIfMissing {
		existing, err := g.store.GetThoughtByID(ctx, thought.ID)
		if err != nil {
			return memory.Thought{}, fmt.Errorf("graph: add thought: %w", err)
		}
		if existing == nil {
			stored, err := g.store.Store(ctx, thought)
			if err != nil {
				return memory.Thought{}, fmt.Errorf("graph: add thought: store: %w", err)
			}
			thought = stored
		}
	}

	if err := g.upsertNodeLocked(ctx, thought); err != nil {
		return memory.Thought{}, fmt.Errorf("graph: add thought: %w", err)
	}

	if opts.TemporalLink {
		if err := g.linkTemporalSuccessor(ctx, thought); err != nil {
			return memory.Thought{}, fmt.Errorf("graph: add thought: temporal link: %w", err)
		}
	}

	if opts.SemanticNeighbors > 0 {
		threshold := opts.SemanticThreshold
		if threshold == 0 {
			threshold = 0.80
		}
		nearest, err := g.store.SemanticSearch(ctx, thought.Embedding, memory.ThoughtFilters{}, opts.SemanticNeighbors+5, 1.0, 1000)
		if err != nil {
			return memory.Thought{}, fmt.Errorf("graph: add thought: semantic search: %w", err)
		}
		for _, item := range nearest {
			if item.Thought.ID == thought.ID {
				continue
			}
			if item.SemanticScore < threshold {
				continue
			}
			if err := g.Link(ctx, item.Thought.ID, thought.ID, memory.RelationSemanticSimilarity, item.SemanticScore, nil, false); err != nil {
				return memory.Thought{}, fmt.Errorf("graph: add thought: link semantic neighbor: %w", err)
			}
		}
	}

	return thought, nil
}

func (g *Graph) upsertNodeLocked(ctx context.Context, t memory.Thought) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.db.ExecContext(ctx, `
		INSERT INTO thought_graph_nodes (thought_id, session_id, timestamp_utc, metadata_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thought_id) DO UPDATE SET
		    session_id    = excluded.session_id,
		    timestamp_utc = excluded.timestamp_utc`,
		t.ID, t.SessionID, formatTimestamp(t.TimestampUTC), "{}")
	return err
}

func (g *Graph) linkTemporalSuccessor(ctx context.Context, t memory.Thought) error {
	var prevID string
	err := func() error {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.db.QueryRowContext(ctx, `
			SELECT thought_id FROM thought_graph_nodes
			WHERE session_id = ? AND thought_id != ? AND timestamp_utc <= ?
			ORDER BY timestamp_utc DESC LIMIT 1`,
			t.SessionID, t.ID, formatTimestamp(t.TimestampUTC)).Scan(&prevID)
	}()
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	return g.Link(ctx, prevID, t.ID, memory.RelationTemporalSuccessor, 1.0, nil, false)
}

// Link creates a directed edge from source to target, or two when
// bidirectional is set. Self-edges are silently ignored; negative weights
// are rejected.
func (g *Graph) Link(ctx context.Context, source, target, relation string, weight float64, metadata map[string]any, bidirectional bool) error {
	if source == "" || target == "" {
		return fmt.Errorf("graph: link: %w: source and target must be non-empty", memory.ErrValidation)
	}
	if weight < 0 {
		return fmt.Errorf("graph: link: %w", memory.ErrNegativeWeight)
	}
	if source == target {
		return nil
	}

	edges := []memory.Edge{{SourceID: source, TargetID: target, Relation: relation, Weight: weight, Metadata: metadata}}
	if bidirectional {
		edges = append(edges, memory.Edge{SourceID: target, TargetID: source, Relation: relation, Weight: weight, Metadata: metadata})
	}
	return g.LinkMany(ctx, edges)
}

// LinkMany inserts all of edges in one transaction; a failure on any edge
// rolls back the whole batch. Self-edges within edges are silently skipped.
func (g *Graph) LinkMany(ctx context.Context, edges []memory.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: link many: begin: %w", err)
	}
	defer tx.Rollback()

	now := formatTimestamp(time.Now())
	for _, e := range edges {
		if e.SourceID == e.TargetID {
			continue
		}
		if e.Weight < 0 {
			return fmt.Errorf("graph: link many: %w", memory.ErrNegativeWeight)
		}
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("graph: link many: marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO thought_graph_edges (source_id, target_id, relation, weight, created_at_utc, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.SourceID, e.TargetID, e.Relation, e.Weight, now, string(metaJSON)); err != nil {
			return fmt.Errorf("graph: link many: insert edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("graph: link many: commit: %w", err)
	}
	slog.Default().Debug("graph edges linked", "count", len(edges))
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// neighborRow is one adjacency step fetched while expanding a BFS frontier.
type neighborRow struct {
	id       string
	relation string
}

// fetchNeighbors returns the node ids (one per edge, so possibly repeated) directly reachable from id by
// following outgoing edges only, optionally restricted to relations, bounded
// by cap_.
func (g *Graph) fetchNeighbors(ctx context.Context, id string, relations []string, cap_ int) ([]neighborRow, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var args []any
	relCond := ""
	if len(relations) > 0 {
		placeholders := make([]string, len(relations))
		for i, r := range relations {
			placeholders[i] = "?"
			args = append(args, r)
		}
		relCond = " AND relation IN (" + joinComma(placeholders) + ")"
	}

	q := `
		SELECT target_id AS id, relation FROM thought_graph_edges
		WHERE source_id = ?` + relCond + `
		LIMIT ?`

	fullArgs := append([]any{id}, args...)
	fullArgs = append(fullArgs, cap_)

	rows, err := g.db.QueryContext(ctx, q, fullArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []neighborRow
	for rows.Next() {
		var n neighborRow
		if err := rows.Scan(&n.id, &n.relation); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return out
}

// Neighbors performs a bounded BFS from id out to hops steps, following
// edges in their recorded direction (source -> target), and returns up to
// limit reachable ids excluding id itself. relations, when non-empty,
// restricts which edge types are traversed.
func (g *Graph) Neighbors(ctx context.Context, id string, hops int, relations []string, limit int) ([]string, error) {
	if hops <= 0 {
		hops = 1
	}
	if limit <= 0 {
		limit = 100
	}

	visited := map[string]struct{}{id: {}}
	frontier := []string{id}
	var result []string

	for step := 0; step < hops && len(result) < limit; step++ {
		var next []string
		for _, cur := range frontier {
			remaining := limit - len(result)
			if remaining <= 0 {
				break
			}
			fetchCap := max(remaining*2, 8)
			rows, err := g.fetchNeighbors(ctx, cur, relations, fetchCap)
			if err != nil {
				return nil, fmt.Errorf("graph: neighbors: %w", err)
			}
			for _, row := range rows {
				if _, ok := visited[row.id]; ok {
					continue
				}
				visited[row.id] = struct{}{}
				result = append(result, row.id)
				next = append(next, row.id)
				if len(result) >= limit {
					break
				}
			}
			if len(result) >= limit {
				break
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	return result, nil
}

// NeighborIDs satisfies [memory.GraphExpander].
func (g *Graph) NeighborIDs(ctx context.Context, id string, hops int, limit int) ([]string, error) {
	return g.Neighbors(ctx, id, hops, nil, limit)
}

// FindPaths enumerates up to limit simple paths from source to target, each
// no longer than maxDepth edges, via bounded BFS. A self-path (source ==
// target) returns a single trivial one-node path.
func (g *Graph) FindPaths(ctx context.Context, source, target string, maxDepth, limit int, relations []string) ([][]string, error) {
	if source == target {
		return [][]string{{source}}, nil
	}
	if maxDepth <= 0 {
		maxDepth = 4
	}
	if limit <= 0 {
		limit = 10
	}

	type partial struct {
		path   []string
		onPath map[string]struct{}
	}

	start := partial{path: []string{source}, onPath: map[string]struct{}{source: {}}}
	queue := []partial{start}
	var found [][]string

	for len(queue) > 0 && len(found) < limit {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.path)-1 >= maxDepth {
			continue
		}

		last := cur.path[len(cur.path)-1]
		rows, err := g.fetchNeighbors(ctx, last, relations, 64)
		if err != nil {
			return nil, fmt.Errorf("graph: find paths: %w", err)
		}
		for _, row := range rows {
			if row.id == target {
				next := append(append([]string{}, cur.path...), row.id)
				found = append(found, next)
				if len(found) >= limit {
					break
				}
				continue
			}
			if _, ok := cur.onPath[row.id]; ok {
				continue
			}
			nextPath := append(append([]string{}, cur.path...), row.id)
			nextOnPath := make(map[string]struct{}, len(cur.onPath)+1)
			for k := range cur.onPath {
				nextOnPath[k] = struct{}{}
			}
			nextOnPath[row.id] = struct{}{}
			queue = append(queue, partial{path: nextPath, onPath: nextOnPath})
		}
	}

	return found, nil
}

// ClusterByTopic groups thought ids into connected components over the
// undirected semantic-similarity subgraph, returning clusters with at least
// minClusterSize members, each sorted ascending and the outer slice sorted by
// descending cluster size then ascending first-member id for determinism.
func (g *Graph) ClusterByTopic(ctx context.Context, minClusterSize int) ([][]string, error) {
	if minClusterSize < 1 {
		minClusterSize = 1
	}

	adj, err := g.semanticAdjacency(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: cluster by topic: %w", err)
	}

	visited := map[string]struct{}{}
	var clusters [][]string
	for node := range adj {
		if _, ok := visited[node]; ok {
			continue
		}
		var component []string
		queue := []string{node}
		visited[node] = struct{}{}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, cur)
			for _, nb := range adj[cur] {
				if _, ok := visited[nb]; !ok {
					visited[nb] = struct{}{}
					queue = append(queue, nb)
				}
			}
		}
		if len(component) >= minClusterSize {
			sort.Strings(component)
			clusters = append(clusters, component)
		}
	}

	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i]) != len(clusters[j]) {
			return len(clusters[i]) > len(clusters[j])
		}
		return clusters[i][0] < clusters[j][0]
	})
	return clusters, nil
}

func (g *Graph) semanticAdjacency(ctx context.Context) (map[string][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rows, err := g.db.QueryContext(ctx, `
		SELECT source_id, target_id FROM thought_graph_edges WHERE relation = ?`,
		memory.RelationSemanticSimilarity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adj := map[string][]string{}
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	return adj, rows.Err()
}

// TemporalRange returns thoughts recorded within [start, end], ordered
// ascending by timestamp, optionally restricted to sessionID, bounded by
// limit. Each id is resolved via the store so the returned records are full
// [memory.Thought] values rather than bare graph node projections.
func (g *Graph) TemporalRange(ctx context.Context, start, end time.Time, sessionID string, limit int) ([]memory.Thought, error) {
	if limit <= 0 {
		limit = 200
	}

	ids, err := g.temporalRangeIDs(ctx, start, end, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("graph: temporal range: %w", err)
	}

	out := make([]memory.Thought, 0, len(ids))
	for _, id := range ids {
		t, err := g.store.GetThoughtByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("graph: temporal range: %w", err)
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (g *Graph) temporalRangeIDs(ctx context.Context, start, end time.Time, sessionID string, limit int) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	q := `SELECT thought_id FROM thought_graph_nodes WHERE timestamp_utc >= ? AND timestamp_utc <= ?`
	args := []any{formatTimestamp(start), formatTimestamp(end)}
	if sessionID != "" {
		q += " AND session_id = ?"
		args = append(args, sessionID)
	}
	q += " ORDER BY timestamp_utc ASC LIMIT ?"
	args = append(args, limit)

	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
