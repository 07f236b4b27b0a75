package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thoughtmemory/tms/pkg/memory"
)

// SemanticSearch implements [memory.ThoughtStore]. It takes the top
// max(limit*10, min(maxCandidates, 1000)) vector-index hits, applies filters,
// and ranks each by alpha*semantic + (1-alpha)*recency, where recency is
// 1 - age/maxAge over the candidates (maxAge at least one second).
func (s *Store) SemanticSearch(ctx context.Context, queryVec []float32, filters memory.ThoughtFilters, limit int, alpha float64, maxCandidates int) ([]memory.ScoredThought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.semanticSearchLocked(ctx, queryVec, filters, limit, alpha, maxCandidates)
}

func (s *Store) semanticSearchLocked(ctx context.Context, queryVec []float32, filters memory.ThoughtFilters, limit int, alpha float64, maxCandidates int) ([]memory.ScoredThought, error) {
	topK := limit * 10
	if bounded := min(maxCandidates, 1000); bounded > topK {
		topK = bounded
	}

	hits, err := s.backend.Search(ctx, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: semantic search: %w", err)
	}
	if len(hits) == 0 {
		return []memory.ScoredThought{}, nil
	}

	ids := make([]string, len(hits))
	semanticByID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		semanticByID[h.ID] = h.Score
	}

	thoughts, err := s.fetchThoughtsByIDsLocked(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: semantic search: %w", err)
	}
	thoughts = applyFilters(thoughts, filters)
	if len(thoughts) == 0 {
		return []memory.ScoredThought{}, nil
	}

	now := time.Now().UTC()
	ages := make([]float64, len(thoughts))
	maxAge := 1.0
	for i, t := range thoughts {
		age := now.Sub(t.TimestampUTC).Seconds()
		if age < 0 {
			age = 0
		}
		ages[i] = age
		if age > maxAge {
			maxAge = age
		}
	}

	scored := make([]memory.ScoredThought, len(thoughts))
	for i, t := range thoughts {
		semantic := semanticByID[t.ID]
		recency := 1 - ages[i]/maxAge
		scored[i] = memory.ScoredThought{
			Thought:       t,
			SemanticScore: semantic,
			RecencyScore:  recency,
			Score:         alpha*semantic + (1-alpha)*recency,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// applyFilters applies the metadata conditions of filters (including
// TagsAny) to an in-memory slice of thoughts.
func applyFilters(thoughts []memory.Thought, filters memory.ThoughtFilters) []memory.Thought {
	out := thoughts[:0]
	for _, t := range thoughts {
		if filters.SessionID != "" && t.SessionID != filters.SessionID {
			continue
		}
		if filters.Category != "" && t.Category != filters.Category {
			continue
		}
		if filters.MinConfidence > 0 && t.Confidence < filters.MinConfidence {
			continue
		}
		if !filters.After.IsZero() && t.TimestampUTC.Before(filters.After) {
			continue
		}
		if !filters.Before.IsZero() && t.TimestampUTC.After(filters.Before) {
			continue
		}
		out = append(out, t)
	}
	if len(filters.TagsAny) > 0 {
		out = filterTagsAny(out, filters.TagsAny)
	}
	return out
}

// fetchThoughtsByIDsLocked loads thoughts by id in a single query. Caller
// must hold s.mu. Order is not guaranteed to match ids.
func (s *Store) fetchThoughtsByIDsLocked(ctx context.Context, ids []string) ([]memory.Thought, error) {
	if len(ids) == 0 {
		return []memory.Thought{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := `
		SELECT id, timestamp_utc, session_id, category, confidence, tags_json, raw_text, cleaned_text, embedding_dim, embedding_blob, payload_json
		FROM thoughts WHERE id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectThoughts(rows)
}

// RecallFromPriorSessions implements [memory.ThoughtStore]. It runs a
// semantic search widened to max(30, limit*4) results, keeps only thoughts
// from ancestor sessions, then (when graph is non-nil and graphHops > 0)
// expands the top five seeds by up to 25 graph neighbors each, scoring a
// neighbor at 0.85 times its seed's score and keeping the higher score when
// a thought is reached twice.
func (s *Store) RecallFromPriorSessions(ctx context.Context, queryVec []float32, currentSessionID string, graph memory.GraphExpander, limit int, alpha float64, graphHops int) ([]memory.ScoredThought, error) {
	ancestors, err := s.GetSessionLineage(ctx, currentSessionID, false)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: recall from prior sessions: %w", err)
	}
	ancestorSet := make(map[string]struct{}, len(ancestors))
	for _, a := range ancestors {
		ancestorSet[a] = struct{}{}
	}
	if len(ancestorSet) == 0 {
		return []memory.ScoredThought{}, nil
	}

	widen := limit * 4
	if widen < 30 {
		widen = 30
	}

	// s.mu is held only around store reads: a *graph.Graph expander locks the
	// same mutex, so it must be called without it.
	s.mu.Lock()
	candidates, err := s.semanticSearchLocked(ctx, queryVec, memory.ThoughtFilters{}, widen, alpha, 1000)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sqlite store: recall from prior sessions: %w", err)
	}

	merged := make(map[string]memory.ScoredThought)
	for _, c := range candidates {
		if _, ok := ancestorSet[c.Thought.SessionID]; !ok {
			continue
		}
		merged[c.Thought.ID] = c
	}

	if graph != nil && graphHops > 0 {
		seeds := lineageSorted(merged)
		if len(seeds) > 5 {
			seeds = seeds[:5]
		}
		for _, seed := range seeds {
			neighborIDs, err := graph.NeighborIDs(ctx, seed.Thought.ID, graphHops, 25)
			if err != nil {
				return nil, fmt.Errorf("sqlite store: recall from prior sessions: graph expansion: %w", err)
			}
			if len(neighborIDs) == 0 {
				continue
			}
			s.mu.Lock()
			neighbors, err := s.fetchThoughtsByIDsLocked(ctx, neighborIDs)
			s.mu.Unlock()
			if err != nil {
				return nil, fmt.Errorf("sqlite store: recall from prior sessions: fetch neighbors: %w", err)
			}
			for _, n := range neighbors {
				if _, ok := ancestorSet[n.SessionID]; !ok {
					continue
				}
				decayed := memory.ScoredThought{
					Thought:       n,
					Score:         seed.Score * 0.85,
					SemanticScore: seed.SemanticScore * 0.85,
					RecencyScore:  seed.RecencyScore,
				}
				if existing, ok := merged[n.ID]; !ok || decayed.Score > existing.Score {
					merged[n.ID] = decayed
				}
			}
		}
	}

	result := lineageSorted(merged)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// lineageSorted flattens merged into a slice sorted descending by Score.
func lineageSorted(merged map[string]memory.ScoredThought) []memory.ScoredThought {
	out := make([]memory.ScoredThought, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// GetSessionParent implements [memory.ThoughtStore]. Returns "" for unknown
// sessions, not an error.
func (s *Store) GetSessionParent(ctx context.Context, sessionID string) (string, error) {
	var parent string
	err := s.db.QueryRowContext(ctx, `SELECT parent_session_id FROM sessions WHERE session_id = ?`, sessionID).Scan(&parent)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite store: get session parent: %w", err)
	}
	return parent, nil
}

// GetSessionLineage implements [memory.ThoughtStore]. It walks parent links
// starting from sessionID, stopping on cycle: a revisited id is treated as
// data corruption and the walker returns the accumulated prefix rather than
// erroring.
func (s *Store) GetSessionLineage(ctx context.Context, sessionID string, includeSelf bool) ([]string, error) {
	visited := map[string]struct{}{sessionID: {}}
	var chain []string
	if includeSelf {
		chain = append(chain, sessionID)
	}

	current := sessionID
	for {
		parent, err := s.GetSessionParent(ctx, current)
		if err != nil {
			return chain, err
		}
		if parent == "" {
			break
		}
		if _, seen := visited[parent]; seen {
			break
		}
		visited[parent] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}
