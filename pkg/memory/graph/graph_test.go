package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtmemory/tms/pkg/memory"
	"github.com/thoughtmemory/tms/pkg/memory/graph"
	"github.com/thoughtmemory/tms/pkg/memory/sqlite"
	"github.com/thoughtmemory/tms/pkg/memory/vectorindex"
)

func newTestGraph(t *testing.T, dim int) (*graph.Graph, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", dim, vectorindex.NewDense(dim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return graph.NewGraph(store), store
}

func vec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func thought(id, session string, ts time.Time, embedding []float32) memory.Thought {
	return memory.Thought{
		ID: id, SessionID: session, Category: "fact", Confidence: 1,
		RawText: id, CleanedText: id, TimestampUTC: ts,
		Embedding: embedding, EmbeddingDim: len(embedding),
	}
}

func TestGraph_AddThought_StoresAndLinksTemporalSuccessor(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGraph(t, 4)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := graph.AddThoughtOptions{StoreIfMissing: true, TemporalLink: true}

	first, err := g.AddThought(ctx, thought("a", "s1", base, vec(4, 0)), opts)
	require.NoError(t, err)
	_, err = g.AddThought(ctx, thought("b", "s1", base.Add(time.Minute), vec(4, 1)), opts)
	require.NoError(t, err)

	neighbors, err := g.Neighbors(ctx, "a", 1, []string{memory.RelationTemporalSuccessor}, 10)
	require.NoError(t, err)
	assert.Contains(t, neighbors, "b")
	assert.Equal(t, "a", first.ID)
}

func TestGraph_AddThought_LinksSemanticNeighborsAboveThreshold(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGraph(t, 4)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := graph.AddThoughtOptions{StoreIfMissing: true, SemanticNeighbors: 3, SemanticThreshold: 0.80}

	_, err := g.AddThought(ctx, thought("a", "s1", base, vec(4, 0)), graph.AddThoughtOptions{StoreIfMissing: true})
	require.NoError(t, err)
	// "dup" has the exact same embedding as "a", so cosine similarity is 1.0.
	_, err = g.AddThought(ctx, thought("dup", "s1", base.Add(time.Minute), vec(4, 0)), opts)
	require.NoError(t, err)

	neighbors, err := g.Neighbors(ctx, "a", 1, []string{memory.RelationSemanticSimilarity}, 10)
	require.NoError(t, err)
	assert.Contains(t, neighbors, "dup")
}

func TestGraph_Link_RejectsSelfEdgeAndNegativeWeight(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(t, 4)

	require.NoError(t, g.Link(ctx, "a", "a", memory.RelationExplicitReference, 1.0, nil, false))

	err := g.Link(ctx, "a", "b", memory.RelationExplicitReference, -1.0, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrNegativeWeight)
}

func TestGraph_Link_Bidirectional(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(t, 4)

	require.NoError(t, g.Link(ctx, "a", "b", memory.RelationExplicitReference, 1.0, nil, true))

	fromA, err := g.Neighbors(ctx, "a", 1, nil, 10)
	require.NoError(t, err)
	assert.Contains(t, fromA, "b")

	fromB, err := g.Neighbors(ctx, "b", 1, nil, 10)
	require.NoError(t, err)
	assert.Contains(t, fromB, "a")
}

func TestGraph_Neighbors_BoundedByHops(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(t, 4)

	require.NoError(t, g.Link(ctx, "a", "b", memory.RelationExplicitReference, 1.0, nil, false))
	require.NoError(t, g.Link(ctx, "b", "c", memory.RelationExplicitReference, 1.0, nil, false))
	require.NoError(t, g.Link(ctx, "c", "d", memory.RelationExplicitReference, 1.0, nil, false))

	oneHop, err := g.Neighbors(ctx, "a", 1, nil, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, oneHop)

	twoHop, err := g.Neighbors(ctx, "a", 2, nil, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, twoHop)
}

func TestGraph_FindPaths_TrivialSelfPath(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(t, 4)

	paths, err := g.FindPaths(ctx, "a", "a", 4, 10, nil)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"a"}, paths[0])
}

func TestGraph_FindPaths_DirectAndTransitive(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(t, 4)

	require.NoError(t, g.Link(ctx, "a", "b", memory.RelationExplicitReference, 1.0, nil, false))
	require.NoError(t, g.Link(ctx, "b", "c", memory.RelationExplicitReference, 1.0, nil, false))

	paths, err := g.FindPaths(ctx, "a", "c", 4, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	assert.Contains(t, paths, []string{"a", "b", "c"})
}

func TestGraph_ClusterByTopic_ConnectedComponents(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(t, 4)

	require.NoError(t, g.Link(ctx, "a", "b", memory.RelationSemanticSimilarity, 0.9, nil, false))
	require.NoError(t, g.Link(ctx, "c", "d", memory.RelationSemanticSimilarity, 0.9, nil, false))
	// Unrelated-relation edge must not merge clusters.
	require.NoError(t, g.Link(ctx, "b", "c", memory.RelationExplicitReference, 1.0, nil, false))

	clusters, err := g.ClusterByTopic(ctx, 2)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, clusters[0])
	assert.ElementsMatch(t, []string{"c", "d"}, clusters[1])
}

func TestGraph_ClusterByTopic_FiltersBelowMinSize(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(t, 4)

	require.NoError(t, g.Link(ctx, "a", "b", memory.RelationSemanticSimilarity, 0.9, nil, false))

	clusters, err := g.ClusterByTopic(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestGraph_TemporalRange_OrderedAscendingAndFiltered(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGraph(t, 4)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	require.NoError(t, store.CreateSession(ctx, "s2", "", nil))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := graph.AddThoughtOptions{StoreIfMissing: true}

	_, err := g.AddThought(ctx, thought("late", "s1", base.Add(2*time.Hour), vec(4, 0)), opts)
	require.NoError(t, err)
	_, err = g.AddThought(ctx, thought("early", "s1", base, vec(4, 1)), opts)
	require.NoError(t, err)
	_, err = g.AddThought(ctx, thought("other-session", "s2", base.Add(time.Hour), vec(4, 2)), opts)
	require.NoError(t, err)

	results, err := g.TemporalRange(ctx, base, base.Add(3*time.Hour), "s1", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "early", results[0].ID)
	assert.Equal(t, "late", results[1].ID)
}

func TestGraph_NeighborIDs_SatisfiesGraphExpander(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(t, 4)
	require.NoError(t, g.Link(ctx, "a", "b", memory.RelationExplicitReference, 1.0, nil, false))

	var expander memory.GraphExpander = g
	ids, err := expander.NeighborIDs(ctx, "a", 1, 10)
	require.NoError(t, err)
	assert.Contains(t, ids, "b")
}
