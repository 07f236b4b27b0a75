package reflection_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtmemory/tms/internal/resilience"
	"github.com/thoughtmemory/tms/pkg/memory"
	"github.com/thoughtmemory/tms/pkg/memory/graph"
	"github.com/thoughtmemory/tms/pkg/memory/sqlite"
	"github.com/thoughtmemory/tms/pkg/memory/vectorindex"
	"github.com/thoughtmemory/tms/pkg/provider/embeddings/hash"
	llmmock "github.com/thoughtmemory/tms/pkg/provider/llm/mock"
	"github.com/thoughtmemory/tms/pkg/reflection"
)

const testDim = 16

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", testDim, vectorindex.NewDense(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEngine_Reflect_FallbackSynthesizerWithoutLLM(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	embedder := hash.New(testDim)

	vec, err := embedder.Embed(ctx, "rollback plan documented")
	require.NoError(t, err)
	_, err = store.BatchStore(ctx, []memory.Thought{{
		ID: "seed", SessionID: "s1", Category: "fact", Confidence: 0.9,
		RawText: "rollback plan documented", CleanedText: "rollback plan documented",
		Embedding: vec, EmbeddingDim: testDim,
	}})
	require.NoError(t, err)

	engine := reflection.NewEngine(store, embedder)
	result, err := engine.Reflect(ctx, reflection.ReflectOptions{
		Query:            "what is the rollback plan",
		CurrentSessionID: "s1",
		Mode:             reflection.ModeReasoning,
		TopK:             4,
	})
	require.NoError(t, err)
	assert.Contains(t, result.ReflectionText, "<thought")
	assert.NotEmpty(t, result.StoredReflections)
	for _, r := range result.StoredReflections {
		assert.Equal(t, "reflection", r.Category)
		assert.Contains(t, r.Tags, "reflection")
	}
}

func TestEngine_Reflect_UsesLLMWhenConfigured(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	embedder := hash.New(testDim)

	client := &llmmock.Client{
		CompleteResponse: `<thought id="r1" category="reflection" confidence="0.8">a synthesized reflection</thought>`,
	}

	engine := reflection.NewEngine(store, embedder, reflection.WithLLM(client))
	result, err := engine.Reflect(ctx, reflection.ReflectOptions{
		Query:            "anything",
		CurrentSessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, client.CompleteResponse, result.ReflectionText)
	require.Len(t, result.StoredReflections, 1)
	assert.Equal(t, "a synthesized reflection", result.StoredReflections[0].CleanedText)
	assert.Len(t, client.CompleteCalls, 1)
}

func TestEngine_Reflect_CircuitBreakerOpenFallsBackToSynthesizer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	embedder := hash.New(testDim)

	client := &llmmock.Client{CompleteErr: errors.New("provider unavailable")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test", MaxFailures: 1})

	engine := reflection.NewEngine(store, embedder, reflection.WithLLM(client), reflection.WithCircuitBreaker(cb))
	result, err := engine.Reflect(ctx, reflection.ReflectOptions{
		Query:            "q",
		CurrentSessionID: "s1",
	})
	require.NoError(t, err)
	assert.Contains(t, result.ReflectionText, "<thought")
	assert.NotEmpty(t, result.StoredReflections)
}

func TestEngine_Reflect_RejectsUnsupportedMode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	embedder := hash.New(testDim)
	engine := reflection.NewEngine(store, embedder)

	_, err := engine.Reflect(ctx, reflection.ReflectOptions{
		Query: "q", CurrentSessionID: "s1", Mode: "not-a-real-mode",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrUnsupportedMode)
}

func TestEngine_Reflect_LinksStoredReflectionToRecalledSeed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	embedder := hash.New(testDim)
	g := graph.NewGraph(store)

	vec, err := embedder.Embed(ctx, "seed content")
	require.NoError(t, err)
	_, err = g.AddThought(ctx, memory.Thought{
		ID: "seed", SessionID: "s1", Category: "fact", Confidence: 1,
		RawText: "seed content", CleanedText: "seed content",
		Embedding: vec, EmbeddingDim: testDim,
	}, graph.AddThoughtOptions{StoreIfMissing: true})
	require.NoError(t, err)

	client := &llmmock.Client{
		CompleteResponse: `<thought id="r1" category="reflection" confidence="0.8">linked reflection</thought>`,
	}
	engine := reflection.NewEngine(store, embedder, reflection.WithGraph(g), reflection.WithLLM(client))

	_, err = engine.Reflect(ctx, reflection.ReflectOptions{
		Query: "seed content", CurrentSessionID: "s1",
	})
	require.NoError(t, err)

	// The explicit-reference edge runs from the recalled seed to the reflection.
	neighbors, err := g.Neighbors(ctx, "seed", 1, []string{memory.RelationExplicitReference}, 10)
	require.NoError(t, err)
	assert.Contains(t, neighbors, "r1")
}
