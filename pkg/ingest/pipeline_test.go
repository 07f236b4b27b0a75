package ingest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtmemory/tms/pkg/ingest"
	"github.com/thoughtmemory/tms/pkg/memory"
	"github.com/thoughtmemory/tms/pkg/memory/sqlite"
	"github.com/thoughtmemory/tms/pkg/memory/vectorindex"
	"github.com/thoughtmemory/tms/pkg/provider/embeddings/hash"
)

const testDim = 16

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", testDim, vectorindex.NewDense(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPipeline_ParseAndStore_RegexGrammarByDefault(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	p := ingest.NewPipeline(store, hash.New(testDim))

	raw := "intro /thought[first idea] middle /thought[second idea] outro"
	result, err := p.ParseAndStore(ctx, raw, ingest.DefaultOptions("s1"))
	require.NoError(t, err)
	require.Len(t, result.Thoughts, 2)
	assert.False(t, result.UsedLinearFallback)
	assert.Equal(t, "first idea", result.Thoughts[0].CleanedText)
	assert.Equal(t, "second idea", result.Thoughts[1].CleanedText)
	assert.Contains(t, result.CleanedOutput, "intro")
	assert.Contains(t, result.CleanedOutput, "outro")
	assert.NotEmpty(t, result.Thoughts[0].ID)

	persisted, err := store.Retrieve(ctx, memory.ThoughtFilters{SessionID: "s1"}, 10)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

// TestParseAndStoreLinearFallbackPrecedence pins the fallback heuristic: the
// linear bracket-balanced grammar is used (and its cleaned output returned)
// only when it captures strictly more than the regex grammar — here, nested
// brackets the non-greedy regex truncates.
func TestParseAndStoreLinearFallbackPrecedence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	p := ingest.NewPipeline(store, hash.New(testDim))

	raw := "before /thought[outer [inner] tail] after"
	result, err := p.ParseAndStore(ctx, raw, ingest.DefaultOptions("s1"))
	require.NoError(t, err)
	require.Len(t, result.Thoughts, 1)
	assert.True(t, result.UsedLinearFallback)
	assert.Equal(t, "outer [inner] tail", result.Thoughts[0].CleanedText)
}

func TestPipeline_ParseAndStore_NoFallbackWhenDisabled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	p := ingest.NewPipeline(store, hash.New(testDim))

	opts := ingest.DefaultOptions("s1")
	opts.LinearFallback = false

	raw := "/thought[outer [inner] tail]"
	result, err := p.ParseAndStore(ctx, raw, opts)
	require.NoError(t, err)
	require.Len(t, result.Thoughts, 1)
	assert.False(t, result.UsedLinearFallback)
	assert.Equal(t, "outer [inner", result.Thoughts[0].CleanedText)
}

func TestPipeline_ParseAndStore_NoThoughtsFoundStillReturnsCleanedOutput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	p := ingest.NewPipeline(store, hash.New(testDim))

	result, err := p.ParseAndStore(ctx, "just plain text", ingest.DefaultOptions("s1"))
	require.NoError(t, err)
	assert.Empty(t, result.Thoughts)
	assert.Equal(t, "just plain text", result.CleanedOutput)
}

func TestPipeline_ParseAndStore_RejectsEmptySessionID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := ingest.NewPipeline(store, hash.New(testDim))

	_, err := p.ParseAndStore(ctx, "/thought[x]", ingest.Options{SessionID: "  "})
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestPipeline_ParseAndStore_PreservesFragmentOrderBeyondTenFragments(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))
	p := ingest.NewPipeline(store, hash.New(testDim))

	raw := ""
	for i := 0; i < 12; i++ {
		raw += "/thought[fragment " + string(rune('a'+i)) + "] "
	}
	result, err := p.ParseAndStore(ctx, raw, ingest.DefaultOptions("s1"))
	require.NoError(t, err)
	require.Len(t, result.Thoughts, 12)
	assert.Equal(t, "fragment a", result.Thoughts[0].CleanedText)
	assert.Equal(t, "fragment k", result.Thoughts[10].CleanedText)
	assert.Equal(t, "fragment l", result.Thoughts[11].CleanedText)
}
