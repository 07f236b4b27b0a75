package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtmemory/tms/internal/app"
	"github.com/thoughtmemory/tms/internal/config"
	"github.com/thoughtmemory/tms/pkg/ingest"
	"github.com/thoughtmemory/tms/pkg/memory"
	"github.com/thoughtmemory/tms/pkg/memory/sqlite"
	"github.com/thoughtmemory/tms/pkg/memory/vectorindex"
	embeddingsmock "github.com/thoughtmemory/tms/pkg/provider/embeddings/mock"
	llmmock "github.com/thoughtmemory/tms/pkg/provider/llm/mock"
)

const testDim = 8

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Store: config.StoreConfig{
			SQLitePath:          ":memory:",
			EmbeddingDimensions: testDim,
			VectorBackend:       config.VectorBackendDense,
		},
		Reflection: config.ReflectionConfig{
			DefaultMode: config.ReflectionModeReasoning,
			DefaultTopK: 4,
		},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		Embeddings: &embeddingsmock.Provider{DimensionsValue: testDim, EmbedResult: make([]float32, testDim)},
		LLM:        &llmmock.Client{},
	}
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", testDim, vectorindex.NewDense(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNew_WithInjectedStore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	application, err := app.New(context.Background(), testConfig(), testProviders(), app.WithStore(store))
	require.NoError(t, err)
	require.NotNil(t, application)

	assert.Same(t, store, application.Store())
	assert.NotNil(t, application.Graph())
	assert.NotNil(t, application.ReflectionEngine())
	assert.NotNil(t, application.Pipeline())
}

func TestNew_CreatesStoreFromConfigWhenNotInjected(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders())
	require.NoError(t, err)
	require.NotNil(t, application)
	assert.NotNil(t, application.Store())
}

func TestNew_RequiresEmbeddingsProvider(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.Embeddings = nil

	_, err := app.New(context.Background(), testConfig(), providers)
	assert.Error(t, err)
}

func TestApp_Shutdown_ClosesStore(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Shutdown(ctx))

	// A second Shutdown call must be a no-op (stopOnce), not an error or panic.
	require.NoError(t, application.Shutdown(ctx))
}

func TestApp_RunReturnsOnContextCancellation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	application, err := app.New(context.Background(), testConfig(), testProviders(), app.WithStore(store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}

func TestApp_Wiring_IngestThenRetrieve(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	application, err := app.New(context.Background(), testConfig(), testProviders(), app.WithStore(store))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "s1", "", nil))

	result, err := application.Pipeline().ParseAndStore(ctx, "/thought[a fact worth keeping]", ingest.DefaultOptions("s1"))
	require.NoError(t, err)
	require.Len(t, result.Thoughts, 1)

	thoughts, err := application.Store().Retrieve(ctx, memory.ThoughtFilters{SessionID: "s1"}, 10)
	require.NoError(t, err)
	assert.Len(t, thoughts, 1)
}
