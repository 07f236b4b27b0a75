// Package app wires the thought memory subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// store, vector index, graph, reflection engine, and ingestion pipeline;
// Run executes the main processing loop (currently just blocking until
// cancellation — the service has no background workers of its own); and
// Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithGraph, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thoughtmemory/tms/internal/config"
	"github.com/thoughtmemory/tms/internal/observe"
	"github.com/thoughtmemory/tms/internal/resilience"
	"github.com/thoughtmemory/tms/pkg/ingest"
	"github.com/thoughtmemory/tms/pkg/memory"
	"github.com/thoughtmemory/tms/pkg/memory/graph"
	"github.com/thoughtmemory/tms/pkg/memory/sqlite"
	"github.com/thoughtmemory/tms/pkg/memory/vectorindex"
	"github.com/thoughtmemory/tms/pkg/provider/embeddings"
	"github.com/thoughtmemory/tms/pkg/provider/llm"
	"github.com/thoughtmemory/tms/pkg/reflection"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Client
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and orchestrates the thought memory service.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	store     memory.ThoughtStore
	graph     *graph.Graph
	engine    *reflection.Engine
	pipeline  *ingest.Pipeline
	breaker   *resilience.CircuitBreaker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a thought store instead of creating one from config.
func WithStore(s memory.ThoughtStore) Option {
	return func(a *App) { a.store = s }
}

// WithGraph injects a thought graph instead of creating one from the store.
func WithGraph(g *graph.Graph) Option {
	return func(a *App) { a.graph = g }
}

// WithMetrics injects a metrics instance instead of using [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection, graph
// construction, reflection engine assembly, and ingestion pipeline wiring.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Thought store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Thought graph ─────────────────────────────────────────────────
	if a.graph == nil {
		a.graph = graph.NewGraph(a.store)
	}

	// ── 3. Circuit breaker around the LLM client ─────────────────────────
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "reflection-llm"})

	// ── 4. Reflection engine ─────────────────────────────────────────────
	if providers.Embeddings == nil {
		return nil, fmt.Errorf("app: embeddings provider is required")
	}
	engineOpts := []reflection.Option{reflection.WithGraph(a.graph)}
	if providers.LLM != nil {
		engineOpts = append(engineOpts, reflection.WithLLM(providers.LLM), reflection.WithCircuitBreaker(a.breaker))
	}
	a.engine = reflection.NewEngine(a.store, providers.Embeddings, engineOpts...)

	// ── 5. Ingestion pipeline ────────────────────────────────────────────
	a.pipeline = ingest.NewPipeline(a.store, providers.Embeddings)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the SQLite-backed thought store or uses an injected double.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	path := a.cfg.Store.SQLitePath
	if path == "" {
		path = ":memory:"
	}
	dims := a.cfg.Store.EmbeddingDimensions
	if dims == 0 {
		dims = 384
	}

	backend := vectorindex.NewDense(dims)
	store, err := sqlite.NewStore(ctx, path, dims, backend)
	if err != nil {
		return err
	}

	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Store returns the thought store.
func (a *App) Store() memory.ThoughtStore { return a.store }

// Graph returns the thought graph.
func (a *App) Graph() *graph.Graph { return a.graph }

// ReflectionEngine returns the reflection engine.
func (a *App) ReflectionEngine() *reflection.Engine { return a.engine }

// Pipeline returns the ingestion pipeline.
func (a *App) Pipeline() *ingest.Pipeline { return a.pipeline }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run blocks until ctx is cancelled. The service has no background workers
// of its own — ingestion and reflection are invoked synchronously by callers
// (an embedding caller process, an HTTP handler, a CLI command) — so Run
// exists only to give main.go a consistent lifecycle hook to block on.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running")
	<-ctx.Done()
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in the order they were added. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
