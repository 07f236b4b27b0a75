// Command thoughtmemory is the main entry point for the thought memory service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thoughtmemory/tms/internal/app"
	"github.com/thoughtmemory/tms/internal/config"
	"github.com/thoughtmemory/tms/internal/observe"
	"github.com/thoughtmemory/tms/pkg/provider/embeddings"
	"github.com/thoughtmemory/tms/pkg/provider/embeddings/hash"
	embeddingsmock "github.com/thoughtmemory/tms/pkg/provider/embeddings/mock"
	"github.com/thoughtmemory/tms/pkg/provider/llm"
	llmmock "github.com/thoughtmemory/tms/pkg/provider/llm/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "thoughtmemory: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "thoughtmemory: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("thoughtmemory starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"sqlite_path", cfg.Store.SQLitePath,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "thoughtmemory"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Application wiring ────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("service ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders registers the offline reference providers that
// ship with this service. "hash" and "mock" run with no external dependency
// so the whole pipeline exercises end-to-end without live credentials;
// remote providers (openai, anthropic, ollama) are named in
// [config.ValidProviderNames] but have no factory registered here. A config
// that names one as the embeddings provider fails at buildProviders with
// [config.ErrProviderNotRegistered]; one named as the LLM provider is logged
// and skipped, leaving reflection on its fallback synthesizer.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterEmbeddings("hash", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		dims := 384
		if raw, ok := entry.Options["dimensions"]; ok {
			if n, ok := raw.(int); ok && n > 0 {
				dims = n
			}
		}
		return hash.New(dims), nil
	})
	reg.RegisterEmbeddings("mock", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return &embeddingsmock.Provider{}, nil
	})
	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Client, error) {
		return &llmmock.Client{CompleteResponse: "<thought id=\"reflection-0\">reflection unavailable: mock provider configured</thought>"}, nil
	})
}

// buildProviders instantiates the configured providers and returns them in
// an [app.Providers] struct. Unset provider names are left nil; the
// embeddings provider falls back to the deterministic hash embedder so the
// service still runs end-to-end without any configuration at all.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	embeddingsName := cfg.Providers.Embeddings.Name
	if embeddingsName == "" {
		embeddingsName = "hash"
		cfg.Providers.Embeddings.Options = map[string]any{"dimensions": cfg.Store.EmbeddingDimensions}
	}
	embedder, err := reg.CreateEmbeddings(config.ProviderEntry{
		Name:    embeddingsName,
		APIKey:  cfg.Providers.Embeddings.APIKey,
		BaseURL: cfg.Providers.Embeddings.BaseURL,
		Model:   cfg.Providers.Embeddings.Model,
		Options: cfg.Providers.Embeddings.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", embeddingsName, err)
	}
	ps.Embeddings = embedder
	slog.Info("provider created", "kind", "embeddings", "name", embeddingsName)

	if name := cfg.Providers.LLM.Name; name != "" {
		client, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not registered — reflection will use the deterministic fallback synthesizer", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = client
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	} else {
		slog.Info("no llm provider configured — reflection will use the deterministic fallback synthesizer")
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║    thoughtmemory — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("LLM provider", firstNonEmpty(cfg.Providers.LLM.Name, "(fallback synthesizer)"))
	printField("Embeddings provider", firstNonEmpty(cfg.Providers.Embeddings.Name, "hash"))
	printField("Reflection mode", string(cfg.Reflection.DefaultMode))
	printField("Reflection top-k", fmt.Sprintf("%d", cfg.Reflection.DefaultTopK))
	printField("Vector backend", string(cfg.Store.VectorBackend))
	printField("SQLite path", cfg.Store.SQLitePath)
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-19s: %-19s ║\n", label, value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
