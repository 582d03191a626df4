// Command clarivox is the main entry point for the Clarivox transcript
// cleansing server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/clarivox/internal/catalog"
	"github.com/MrWong99/clarivox/internal/cleaning"
	"github.com/MrWong99/clarivox/internal/config"
	"github.com/MrWong99/clarivox/internal/decision"
	"github.com/MrWong99/clarivox/internal/health"
	"github.com/MrWong99/clarivox/internal/ingest"
	"github.com/MrWong99/clarivox/internal/observe"
	"github.com/MrWong99/clarivox/internal/orchestrator"
	"github.com/MrWong99/clarivox/internal/queue"
	"github.com/MrWong99/clarivox/internal/resilience"
	"github.com/MrWong99/clarivox/internal/session"
	"github.com/MrWong99/clarivox/internal/store"
	"github.com/MrWong99/clarivox/pkg/provider/llm"
	"github.com/MrWong99/clarivox/pkg/provider/llm/anyllm"
	"github.com/MrWong99/clarivox/pkg/provider/llm/mock"
	"github.com/MrWong99/clarivox/pkg/provider/llm/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", false, "hot-reload the config file on change")
	flag.Parse()

	// .env is optional; it seeds the environment before ${VAR} expansion in
	// the config file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "clarivox: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "clarivox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "clarivox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("clarivox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "clarivox",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "err", err)
		return 1
	}
	defer st.Close()
	slog.Info("store opened", "backend", cfg.Store.Backend)

	// ── Model providers ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	cleanProv, decideProv, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build model providers", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	var cleanOpts []cleaning.Option
	if cfg.Cleaning.Timeout > 0 {
		cleanOpts = append(cleanOpts, cleaning.WithTimeout(cfg.Cleaning.Timeout))
	}
	if cfg.Cleaning.Temperature > 0 {
		cleanOpts = append(cleanOpts, cleaning.WithTemperature(cfg.Cleaning.Temperature))
	}
	cleanOpts = append(cleanOpts,
		cleaning.WithVerifier(cleaning.NewVerifier()),
		cleaning.WithMetrics(metrics),
	)
	cleaner := cleaning.New(cleanProv, cleanOpts...)

	var decideOpts []decision.Option
	if cfg.Cleaning.Timeout > 0 {
		decideOpts = append(decideOpts, decision.WithTimeout(cfg.Cleaning.Timeout))
	}
	decideOpts = append(decideOpts, decision.WithMetrics(metrics))
	engine := decision.New(decideProv, catalog.NewBuiltin(), decideOpts...)

	orch, err := orchestrator.New(orchestrator.Config{
		Store:   st,
		Cleaner: cleaner,
		Engine:  engine,
		Metrics: metrics,
		SessionDefaults: session.Config{
			Template:        cfg.Session.Template,
			BusinessContext: cfg.Session.BusinessContext,
			Level:           cfg.Cleaning.Level,
			CleanWindow:     cfg.Session.CleanWindow,
			FuncWindow:      cfg.Session.FuncWindow,
		},
	})
	if err != nil {
		slog.Error("failed to initialise orchestrator", "err", err)
		return 1
	}

	// ── Queue ─────────────────────────────────────────────────────────────────
	backend, err := buildQueueBackend(ctx, cfg, st)
	if err != nil {
		slog.Error("failed to open queue backend", "backend", cfg.Queue.Backend, "err", err)
		return 1
	}
	defer backend.Close()

	svc := queue.NewService(backend, metrics)

	pool, err := queue.NewPool(queue.PoolConfig{
		Backend: backend,
		Handler: func(ctx context.Context, job queue.Job) error {
			_, err := orch.ProcessTurn(ctx, job.SessionID, job.Turn)
			return err
		},
		Workers:    cfg.Queue.Workers,
		MaxRetries: cfg.Queue.MaxRetries,
		Metrics:    metrics,
	})
	if err != nil {
		slog.Error("failed to build worker pool", "err", err)
		return 1
	}

	// ── Config hot reload (optional) ──────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(orch, config.Diff(old, new), new)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	ingest.NewServer(svc, orch).Register(mux)
	health.New(
		health.StoreChecker(st),
		health.QueueChecker(backend, cfg.Queue.MaxDepth),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("server ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// Wait for in-flight audit writes before the store closes.
	orch.Flush()
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the model provider factories that ship with
// Clarivox into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// Direct OpenAI SDK provider.
	reg.RegisterModel("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// any-llm-go backends sharing the APIKey + BaseURL pattern.
	for _, backendName := range []string{"openai", "anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterModel("anyllm/"+backendName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backendName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterModel("anyllm/ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// mock is a passthrough double for local development without a backend:
	// cleaning falls back to the raw text, decisions are no-ops.
	reg.RegisterModel("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return &mock.Provider{
			Response: &llm.CompletionResponse{Content: "{}"},
		}, nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered model provider", "name", name)
	}
}

// buildProviders instantiates the cleaning and decision providers named in
// cfg. When fallbacks are configured, both primaries are wrapped in a
// circuit-breaking fallback group sharing the same fallback backends. The
// decision stage reuses the cleaning provider when not configured separately.
func buildProviders(cfg *config.Config, reg *config.Registry) (cleanProv, decideProv llm.Provider, err error) {
	cleanProv, err = reg.CreateModel(cfg.Providers.Cleaning)
	if err != nil {
		return nil, nil, fmt.Errorf("create cleaning provider %q: %w", cfg.Providers.Cleaning.Name, err)
	}
	slog.Info("provider created", "stage", "cleaning", "name", cleanProv.Name(), "model", cfg.Providers.Cleaning.Model)

	if cfg.Providers.Decision.Name != "" {
		decideProv, err = reg.CreateModel(cfg.Providers.Decision)
		if err != nil {
			return nil, nil, fmt.Errorf("create decision provider %q: %w", cfg.Providers.Decision.Name, err)
		}
		slog.Info("provider created", "stage", "decision", "name", decideProv.Name(), "model", cfg.Providers.Decision.Model)
	} else {
		decideProv = cleanProv
	}

	if len(cfg.Providers.Fallbacks) == 0 {
		return cleanProv, decideProv, nil
	}

	fallbacks := make([]llm.Provider, 0, len(cfg.Providers.Fallbacks))
	for _, entry := range cfg.Providers.Fallbacks {
		p, err := reg.CreateModel(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create fallback provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "stage", "fallback", "name", p.Name(), "model", entry.Model)
		fallbacks = append(fallbacks, p)
	}

	cleanFB := resilience.NewModelFallback(cleanProv, resilience.FallbackConfig{})
	decideFB := resilience.NewModelFallback(decideProv, resilience.FallbackConfig{})
	for _, p := range fallbacks {
		cleanFB.AddFallback(p)
		decideFB.AddFallback(p)
	}
	return cleanFB, decideFB, nil
}

// buildQueueBackend selects the queue implementation. The postgres queue
// shares the store's connection pool, which the loader has already verified.
func buildQueueBackend(ctx context.Context, cfg *config.Config, st store.Store) (queue.Backend, error) {
	if cfg.Queue.Backend != config.QueuePostgres {
		return queue.NewMemoryBackend(), nil
	}
	pg, ok := st.(*store.PostgresStore)
	if !ok {
		return nil, errors.New("postgres queue backend requires the postgres store")
	}
	return queue.NewPostgresBackend(ctx, pg.Pool())
}

// applyReload applies the hot-reloadable parts of a config change.
func applyReload(orch *orchestrator.Orchestrator, d config.ConfigDiff, cfg *config.Config) {
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		slog.SetDefault(newLogger(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.CleaningChanged || d.SessionChanged {
		defaults := orch.SessionDefaults()
		defaults.Template = cfg.Session.Template
		defaults.BusinessContext = cfg.Session.BusinessContext
		defaults.Level = cfg.Cleaning.Level
		defaults.CleanWindow = cfg.Session.CleanWindow
		defaults.FuncWindow = cfg.Session.FuncWindow
		orch.SetSessionDefaults(defaults)
		slog.Info("session defaults updated; existing sessions keep their configuration")
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
