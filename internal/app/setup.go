package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/maestro/db"
	"github.com/koopa0/maestro/internal/capability"
	"github.com/koopa0/maestro/internal/config"
	"github.com/koopa0/maestro/internal/genai"
	"github.com/koopa0/maestro/internal/intent"
	"github.com/koopa0/maestro/internal/log"
	"github.com/koopa0/maestro/internal/observability"
	"github.com/koopa0/maestro/internal/orchestrator"
	"github.com/koopa0/maestro/internal/pgindex"
	"github.com/koopa0/maestro/internal/remote"
	"github.com/koopa0/maestro/internal/retrieval"
	"github.com/koopa0/maestro/internal/router"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{
		Config: cfg,
		Logger: log.New(log.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON}),
	}

	// On error, release everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				a.Logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, a.Logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Renderer = genai.NewRenderer(g)

	backend, err := genai.NewBackend(genai.BackendConfig{
		Genkit:            g,
		ModelName:         qualifiedModelName(cfg.Provider, cfg.ModelName),
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            a.Logger.With("component", "genai"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating model backend: %w", err)
	}
	a.Backend = backend

	classifier, err := genai.NewClassifier(genai.ClassifierConfig{
		Genkit:      g,
		ModelName:   qualifiedModelName(cfg.Provider, cfg.ModelName),
		MaxTokens:   cfg.Classifier.MaxTokens,
		Temperature: cfg.Classifier.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("creating classifier: %w", err)
	}

	a.Embedder = genai.NewEmbedder(provideEmbedder(g, cfg))
	a.Index = pgindex.New(pool, a.Logger.With("component", "pgindex"))

	engine, err := retrieval.NewEngine(retrieval.EngineConfig{
		Embedders:   map[string]retrieval.Embedder{cfg.Retrieval.Provider: a.Embedder},
		Translators: map[string]retrieval.FilterTranslator{cfg.Retrieval.Provider: pgindex.Translator{}},
		Index:       a.Index,
		Logger:      a.Logger.With("component", "retrieval"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating retrieval engine: %w", err)
	}
	a.Engine = engine

	a.Remotes = remote.NewPool(remote.PoolConfig{
		Connections: cfg.RemoteConnections(),
		Logger:      a.Logger.With("component", "remote"),
	})
	a.Capabilities = capability.NewRegistry(a.Remotes, a.Logger.With("component", "capability"))
	a.Router = router.New(a.Remotes, a.Logger.With("component", "router"))

	a.Intent = intent.NewPipeline(a.Logger.With("component", "intent"),
		intent.NewKeywordStrategy(nil),
		&intent.DataSourceStrategy{SearchToolName: orchestrator.SearchToolName},
		intent.RemotePresenceStrategy{},
		intent.NewRemoteMatcher(classifier, a.Remotes, cfg.Classifier.Timeout(), a.Logger.With("component", "matcher")),
	)

	orch, err := orchestrator.New(orchestrator.Config{
		Backend:      a.Backend,
		Intent:       a.Intent,
		Capabilities: a.Capabilities,
		Router:       a.Router,
		Engine:       a.Engine,
		Profile: retrieval.Profile{
			Provider:      cfg.Retrieval.Provider,
			TopN:          cfg.Retrieval.TopN,
			Strictness:    cfg.Retrieval.Strictness,
			StrictnessMax: cfg.Retrieval.StrictnessMax,
			InScopeOnly:   cfg.Retrieval.InScopeOnly,
		},
		MaxIterations: cfg.MaxIterations,
		Logger:        a.Logger.With("component", "orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// provideOtelShutdown sets up tracing before Genkit initialization so the
// span processor is registered on Genkit's TracerProvider from the start.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}, logger)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), googleai, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx,
			genkit.WithPlugins(&openai.OpenAI{}),
			genkit.WithPromptDir("prompts"),
		)
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}

	default: // gemini, googleai
		g = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{}),
			genkit.WithPromptDir("prompts"),
		)
		if g == nil {
			return nil, fmt.Errorf("initializing genkit with %s provider", cfg.Provider)
		}
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini/googleai: GoogleAIEmbedder(g, modelName)
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.Retrieval.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.Retrieval.EmbedderModel)
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// qualifiedModelName prefixes the model with its Genkit plugin namespace.
// The googlegenai plugin registers models as "googleai/<name>" regardless of
// whether the operator configured the provider as gemini or googleai.
func qualifiedModelName(provider, model string) string {
	switch provider {
	case config.ProviderOpenAI:
		return "openai/" + model
	default:
		return "googleai/" + model
	}
}
