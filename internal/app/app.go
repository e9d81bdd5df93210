// Package app assembles the assistant from its parts.
//
// Setup builds everything in dependency order: tracing before Genkit so the
// span processor is registered on Genkit's TracerProvider, the database pool
// before the vector index, the remote pool before the registry and router.
// App owns the long-lived resources; everything request-scoped lives inside
// the orchestrator's turn.
package app

import (
	"context"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/maestro/internal/capability"
	"github.com/koopa0/maestro/internal/config"
	"github.com/koopa0/maestro/internal/genai"
	"github.com/koopa0/maestro/internal/intent"
	"github.com/koopa0/maestro/internal/log"
	"github.com/koopa0/maestro/internal/orchestrator"
	"github.com/koopa0/maestro/internal/pgindex"
	"github.com/koopa0/maestro/internal/remote"
	"github.com/koopa0/maestro/internal/retrieval"
	"github.com/koopa0/maestro/internal/router"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Backend  *genai.Backend
	Embedder *genai.Embedder
	Renderer *genai.Renderer

	DBPool *pgxpool.Pool
	Index  *pgindex.Index
	Engine *retrieval.Engine

	Remotes      *remote.Pool
	Capabilities *capability.Registry
	Intent       *intent.Pipeline
	Router       *router.Router

	Orchestrator *orchestrator.Orchestrator

	otelCleanup func()
	cancel      context.CancelFunc
}

// Close releases all resources in reverse initialization order.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}

	if a.Remotes != nil {
		if err := a.Remotes.Close(); err != nil {
			a.Logger.Warn("closing remote connections", "error", err)
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
