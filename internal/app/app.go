// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: the database
// pool, Genkit instance, document store, indexer, checkpoint store, engine,
// and HTTP server. Setup builds it; Close releases it.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jfgonzales/fred/internal/api"
	"github.com/jfgonzales/fred/internal/checkpoint"
	"github.com/jfgonzales/fred/internal/config"
	"github.com/jfgonzales/fred/internal/docstore"
	"github.com/jfgonzales/fred/internal/engine"
	"github.com/jfgonzales/fred/internal/ingest"
	"github.com/jfgonzales/fred/internal/log"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit      *genkit.Genkit
	Embedder    ai.Embedder
	DBPool      *pgxpool.Pool
	DocStore    *docstore.Store
	Indexer     *ingest.Indexer
	Checkpoints *checkpoint.Store
	Engine      *engine.Engine
	Server      *api.Server

	dbCleanup func()
}

// Close releases all resources held by the application.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
		a.dbCleanup = nil
	}
	return nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx, a.Config.HTTPAddr)
}
