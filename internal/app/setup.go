package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jfgonzales/fred/db"
	"github.com/jfgonzales/fred/internal/api"
	"github.com/jfgonzales/fred/internal/checkpoint"
	"github.com/jfgonzales/fred/internal/config"
	"github.com/jfgonzales/fred/internal/docstore"
	"github.com/jfgonzales/fred/internal/engine"
	"github.com/jfgonzales/fred/internal/ingest"
	"github.com/jfgonzales/fred/internal/log"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.DocStore = docstore.New(pool, embedder,
		time.Duration(cfg.EmbedTimeoutMs)*time.Millisecond, logger)
	a.Indexer = ingest.NewIndexer(a.DocStore, cfg.ChunkSize, cfg.ChunkOverlap, logger)
	a.Checkpoints = checkpoint.New(pool, logger)

	if count, err := a.DocStore.Count(ctx); err != nil {
		logger.Warn("counting indexed chunks", "error", err)
	} else {
		logger.Info("knowledge store ready", "chunks", count)
	}

	eng, err := engine.New(engine.Config{
		Genkit:      g,
		Checkpoints: a.Checkpoints,
		Retriever:   a.DocStore,
		Logger:      logger,
		ModelName:   cfg.FullModelName(),
		TopK:        cfg.RetrievalTopK,
		Timeouts: engine.Timeouts{
			Generate: time.Duration(cfg.GenerateTimeoutMs) * time.Millisecond,
			Search:   time.Duration(cfg.SearchTimeoutMs) * time.Millisecond,
			Persist:  time.Duration(cfg.PersistTimeoutMs) * time.Millisecond,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	a.Engine = eng

	server, err := api.NewServer(api.Config{
		Chat:        api.NewChatHandler(eng, logger),
		Ingest:      api.NewIngestHandler(a.Indexer, a.DocStore, logger),
		Health:      api.NewHealthHandler(pool, logger),
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Server = server

	logger.Info("application initialized",
		"model", cfg.FullModelName(),
		"embedder", cfg.EmbedderModel,
		"top_k", cfg.RetrievalTopK,
	)

	return a, nil
}

// provideGenkit initializes Genkit with the Google AI plugin.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	logger.Debug("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)
	return g, nil
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}

	return pool, cleanup, nil
}
