package app

import (
	"context"
	"fmt"
	"io"

	"school-copilot/internal/ai"
	"school-copilot/internal/auth"
	"school-copilot/internal/config"
	"school-copilot/internal/database"
	"school-copilot/internal/logger"
	"school-copilot/internal/queue"
	"school-copilot/internal/telemetry"
	"school-copilot/internal/vectordb"
	"school-copilot/middleware"
	"school-copilot/routes"
	"school-copilot/services"
	"school-copilot/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// App holds the wired services shared by the server, worker and migrate
// commands
type App struct {
	Config      *config.Config
	Store       database.Store
	Registry    *vectordb.Registry
	Embedder    ai.Embedder
	Isolation   *services.ClassIsolationService
	Indexer     *services.DocumentIndexer
	RAG         *services.RAGService
	Queries     *services.QueryService
	QueryLogger *services.QueryLogger
	Permissions *services.PermissionService
	Maintenance *services.MaintenanceService
	Tokens      *auth.Manager
	Metrics     *telemetry.Metrics

	// nil without Redis
	Redis *redis.Client

	closers []func() error
}

// New connects the store, loads persisted class indexes and wires every
// service. Redis is optional unless indexing runs async.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, func() error {
		ctx, cancel := utils.WithTimeout(context.Background())
		defer cancel()
		return store.Close(ctx)
	})

	if cfg.QueryCacheEnabled || cfg.IndexingMode == "async" {
		rdb, err := config.NewRedisClient(cfg)
		if err != nil {
			if cfg.IndexingMode == "async" {
				a.Close()
				return nil, err
			}
			logger.Warn("Redis unavailable, query cache disabled", "error", err)
		} else {
			a.Redis = rdb
			a.closers = append(a.closers, rdb.Close)
		}
	}

	embedder, err := ai.NewEmbedder(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.Embedder = embedder

	answerer, err := services.NewAnswerGenerator(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create answer generator: %w", err)
	}
	if c, ok := answerer.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}
	a.Metrics = metrics

	a.Registry = vectordb.NewRegistry(cfg.VectorDBDir, cfg.VectorDimensions)
	a.Registry.SetShared(cfg.IndexingMode == "async")

	// Query embeddings may be cached; document embeddings never are
	queryEmbedder := embedder
	if cfg.QueryCacheEnabled && a.Redis != nil {
		queryEmbedder = services.NewCachedEmbedder(embedder, a.Redis, cfg.QueryCacheTTL)
	}

	a.Isolation = services.NewClassIsolationService(store, a.Registry, embedder, cfg.EmbedTimeout).WithMetrics(metrics)
	a.Indexer = services.NewDocumentIndexer(store, a.Registry, embedder, services.NewTextExtractor(),
		services.NewChunkingService(cfg.ChunkSize, cfg.ChunkOverlap), cfg.EmbedTimeout).WithMetrics(metrics)
	a.RAG = services.NewRAGService(store, a.Registry, queryEmbedder, a.Isolation, answerer,
		services.RetrievalOptionsFromConfig(cfg)).WithMetrics(metrics)
	if _, err := a.RAG.LoadExistingIndexes(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.QueryLogger = services.NewQueryLogger(store)
	a.Queries = services.NewQueryService(services.NewQueryGuard(store), a.RAG, a.QueryLogger)
	a.Permissions = services.NewPermissionService(store)
	a.Maintenance = services.NewMaintenanceService(a.Isolation, cfg.MaintenanceCron)

	tokens, err := auth.NewManager(cfg.AccessSecret, auth.DefaultTokenTTL, a.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Tokens = tokens

	return a, nil
}

// Dispatcher returns the indexing dispatcher for INDEXING_MODE
func (a *App) Dispatcher() (queue.Dispatcher, error) {
	if a.Config.IndexingMode != "async" {
		return queue.NewSyncDispatcher(a.Indexer), nil
	}
	opt, err := config.AsynqRedisOpt(a.Config)
	if err != nil {
		return nil, err
	}
	d := queue.NewAsyncDispatcher(opt)
	a.closers = append(a.closers, d.Close)
	return d, nil
}

// Router builds the HTTP handler
func (a *App) Router(dispatcher queue.Dispatcher) *gin.Engine {
	return routes.NewRouter(&routes.Deps{
		Config:      a.Config,
		Store:       a.Store,
		Isolation:   a.Isolation,
		Queries:     a.Queries,
		QueryLogger: a.QueryLogger,
		Permissions: a.Permissions,
		Indexing:    dispatcher,
		Maintenance: a.Maintenance,
		Auth:        middleware.NewAuthMiddleware(a.Tokens),
		Tokens:      a.Tokens,
		Metrics:     a.Metrics,
	})
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Close failed", "error", err)
		}
	}
	a.closers = nil
}
