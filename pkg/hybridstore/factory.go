package hybridstore

import (
	"context"
	"fmt"

	"github.com/vim89/hybridstore/pkg/core"
	"github.com/vim89/hybridstore/pkg/hybrid"
	"github.com/vim89/hybridstore/pkg/postgres"
	"github.com/vim89/hybridstore/pkg/qdrant"
	"github.com/vim89/hybridstore/pkg/sqlite"
)

// Backend names the factory understands.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
)

// OpenVectorStore constructs the vector store cfg.Backend names.
func OpenVectorStore(ctx context.Context, cfg Config, logger core.Logger) (core.VectorStore, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return sqlite.NewVectorStore(ctx, sqlite.Config{Path: cfg.SQLite.Path, Logger: logger})
	case BackendPostgres:
		return postgres.NewVectorStore(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			PoolSize: cfg.Postgres.PoolSize,
			Table:    cfg.Postgres.VectorTable,
			Logger:   logger,
		})
	case BackendQdrant:
		return qdrant.NewVectorStore(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Logger:     logger,
		})
	default:
		return nil, core.WrapError("factory",
			fmt.Errorf("%w: %q (supported: %s, %s, %s)",
				core.ErrUnknownBackend, cfg.Backend, BackendSQLite, BackendPostgres, BackendQdrant))
	}
}

// OpenKeywordIndex constructs the keyword index for the config's effective
// keyword backend.
func OpenKeywordIndex(ctx context.Context, cfg Config, logger core.Logger) (core.KeywordIndex, error) {
	switch backend := cfg.keywordBackend(); backend {
	case BackendSQLite:
		return sqlite.NewKeywordIndex(ctx, sqlite.Config{Path: cfg.SQLite.Path, Logger: logger})
	case BackendPostgres:
		return postgres.NewKeywordIndex(ctx, postgres.KeywordConfig{
			DSN:      cfg.Postgres.DSN,
			PoolSize: cfg.Postgres.PoolSize,
			Table:    cfg.Postgres.KeywordTable,
			Logger:   logger,
		})
	default:
		return nil, core.WrapError("factory",
			fmt.Errorf("%w: %q (supported: %s, %s)",
				core.ErrUnknownBackend, backend, BackendSQLite, BackendPostgres))
	}
}

// OpenHybrid constructs a hybrid searcher over the configured backends.
// When both sides are postgres they share one connection pool: the vector
// store holds the owning handle, so closing the searcher tears the pool
// down exactly once.
func OpenHybrid(ctx context.Context, cfg Config, logger core.Logger) (*hybrid.Searcher, error) {
	if cfg.Backend == BackendPostgres && cfg.keywordBackend() == BackendPostgres {
		return openHybridSharedPool(ctx, cfg, logger)
	}

	vectors, err := OpenVectorStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	keywords, err := OpenKeywordIndex(ctx, cfg, logger)
	if err != nil {
		_ = vectors.Close()
		return nil, err
	}
	return hybrid.NewSearcher(vectors, keywords, hybrid.WithLogger(logger))
}

func openHybridSharedPool(ctx context.Context, cfg Config, logger core.Logger) (*hybrid.Searcher, error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.PoolSize)
	if err != nil {
		return nil, err
	}
	vectors, err := postgres.NewVectorStoreWithPool(ctx, pool, postgres.Config{
		Table:  cfg.Postgres.VectorTable,
		Logger: logger,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	keywords, err := postgres.NewKeywordIndexWithPool(ctx, pool.Shared(), postgres.KeywordConfig{
		Table:  cfg.Postgres.KeywordTable,
		Logger: logger,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return hybrid.NewSearcher(vectors, keywords, hybrid.WithLogger(logger))
}
