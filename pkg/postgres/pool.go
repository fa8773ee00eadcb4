// Package postgres implements the relational backend: a VectorStore on
// pgvector cosine distance and a KeywordIndex on tsvector full-text search,
// both over a shared bounded connection pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vim89/hybridstore/pkg/core"
)

// Pool wraps a pgxpool.Pool with an ownership tag so a vector store and a
// keyword index can share one pool while exactly one handle closes it.
type Pool struct {
	pool  *pgxpool.Pool
	owned bool
}

// NewPool connects to the database and registers the pgvector types on every
// connection. maxConns bounds useful concurrency; zero keeps the driver
// default.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, core.WrapError("init", fmt.Errorf("%w: %v", core.ErrInvalidConfig, err))
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, core.WrapError("init", fmt.Errorf("failed to create pool: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.WrapError("init", fmt.Errorf("failed to connect: %w", err))
	}
	return &Pool{pool: pool, owned: true}, nil
}

// Shared returns a non-owning handle on the same underlying pool. Closing a
// shared handle is a no-op; only the owner's Close tears the pool down.
func (p *Pool) Shared() *Pool {
	return &Pool{pool: p.pool}
}

// Close closes the underlying pool if this handle owns it.
func (p *Pool) Close() {
	if p.owned {
		p.pool.Close()
	}
}
