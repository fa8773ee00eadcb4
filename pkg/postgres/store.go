package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/vim89/hybridstore/internal/encoding"
	"github.com/vim89/hybridstore/pkg/core"
)

// Config configures the relational backend.
type Config struct {
	// DSN is a postgres connection string. Ignored when a Pool is supplied
	// directly.
	DSN string
	// PoolSize bounds the connection pool; zero keeps the driver default.
	PoolSize int32
	// Table is the vector table name; defaults to "vectors".
	Table string
	// Logger receives operational logging; defaults to core.NopLogger().
	Logger core.Logger
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// VectorStore is the relational vector store. The embedding column is an
// untyped pgvector column so one table can hold mixed dimensionalities;
// searches restrict to rows matching the query's length.
type VectorStore struct {
	pool   *Pool
	table  string
	logger core.Logger

	mu     sync.RWMutex
	closed bool
}

// NewVectorStore connects with its own pool and prepares the schema.
func NewVectorStore(ctx context.Context, cfg Config) (*VectorStore, error) {
	pool, err := NewPool(ctx, cfg.DSN, cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	s, err := NewVectorStoreWithPool(ctx, pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewVectorStoreWithPool prepares the schema on an existing pool. The store
// closes the pool only if it owns it.
func NewVectorStoreWithPool(ctx context.Context, pool *Pool, cfg Config) (*VectorStore, error) {
	if cfg.Table == "" {
		cfg.Table = "vectors"
	}
	if !identPattern.MatchString(cfg.Table) {
		return nil, core.WrapError("init", fmt.Errorf("%w: invalid table name %q", core.ErrInvalidConfig, cfg.Table))
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}

	s := &VectorStore{pool: pool, table: cfg.Table, logger: cfg.Logger}
	if err := s.createTables(ctx); err != nil {
		return nil, core.WrapError("init", err)
	}
	s.logger.Debug("opened relational vector store", "table", s.table)
	return s, nil
}

func (s *VectorStore) createTables(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding VECTOR NOT NULL,
			dim INTEGER NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_dim ON %s (dim)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_metadata ON %s USING GIN (metadata)", s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// CreateHNSWIndex builds an approximate-nearest-neighbor index for one
// dimensionality. The untyped embedding column cannot carry an HNSW index
// directly, so this builds a partial expression index casting to a typed
// vector, restricted to rows of that dim. Intended after bulk load.
func (s *VectorStore) CreateHNSWIndex(ctx context.Context, dim, m, efConstruction int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return core.WrapError("create_index", core.ErrStoreClosed)
	}
	if dim <= 0 {
		return core.WrapError("create_index", fmt.Errorf("dim must be positive, got %d", dim))
	}
	if m <= 0 {
		m = 16
	}
	if efConstruction <= 0 {
		efConstruction = 64
	}

	stmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_hnsw_%d ON %s
		 USING hnsw ((embedding::vector(%d)) vector_cosine_ops)
		 WITH (m = %d, ef_construction = %d)
		 WHERE dim = %d`,
		s.table, dim, s.table, dim, m, efConstruction, dim)
	if _, err := s.pool.pool.Exec(ctx, stmt); err != nil {
		return core.WrapError("create_index", fmt.Errorf("failed to create HNSW index: %w", err))
	}
	s.logger.Info("created HNSW index", "table", s.table, "dim", dim, "m", m, "ef_construction", efConstruction)
	return nil
}

func (s *VectorStore) upsertSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, embedding, dim, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			created_at = now()`, s.table)
}

// Upsert inserts or replaces a record by ID. An empty ID gets a generated
// UUID, written back to the record.
func (s *VectorStore) Upsert(ctx context.Context, rec *core.VectorRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return core.WrapError("upsert", core.ErrStoreClosed)
	}
	if err := encoding.ValidateVector(rec.Vector); err != nil {
		return core.WrapError("upsert", fmt.Errorf("%w: %v", core.ErrInvalidVector, err))
	}
	ensureID(rec)

	metadataJSON, err := metadataParam(rec.Metadata)
	if err != nil {
		return core.WrapError("upsert", err)
	}
	_, err = s.pool.pool.Exec(ctx, s.upsertSQL(),
		rec.ID, pgvector.NewVector(rec.Vector), len(rec.Vector), rec.Content, metadataJSON)
	if err != nil {
		return core.WrapError("upsert", fmt.Errorf("failed to insert record: %w", err))
	}
	return nil
}

// UpsertBatch inserts or replaces records in one transaction, rolled back as
// a unit on failure.
func (s *VectorStore) UpsertBatch(ctx context.Context, recs []*core.VectorRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return core.WrapError("upsert_batch", core.ErrStoreClosed)
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.pool.pool.Begin(ctx)
	if err != nil {
		return core.WrapError("upsert_batch", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := s.upsertSQL()
	for i, rec := range recs {
		if err := encoding.ValidateVector(rec.Vector); err != nil {
			return core.WrapError("upsert_batch", fmt.Errorf("%w at index %d: %v", core.ErrInvalidVector, i, err))
		}
		ensureID(rec)
		metadataJSON, err := metadataParam(rec.Metadata)
		if err != nil {
			return core.WrapError("upsert_batch", fmt.Errorf("record at index %d: %w", i, err))
		}
		if _, err := tx.Exec(ctx, sql,
			rec.ID, pgvector.NewVector(rec.Vector), len(rec.Vector), rec.Content, metadataJSON); err != nil {
			return core.WrapError("upsert_batch", fmt.Errorf("failed to insert record at index %d: %w", i, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return core.WrapError("upsert_batch", fmt.Errorf("failed to commit transaction: %w", err))
	}
	s.logger.Debug("batch upsert completed", "count", len(recs))
	return nil
}

// Get returns the record with the given ID.
func (s *VectorStore) Get(ctx context.Context, id string) (*core.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("get", core.ErrStoreClosed)
	}

	row := s.pool.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT id, embedding, content, metadata FROM %s WHERE id = $1", s.table), id)
	rec, err := scanVectorRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.WrapError("get", core.ErrNotFound)
	}
	if err != nil {
		return nil, core.WrapError("get", err)
	}
	return rec, nil
}

// GetBatch returns the records found among ids; missing IDs are skipped.
func (s *VectorStore) GetBatch(ctx context.Context, ids []string) ([]*core.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("get_batch", core.ErrStoreClosed)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.pool.Query(ctx,
		fmt.Sprintf("SELECT id, embedding, content, metadata FROM %s WHERE id = ANY($1) ORDER BY created_at DESC, id", s.table), ids)
	if err != nil {
		return nil, core.WrapError("get_batch", fmt.Errorf("failed to query records: %w", err))
	}
	defer rows.Close()

	var recs []*core.VectorRecord
	for rows.Next() {
		rec, err := scanVectorRow(rows)
		if err != nil {
			return nil, core.WrapError("get_batch", err)
		}
		recs = append(recs, rec)
	}
	return recs, core.WrapError("get_batch", rows.Err())
}

// Search ranks dim-matching, filter-passing rows by cosine distance,
// returning similarity scores clamped to [0, 1].
func (s *VectorStore) Search(ctx context.Context, query []float32, topK int, filter core.Filter) ([]core.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("search", core.ErrStoreClosed)
	}
	if err := encoding.ValidateVector(query); err != nil {
		return nil, core.WrapError("search", fmt.Errorf("%w: %v", core.ErrInvalidVector, err))
	}
	if topK <= 0 {
		return nil, core.WrapError("search", fmt.Errorf("topK must be positive, got %d", topK))
	}

	// Fail fast on a mismatched query before ranking anything. Two indexed
	// EXISTS probes, no scan.
	var hasRows, hasDim bool
	err := s.pool.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT EXISTS(SELECT 1 FROM %s), EXISTS(SELECT 1 FROM %s WHERE dim = $1)", s.table, s.table),
		len(query)).Scan(&hasRows, &hasDim)
	if err != nil {
		return nil, core.WrapError("search", fmt.Errorf("failed to probe dimensions: %w", err))
	}
	if hasRows && !hasDim {
		return nil, core.WrapError("search",
			fmt.Errorf("%w: no stored vectors have %d dimensions", core.ErrDimensionMismatch, len(query)))
	}
	if !hasRows {
		return nil, nil
	}

	b := &argBinder{}
	qp := b.bind(pgvector.NewVector(query))
	dp := b.bind(len(query))
	clause := lowerFilter(filter, b)
	kp := b.bind(topK)
	sql := fmt.Sprintf(`
		SELECT id, embedding, content, metadata, 1 - (embedding::vector(%d) <=> %s) AS similarity
		FROM %s
		WHERE dim = %s AND %s
		ORDER BY similarity DESC, id ASC
		LIMIT %s`, len(query), qp, s.table, dp, clause, kp)

	rows, err := s.pool.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, core.WrapError("search", fmt.Errorf("failed to rank candidates: %w", err))
	}
	defer rows.Close()

	var scored []core.ScoredRecord
	for rows.Next() {
		var sr core.ScoredRecord
		var emb pgvector.Vector
		var metadataJSON []byte
		if err := rows.Scan(&sr.ID, &emb, &sr.Content, &metadataJSON, &sr.Score); err != nil {
			return nil, core.WrapError("search", err)
		}
		sr.Vector = emb.Slice()
		sr.Metadata, err = decodeMetadataJSON(metadataJSON)
		if err != nil {
			return nil, core.WrapError("search", err)
		}
		sr.Score = core.ClampScore(sr.Score)
		scored = append(scored, sr)
	}
	return scored, core.WrapError("search", rows.Err())
}

// Delete removes a record by ID.
func (s *VectorStore) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return core.WrapError("delete", core.ErrStoreClosed)
	}

	tag, err := s.pool.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table), id)
	if err != nil {
		return core.WrapError("delete", fmt.Errorf("failed to delete record: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return core.WrapError("delete", core.ErrNotFound)
	}
	return nil
}

// DeleteBatch removes the given IDs; absent IDs are ignored.
func (s *VectorStore) DeleteBatch(ctx context.Context, ids []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return core.WrapError("delete_batch", core.ErrStoreClosed)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", s.table), ids)
	if err != nil {
		return core.WrapError("delete_batch", fmt.Errorf("failed to delete records: %w", err))
	}
	return nil
}

// DeleteByPrefix removes all records whose ID starts with prefix and reports
// how many were removed.
func (s *VectorStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, core.WrapError("delete_by_prefix", core.ErrStoreClosed)
	}

	tag, err := s.pool.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id LIKE $1 ESCAPE '\'`, s.table), escapeLike(prefix)+"%")
	if err != nil {
		return 0, core.WrapError("delete_by_prefix", fmt.Errorf("failed to delete records: %w", err))
	}
	return tag.RowsAffected(), nil
}

// DeleteByFilter removes all filter-matching records and reports how many
// were removed.
func (s *VectorStore) DeleteByFilter(ctx context.Context, filter core.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, core.WrapError("delete_by_filter", core.ErrStoreClosed)
	}

	b := &argBinder{}
	clause := lowerFilter(filter, b)
	tag, err := s.pool.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, clause), b.args...)
	if err != nil {
		return 0, core.WrapError("delete_by_filter", fmt.Errorf("failed to delete records: %w", err))
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of filter-passing records.
func (s *VectorStore) Count(ctx context.Context, filter core.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, core.WrapError("count", core.ErrStoreClosed)
	}

	b := &argBinder{}
	clause := lowerFilter(filter, b)
	var count int64
	err := s.pool.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", s.table, clause), b.args...).Scan(&count)
	if err != nil {
		return 0, core.WrapError("count", fmt.Errorf("failed to count records: %w", err))
	}
	return count, nil
}

// List returns filter-passing records ordered by insertion recency, newest
// first. A non-positive limit means no limit.
func (s *VectorStore) List(ctx context.Context, limit, offset int, filter core.Filter) ([]*core.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("list", core.ErrStoreClosed)
	}
	if offset < 0 {
		offset = 0
	}

	b := &argBinder{}
	clause := lowerFilter(filter, b)
	limitClause := "ALL"
	if limit > 0 {
		limitClause = b.bind(limit)
	}
	op := b.bind(offset)
	sql := fmt.Sprintf(
		"SELECT id, embedding, content, metadata FROM %s WHERE %s ORDER BY created_at DESC, id LIMIT %s OFFSET %s",
		s.table, clause, limitClause, op)

	rows, err := s.pool.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, core.WrapError("list", fmt.Errorf("failed to list records: %w", err))
	}
	defer rows.Close()

	var recs []*core.VectorRecord
	for rows.Next() {
		rec, err := scanVectorRow(rows)
		if err != nil {
			return nil, core.WrapError("list", err)
		}
		recs = append(recs, rec)
	}
	return recs, core.WrapError("list", rows.Err())
}

// Clear removes every record.
func (s *VectorStore) Clear(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return core.WrapError("clear", core.ErrStoreClosed)
	}
	if _, err := s.pool.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", s.table)); err != nil {
		return core.WrapError("clear", fmt.Errorf("failed to clear records: %w", err))
	}
	s.logger.Info("cleared all records", "table", s.table)
	return nil
}

// Stats reports record count, dimensionality census, and relation size.
func (s *VectorStore) Stats(ctx context.Context) (*core.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("stats", core.ErrStoreClosed)
	}

	stats := &core.Stats{Dimensions: make(map[int]int64)}
	rows, err := s.pool.pool.Query(ctx,
		fmt.Sprintf("SELECT dim, COUNT(*) FROM %s GROUP BY dim", s.table))
	if err != nil {
		return nil, core.WrapError("stats", fmt.Errorf("failed to load dimension census: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var dim int
		var count int64
		if err := rows.Scan(&dim, &count); err != nil {
			return nil, core.WrapError("stats", err)
		}
		stats.Dimensions[dim] = count
		stats.Count += count
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError("stats", err)
	}

	err = s.pool.pool.QueryRow(ctx,
		"SELECT pg_total_relation_size($1::regclass)", s.table).Scan(&stats.StorageBytes)
	if err != nil {
		s.logger.Warn("failed to read relation size", "error", err)
	}
	return stats, nil
}

// Close releases the pool if this store owns it. Idempotent.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}

var _ core.VectorStore = (*VectorStore)(nil)
