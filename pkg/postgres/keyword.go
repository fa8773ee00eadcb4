package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/vim89/hybridstore/pkg/core"
)

// KeywordIndex is the relational lexical index: a generated tsvector column
// queried with websearch_to_tsquery and ranked by ts_rank_cd.
type KeywordIndex struct {
	pool   *Pool
	table  string
	logger core.Logger

	mu     sync.RWMutex
	closed bool
}

// KeywordConfig configures the relational keyword index.
type KeywordConfig struct {
	// DSN is a postgres connection string. Ignored when a Pool is supplied
	// directly.
	DSN string
	// PoolSize bounds the connection pool; zero keeps the driver default.
	PoolSize int32
	// Table is the document table name; defaults to "documents".
	Table string
	// Logger receives operational logging; defaults to core.NopLogger().
	Logger core.Logger
}

// NewKeywordIndex connects with its own pool and prepares the schema.
func NewKeywordIndex(ctx context.Context, cfg KeywordConfig) (*KeywordIndex, error) {
	pool, err := NewPool(ctx, cfg.DSN, cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	k, err := NewKeywordIndexWithPool(ctx, pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return k, nil
}

// NewKeywordIndexWithPool prepares the schema on an existing pool. The index
// closes the pool only if it owns it.
func NewKeywordIndexWithPool(ctx context.Context, pool *Pool, cfg KeywordConfig) (*KeywordIndex, error) {
	if cfg.Table == "" {
		cfg.Table = "documents"
	}
	if !identPattern.MatchString(cfg.Table) {
		return nil, core.WrapError("init", fmt.Errorf("%w: invalid table name %q", core.ErrInvalidConfig, cfg.Table))
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}

	k := &KeywordIndex{pool: pool, table: cfg.Table, logger: cfg.Logger}
	if err := k.createTables(ctx); err != nil {
		return nil, core.WrapError("init", err)
	}
	k.logger.Debug("opened relational keyword index", "table", k.table)
	return k, nil
}

func (k *KeywordIndex) createTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			search_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		)`, k.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_tsv ON %s USING GIN (search_tsv)", k.table, k.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_metadata ON %s USING GIN (metadata)", k.table, k.table),
	}
	for _, stmt := range stmts {
		if _, err := k.pool.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (k *KeywordIndex) addSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			created_at = now()`, k.table)
}

// Add indexes a document, replacing any document with the same ID. The
// searchable column regenerates automatically.
func (k *KeywordIndex) Add(ctx context.Context, doc *core.KeywordDocument) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return core.WrapError("add", core.ErrStoreClosed)
	}
	if doc.ID == "" {
		return core.WrapError("add", fmt.Errorf("document ID cannot be empty"))
	}

	metadataJSON, err := metadataParam(doc.Metadata)
	if err != nil {
		return core.WrapError("add", err)
	}
	if _, err := k.pool.pool.Exec(ctx, k.addSQL(), doc.ID, doc.Content, metadataJSON); err != nil {
		return core.WrapError("add", fmt.Errorf("failed to index document: %w", err))
	}
	return nil
}

// AddBatch indexes documents in one transaction, rolled back as a unit on
// failure.
func (k *KeywordIndex) AddBatch(ctx context.Context, docs []*core.KeywordDocument) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return core.WrapError("add_batch", core.ErrStoreClosed)
	}
	if len(docs) == 0 {
		return nil
	}

	tx, err := k.pool.pool.Begin(ctx)
	if err != nil {
		return core.WrapError("add_batch", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := k.addSQL()
	for i, doc := range docs {
		if doc.ID == "" {
			return core.WrapError("add_batch", fmt.Errorf("document ID cannot be empty at index %d", i))
		}
		metadataJSON, err := metadataParam(doc.Metadata)
		if err != nil {
			return core.WrapError("add_batch", fmt.Errorf("document at index %d: %w", i, err))
		}
		if _, err := tx.Exec(ctx, sql, doc.ID, doc.Content, metadataJSON); err != nil {
			return core.WrapError("add_batch", fmt.Errorf("failed to index document at index %d: %w", i, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return core.WrapError("add_batch", fmt.Errorf("failed to commit transaction: %w", err))
	}
	k.logger.Debug("batch add completed", "count", len(docs))
	return nil
}

// Update reindexes a document as a delete followed by an add, in one
// transaction.
func (k *KeywordIndex) Update(ctx context.Context, doc *core.KeywordDocument) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return core.WrapError("update", core.ErrStoreClosed)
	}
	if doc.ID == "" {
		return core.WrapError("update", fmt.Errorf("document ID cannot be empty"))
	}

	metadataJSON, err := metadataParam(doc.Metadata)
	if err != nil {
		return core.WrapError("update", err)
	}

	tx, err := k.pool.pool.Begin(ctx)
	if err != nil {
		return core.WrapError("update", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", k.table), doc.ID); err != nil {
		return core.WrapError("update", fmt.Errorf("failed to remove old document: %w", err))
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (id, content, metadata, created_at) VALUES ($1, $2, $3, now())", k.table),
		doc.ID, doc.Content, metadataJSON); err != nil {
		return core.WrapError("update", fmt.Errorf("failed to reindex document: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return core.WrapError("update", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Get returns the document with the given ID.
func (k *KeywordIndex) Get(ctx context.Context, id string) (*core.KeywordDocument, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, core.WrapError("get", core.ErrStoreClosed)
	}

	var doc core.KeywordDocument
	var metadataJSON []byte
	err := k.pool.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT id, content, metadata FROM %s WHERE id = $1", k.table), id).
		Scan(&doc.ID, &doc.Content, &metadataJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.WrapError("get", core.ErrNotFound)
	}
	if err != nil {
		return nil, core.WrapError("get", err)
	}

	doc.Metadata, err = decodeMetadataJSON(metadataJSON)
	if err != nil {
		return nil, core.WrapError("get", err)
	}
	return &doc, nil
}

// Delete removes a document by ID.
func (k *KeywordIndex) Delete(ctx context.Context, id string) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return core.WrapError("delete", core.ErrStoreClosed)
	}

	tag, err := k.pool.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", k.table), id)
	if err != nil {
		return core.WrapError("delete", fmt.Errorf("failed to delete document: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return core.WrapError("delete", core.ErrNotFound)
	}
	return nil
}

// DeleteBatch removes the given IDs; absent IDs are ignored.
func (k *KeywordIndex) DeleteBatch(ctx context.Context, ids []string) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return core.WrapError("delete_batch", core.ErrStoreClosed)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := k.pool.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", k.table), ids)
	if err != nil {
		return core.WrapError("delete_batch", fmt.Errorf("failed to delete documents: %w", err))
	}
	return nil
}

// DeleteByPrefix removes documents whose ID starts with prefix and reports
// how many were removed.
func (k *KeywordIndex) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return 0, core.WrapError("delete_by_prefix", core.ErrStoreClosed)
	}

	tag, err := k.pool.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id LIKE $1 ESCAPE '\'`, k.table), escapeLike(prefix)+"%")
	if err != nil {
		return 0, core.WrapError("delete_by_prefix", fmt.Errorf("failed to delete documents: %w", err))
	}
	return tag.RowsAffected(), nil
}

// Search returns up to topK filter-passing documents ranked by ts_rank_cd.
// The query uses the same minimal syntax as the embedded backend; postgres
// understands it natively through websearch_to_tsquery.
func (k *KeywordIndex) Search(ctx context.Context, query string, topK int, filter core.Filter) ([]core.KeywordResult, error) {
	return k.search(ctx, query, topK, 0, filter)
}

// SearchWithHighlights is Search with a ts_headline snippet per hit;
// snippetLen bounds the snippet size in words.
func (k *KeywordIndex) SearchWithHighlights(ctx context.Context, query string, topK, snippetLen int, filter core.Filter) ([]core.KeywordResult, error) {
	if snippetLen <= 0 {
		snippetLen = 10
	}
	return k.search(ctx, query, topK, snippetLen, filter)
}

func (k *KeywordIndex) search(ctx context.Context, query string, topK, snippetLen int, filter core.Filter) ([]core.KeywordResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, core.WrapError("search", core.ErrStoreClosed)
	}
	if strings.TrimSpace(query) == "" {
		return nil, core.WrapError("search", core.ErrEmptyQuery)
	}
	if topK <= 0 {
		return nil, core.WrapError("search", fmt.Errorf("topK must be positive, got %d", topK))
	}

	b := &argBinder{}
	qp := b.bind(query)
	snippetCol := "''"
	if snippetLen > 0 {
		minWords := snippetLen / 2
		if minWords < 1 {
			minWords = 1
		}
		opts := fmt.Sprintf("StartSel=<b>, StopSel=</b>, MaxWords=%d, MinWords=%d", snippetLen, minWords)
		snippetCol = fmt.Sprintf("ts_headline('english', content, q, %s)", b.bind(opts))
	}
	clause := lowerFilter(filter, b)
	kp := b.bind(topK)
	sql := fmt.Sprintf(`
		SELECT id, content, metadata, ts_rank_cd(search_tsv, q) AS score, %s
		FROM %s, websearch_to_tsquery('english', %s) q
		WHERE search_tsv @@ q AND %s
		ORDER BY score DESC, id ASC
		LIMIT %s`, snippetCol, k.table, qp, clause, kp)

	rows, err := k.pool.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, core.WrapError("search", fmt.Errorf("failed to run text query: %w", err))
	}
	defer rows.Close()

	var results []core.KeywordResult
	for rows.Next() {
		var r core.KeywordResult
		var metadataJSON []byte
		var snippetText string
		if err := rows.Scan(&r.ID, &r.Content, &metadataJSON, &r.Score, &snippetText); err != nil {
			return nil, core.WrapError("search", err)
		}
		r.Metadata, err = decodeMetadataJSON(metadataJSON)
		if err != nil {
			return nil, core.WrapError("search", err)
		}
		if snippetLen > 0 && snippetText != "" {
			r.Highlights = []string{snippetText}
		}
		results = append(results, r)
	}
	return results, core.WrapError("search", rows.Err())
}

// Count returns the number of filter-passing documents.
func (k *KeywordIndex) Count(ctx context.Context, filter core.Filter) (int64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return 0, core.WrapError("count", core.ErrStoreClosed)
	}

	b := &argBinder{}
	clause := lowerFilter(filter, b)
	var count int64
	err := k.pool.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", k.table, clause), b.args...).Scan(&count)
	if err != nil {
		return 0, core.WrapError("count", fmt.Errorf("failed to count documents: %w", err))
	}
	return count, nil
}

// Clear removes every document.
func (k *KeywordIndex) Clear(ctx context.Context) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return core.WrapError("clear", core.ErrStoreClosed)
	}
	if _, err := k.pool.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", k.table)); err != nil {
		return core.WrapError("clear", fmt.Errorf("failed to clear documents: %w", err))
	}
	k.logger.Info("cleared all documents", "table", k.table)
	return nil
}

// Close releases the pool if this index owns it. Idempotent.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	k.pool.Close()
	return nil
}

var _ core.KeywordIndex = (*KeywordIndex)(nil)
