package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/vim89/hybridstore/internal/encoding"
	"github.com/vim89/hybridstore/pkg/core"
)

// KeywordIndex is the embedded lexical index: an FTS5 table over document
// content with BM25 ranking, metadata filters applied on the primary table.
type KeywordIndex struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	logger core.Logger
}

// NewKeywordIndex opens (or creates) the embedded keyword index at cfg.Path.
// The index can share a database file with a VectorStore; the two use
// disjoint tables.
func NewKeywordIndex(ctx context.Context, cfg Config) (*KeywordIndex, error) {
	if cfg.Path == "" {
		return nil, core.WrapError("init", fmt.Errorf("%w: database path cannot be empty", core.ErrInvalidConfig))
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}

	db, err := openDB(cfg.Path)
	if err != nil {
		return nil, core.WrapError("init", err)
	}

	k := &KeywordIndex{db: db, logger: cfg.Logger}
	if err := k.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, core.WrapError("init", err)
	}

	k.logger.Debug("opened embedded keyword index", "path", cfg.Path)
	return k, nil
}

func (k *KeywordIndex) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(content, content='documents', content_rowid='rowid');

	CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	  INSERT INTO documents_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
	  INSERT INTO documents_fts(documents_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
	  INSERT INTO documents_fts(documents_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	  INSERT INTO documents_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	`
	if _, err := k.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

const addDocumentSQL = `
	INSERT INTO documents (id, content, metadata, created_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content,
		metadata = excluded.metadata,
		created_at = CURRENT_TIMESTAMP
`

// Add indexes a document, replacing any document with the same ID.
func (k *KeywordIndex) Add(ctx context.Context, doc *core.KeywordDocument) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return core.WrapError("add", core.ErrStoreClosed)
	}
	if doc.ID == "" {
		return core.WrapError("add", fmt.Errorf("document ID cannot be empty"))
	}

	metadataJSON, err := encodeDocMetadata(doc.Metadata)
	if err != nil {
		return core.WrapError("add", err)
	}
	if _, err := k.db.ExecContext(ctx, addDocumentSQL, doc.ID, doc.Content, metadataJSON); err != nil {
		return core.WrapError("add", fmt.Errorf("failed to index document: %w", err))
	}
	return nil
}

// AddBatch indexes documents in one transaction, rolled back as a unit on
// failure.
func (k *KeywordIndex) AddBatch(ctx context.Context, docs []*core.KeywordDocument) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return core.WrapError("add_batch", core.ErrStoreClosed)
	}
	if len(docs) == 0 {
		return nil
	}

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WrapError("add_batch", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, addDocumentSQL)
	if err != nil {
		return core.WrapError("add_batch", fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	for i, doc := range docs {
		if doc.ID == "" {
			return core.WrapError("add_batch", fmt.Errorf("document ID cannot be empty at index %d", i))
		}
		metadataJSON, err := encodeDocMetadata(doc.Metadata)
		if err != nil {
			return core.WrapError("add_batch", fmt.Errorf("document at index %d: %w", i, err))
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Content, metadataJSON); err != nil {
			return core.WrapError("add_batch", fmt.Errorf("failed to index document at index %d: %w", i, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return core.WrapError("add_batch", fmt.Errorf("failed to commit transaction: %w", err))
	}
	k.logger.Debug("batch add completed", "count", len(docs))
	return nil
}

// Update reindexes a document as a delete followed by an add, in one
// transaction.
func (k *KeywordIndex) Update(ctx context.Context, doc *core.KeywordDocument) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return core.WrapError("update", core.ErrStoreClosed)
	}
	if doc.ID == "" {
		return core.WrapError("update", fmt.Errorf("document ID cannot be empty"))
	}

	metadataJSON, err := encodeDocMetadata(doc.Metadata)
	if err != nil {
		return core.WrapError("update", err)
	}

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WrapError("update", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", doc.ID); err != nil {
		return core.WrapError("update", fmt.Errorf("failed to remove old document: %w", err))
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO documents (id, content, metadata, created_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)",
		doc.ID, doc.Content, metadataJSON); err != nil {
		return core.WrapError("update", fmt.Errorf("failed to reindex document: %w", err))
	}
	if err := tx.Commit(); err != nil {
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
	var metadataJSON string
	err := k.db.QueryRowContext(ctx,
		"SELECT id, content, metadata FROM documents WHERE id = ?", id).
		Scan(&doc.ID, &doc.Content, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, core.WrapError("get", core.ErrNotFound)
	}
	if err != nil {
		return nil, core.WrapError("get", err)
	}

	doc.Metadata, err = decodeDocMetadata(metadataJSON)
	if err != nil {
		return nil, core.WrapError("get", err)
	}
	return &doc, nil
}

// Delete removes a document by ID.
func (k *KeywordIndex) Delete(ctx context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return core.WrapError("delete", core.ErrStoreClosed)
	}

	result, err := k.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return core.WrapError("delete", fmt.Errorf("failed to delete document: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.WrapError("delete", err)
	}
	if affected == 0 {
		return core.WrapError("delete", core.ErrNotFound)
	}
	return nil
}

// DeleteBatch removes the given IDs; absent IDs are ignored.
func (k *KeywordIndex) DeleteBatch(ctx context.Context, ids []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return core.WrapError("delete_batch", core.ErrStoreClosed)
	}
	if len(ids) == 0 {
		return nil
	}

	const chunkSize = 500
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for j, id := range chunk {
			placeholders[j] = "?"
			args[j] = id
		}
		query := fmt.Sprintf("DELETE FROM documents WHERE id IN (%s)", strings.Join(placeholders, ","))
		if _, err := k.db.ExecContext(ctx, query, args...); err != nil {
			return core.WrapError("delete_batch", fmt.Errorf("failed to delete chunk: %w", err))
		}
	}
	return nil
}

// DeleteByPrefix removes documents whose ID starts with prefix and reports
// how many were removed.
func (k *KeywordIndex) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return 0, core.WrapError("delete_by_prefix", core.ErrStoreClosed)
	}

	result, err := k.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return 0, core.WrapError("delete_by_prefix", fmt.Errorf("failed to delete documents: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, core.WrapError("delete_by_prefix", err)
	}
	return affected, nil
}

// Search returns up to topK filter-passing documents ranked by BM25
// relevance, the FTS5 score negated so higher is better.
func (k *KeywordIndex) Search(ctx context.Context, query string, topK int, filter core.Filter) ([]core.KeywordResult, error) {
	return k.search(ctx, query, topK, 0, filter)
}

// SearchWithHighlights is Search with a snippet per hit. snippetLen bounds
// the snippet size in tokens and is clamped to FTS5's 64-token ceiling.
func (k *KeywordIndex) SearchWithHighlights(ctx context.Context, query string, topK, snippetLen int, filter core.Filter) ([]core.KeywordResult, error) {
	if snippetLen <= 0 {
		snippetLen = 10
	}
	if snippetLen > 64 {
		snippetLen = 64
	}
	return k.search(ctx, query, topK, snippetLen, filter)
}

func (k *KeywordIndex) search(ctx context.Context, query string, topK, snippetLen int, filter core.Filter) ([]core.KeywordResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, core.WrapError("search", core.ErrStoreClosed)
	}
	if topK <= 0 {
		return nil, core.WrapError("search", fmt.Errorf("topK must be positive, got %d", topK))
	}

	match, err := compileMatchQuery(query)
	if err != nil {
		return nil, core.WrapError("search", err)
	}

	snippetCol := "''"
	if snippetLen > 0 {
		snippetCol = fmt.Sprintf("snippet(documents_fts, 0, '<b>', '</b>', '…', %d)", snippetLen)
	}
	clause, args := lowerFilter(filter)
	// bm25() is more negative for better matches, so ascending order is
	// best-first.
	sqlQuery := fmt.Sprintf(`
		SELECT d.id, d.content, d.metadata, bm25(documents_fts), %s
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ? AND %s
		ORDER BY bm25(documents_fts) ASC, d.id ASC
		LIMIT ?`, snippetCol, clause)
	args = append([]any{match}, args...)
	args = append(args, topK)

	rows, err := k.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, core.WrapError("search", fmt.Errorf("failed to run match query: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var results []core.KeywordResult
	for rows.Next() {
		var r core.KeywordResult
		var metadataJSON, snippetText string
		var bm25Score float64
		if err := rows.Scan(&r.ID, &r.Content, &metadataJSON, &bm25Score, &snippetText); err != nil {
			return nil, core.WrapError("search", err)
		}
		r.Score = -bm25Score
		r.Metadata, err = decodeDocMetadata(metadataJSON)
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

	clause, args := lowerFilter(filter)
	var count int64
	err := k.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE "+clause, args...).Scan(&count)
	if err != nil {
		return 0, core.WrapError("count", fmt.Errorf("failed to count documents: %w", err))
	}
	return count, nil
}

// Clear removes every document.
func (k *KeywordIndex) Clear(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return core.WrapError("clear", core.ErrStoreClosed)
	}
	if _, err := k.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return core.WrapError("clear", fmt.Errorf("failed to clear documents: %w", err))
	}
	k.logger.Info("cleared all documents")
	return nil
}

// Close closes the index. Idempotent.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	if err := k.db.Close(); err != nil {
		return core.WrapError("close", err)
	}
	return nil
}

func encodeDocMetadata(meta map[string]string) (string, error) {
	s, err := encoding.EncodeMetadata(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if s == "" {
		s = "{}"
	}
	return s, nil
}

func decodeDocMetadata(s string) (map[string]string, error) {
	meta, err := encoding.DecodeMetadata(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}

var _ core.KeywordIndex = (*KeywordIndex)(nil)
