// Package sqlite implements the embedded backend: a VectorStore doing
// linear-scan cosine search over blob-encoded embeddings, and a KeywordIndex
// backed by an FTS5 table, both in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/vim89/hybridstore/pkg/core"
)

// Config configures the embedded backend.
type Config struct {
	// Path is the database file path, or ":memory:" for an in-memory store.
	Path string
	// Logger receives operational logging; defaults to core.NopLogger().
	Logger core.Logger
}

// VectorStore is the embedded vector store. SQLite serializes writes through
// a single connection, so concurrent callers get serialized throughput; the
// store itself is safe for concurrent use.
type VectorStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	logger core.Logger

	// dims is the in-memory dimensionality census, kept current on every
	// mutation so searches can fail fast on a mismatched query vector
	// without scanning.
	dims map[int]int64
	// seq is a monotonic insertion counter backing List's recency order.
	seq int64
}

// NewVectorStore opens (or creates) the embedded vector store at cfg.Path.
func NewVectorStore(ctx context.Context, cfg Config) (*VectorStore, error) {
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

	s := &VectorStore{
		db:     db,
		logger: cfg.Logger,
		dims:   make(map[int]int64),
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, core.WrapError("init", err)
	}
	if err := s.reloadState(ctx); err != nil {
		_ = db.Close()
		return nil, core.WrapError("init", err)
	}

	s.logger.Debug("opened embedded vector store", "path", cfg.Path)
	return s, nil
}

// openDB opens a SQLite database with the pragmas the store depends on.
// _journal_mode=WAL for concurrency, busy_timeout to wait for locks instead
// of failing, foreign_keys for cascading deletes.
func openDB(path string) (*sql.DB, error) {
	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single native connection: SQLite serializes writers anyway, and one
	// connection keeps the FTS triggers and the in-memory census coherent.
	db.SetMaxOpenConns(1)
	return db, nil
}

// createTables creates the vector table, its indexes, and the FTS5 shadow
// structure that keeps content searchable for the hybrid path.
func (s *VectorStore) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		dim INTEGER NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		seq INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_vectors_dim ON vectors(dim);
	CREATE INDEX IF NOT EXISTS idx_vectors_seq ON vectors(seq);
	CREATE INDEX IF NOT EXISTS idx_vectors_created_at ON vectors(created_at);

	-- FTS5 shadow table for record content, external-content mode so the
	-- text is not duplicated. Triggers keep it in sync with the primary
	-- table.
	CREATE VIRTUAL TABLE IF NOT EXISTS vectors_fts USING fts5(content, content='vectors', content_rowid='rowid');

	CREATE TRIGGER IF NOT EXISTS vectors_ai AFTER INSERT ON vectors BEGIN
	  INSERT INTO vectors_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS vectors_ad AFTER DELETE ON vectors BEGIN
	  INSERT INTO vectors_fts(vectors_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS vectors_au AFTER UPDATE ON vectors BEGIN
	  INSERT INTO vectors_fts(vectors_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	  INSERT INTO vectors_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// reloadState rebuilds the dimensionality census and the insertion counter
// from the table. Called at open and after bulk mutations.
func (s *VectorStore) reloadState(ctx context.Context) error {
	dims := make(map[int]int64)
	rows, err := s.db.QueryContext(ctx, "SELECT dim, COUNT(*) FROM vectors GROUP BY dim")
	if err != nil {
		return fmt.Errorf("failed to load dimension census: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var dim int
		var count int64
		if err := rows.Scan(&dim, &count); err != nil {
			return fmt.Errorf("failed to scan dimension census: %w", err)
		}
		dims[dim] = count
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.dims = dims

	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM vectors").Scan(&maxSeq); err != nil {
		return fmt.Errorf("failed to load sequence counter: %w", err)
	}
	s.seq = maxSeq.Int64
	return nil
}

// refreshDims recomputes the census after a mutation. Callers hold the write
// lock.
func (s *VectorStore) refreshDims(ctx context.Context) {
	dims := make(map[int]int64)
	rows, err := s.db.QueryContext(ctx, "SELECT dim, COUNT(*) FROM vectors GROUP BY dim")
	if err != nil {
		s.logger.Warn("failed to refresh dimension census", "error", err)
		return
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var dim int
		var count int64
		if err := rows.Scan(&dim, &count); err != nil {
			s.logger.Warn("failed to scan dimension census", "error", err)
			return
		}
		dims[dim] = count
	}
	if rows.Err() == nil {
		s.dims = dims
	}
}

// nextSeq returns the next insertion sequence number. Callers hold the write
// lock.
func (s *VectorStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

// Close closes the store. Idempotent.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return core.WrapError("close", err)
	}
	return nil
}

var _ core.VectorStore = (*VectorStore)(nil)
