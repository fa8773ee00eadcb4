package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vim89/hybridstore/internal/encoding"
	"github.com/vim89/hybridstore/pkg/core"
)

const upsertSQL = `
	INSERT INTO vectors (id, vector, dim, content, metadata, seq, created_at)
	VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		vector = excluded.vector,
		dim = excluded.dim,
		content = excluded.content,
		metadata = excluded.metadata,
		seq = excluded.seq,
		created_at = CURRENT_TIMESTAMP
`

// Upsert inserts or replaces a record by ID. An empty ID gets a generated
// UUID, written back to the record.
func (s *VectorStore) Upsert(ctx context.Context, rec *core.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("upsert", core.ErrStoreClosed)
	}
	if err := encoding.ValidateVector(rec.Vector); err != nil {
		return core.WrapError("upsert", fmt.Errorf("%w: %v", core.ErrInvalidVector, err))
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	vectorBytes, metadataJSON, err := encodeRecord(rec)
	if err != nil {
		return core.WrapError("upsert", err)
	}

	_, err = s.db.ExecContext(ctx, upsertSQL,
		rec.ID, vectorBytes, len(rec.Vector), rec.Content, metadataJSON, s.nextSeq())
	if err != nil {
		return core.WrapError("upsert", fmt.Errorf("failed to insert record: %w", err))
	}

	s.refreshDims(ctx)
	return nil
}

// UpsertBatch inserts or replaces records in one transaction. The batch is
// atomic: any failure rolls the whole batch back.
func (s *VectorStore) UpsertBatch(ctx context.Context, recs []*core.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("upsert_batch", core.ErrStoreClosed)
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WrapError("upsert_batch", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return core.WrapError("upsert_batch", fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	for i, rec := range recs {
		if err := encoding.ValidateVector(rec.Vector); err != nil {
			return core.WrapError("upsert_batch", fmt.Errorf("%w at index %d: %v", core.ErrInvalidVector, i, err))
		}
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}

		vectorBytes, metadataJSON, err := encodeRecord(rec)
		if err != nil {
			return core.WrapError("upsert_batch", fmt.Errorf("record at index %d: %w", i, err))
		}

		if _, err := stmt.ExecContext(ctx, rec.ID, vectorBytes, len(rec.Vector), rec.Content, metadataJSON, s.nextSeq()); err != nil {
			return core.WrapError("upsert_batch", fmt.Errorf("failed to insert record at index %d: %w", i, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return core.WrapError("upsert_batch", fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.logger.Debug("batch upsert completed", "count", len(recs))
	s.refreshDims(ctx)
	return nil
}

// Get returns the record with the given ID.
func (s *VectorStore) Get(ctx context.Context, id string) (*core.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("get", core.ErrStoreClosed)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT id, vector, content, metadata FROM vectors WHERE id = ?", id)
	rec, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
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

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(
		"SELECT id, vector, content, metadata FROM vectors WHERE id IN (%s) ORDER BY seq DESC",
		strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapError("get_batch", fmt.Errorf("failed to query records: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var recs []*core.VectorRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, core.WrapError("get_batch", err)
		}
		recs = append(recs, rec)
	}
	return recs, core.WrapError("get_batch", rows.Err())
}

// Delete removes a record by ID.
func (s *VectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("delete", core.ErrStoreClosed)
	}
	if id == "" {
		return core.WrapError("delete", fmt.Errorf("ID cannot be empty"))
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE id = ?", id)
	if err != nil {
		return core.WrapError("delete", fmt.Errorf("failed to delete record: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.WrapError("delete", err)
	}
	if affected == 0 {
		return core.WrapError("delete", core.ErrNotFound)
	}

	s.refreshDims(ctx)
	return nil
}

// DeleteBatch removes the given IDs in one transaction; absent IDs are
// ignored.
func (s *VectorStore) DeleteBatch(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("delete_batch", core.ErrStoreClosed)
	}
	if len(ids) == 0 {
		return nil
	}

	// Chunked IN clauses keep well under SQLite's parameter limit.
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
		query := fmt.Sprintf("DELETE FROM vectors WHERE id IN (%s)", strings.Join(placeholders, ","))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return core.WrapError("delete_batch", fmt.Errorf("failed to delete chunk: %w", err))
		}
	}

	s.refreshDims(ctx)
	return nil
}

// DeleteByPrefix removes all records whose ID starts with prefix and reports
// how many were removed.
func (s *VectorStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, core.WrapError("delete_by_prefix", core.ErrStoreClosed)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE id LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return 0, core.WrapError("delete_by_prefix", fmt.Errorf("failed to delete records: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, core.WrapError("delete_by_prefix", err)
	}

	s.refreshDims(ctx)
	s.logger.Debug("delete by prefix completed", "prefix", prefix, "deleted", affected)
	return affected, nil
}

// DeleteByFilter removes all filter-matching records and reports how many
// were removed.
func (s *VectorStore) DeleteByFilter(ctx context.Context, filter core.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, core.WrapError("delete_by_filter", core.ErrStoreClosed)
	}

	clause, args := lowerFilter(filter)
	result, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE "+clause, args...)
	if err != nil {
		return 0, core.WrapError("delete_by_filter", fmt.Errorf("failed to delete records: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, core.WrapError("delete_by_filter", err)
	}

	s.refreshDims(ctx)
	s.logger.Debug("delete by filter completed", "deleted", affected)
	return affected, nil
}

// Count returns the number of filter-passing records.
func (s *VectorStore) Count(ctx context.Context, filter core.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, core.WrapError("count", core.ErrStoreClosed)
	}

	clause, args := lowerFilter(filter)
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors WHERE "+clause, args...).Scan(&count)
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
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	clause, args := lowerFilter(filter)
	query := fmt.Sprintf(
		"SELECT id, vector, content, metadata FROM vectors WHERE %s ORDER BY seq DESC LIMIT ? OFFSET ?",
		clause)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapError("list", fmt.Errorf("failed to list records: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var recs []*core.VectorRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, core.WrapError("list", err)
		}
		recs = append(recs, rec)
	}
	return recs, core.WrapError("list", rows.Err())
}

// Clear removes every record.
func (s *VectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("clear", core.ErrStoreClosed)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM vectors"); err != nil {
		return core.WrapError("clear", fmt.Errorf("failed to clear records: %w", err))
	}
	s.dims = make(map[int]int64)
	s.logger.Info("cleared all records")
	return nil
}

// Stats reports record count, dimensionality census, and database file size.
func (s *VectorStore) Stats(ctx context.Context) (*core.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("stats", core.ErrStoreClosed)
	}

	stats := &core.Stats{Dimensions: make(map[int]int64, len(s.dims))}
	for dim, count := range s.dims {
		stats.Dimensions[dim] = count
		stats.Count += count
	}

	err := s.db.QueryRowContext(ctx,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").
		Scan(&stats.StorageBytes)
	if err != nil {
		// Size is optional; report what we have.
		s.logger.Warn("failed to read database size", "error", err)
	}
	return stats, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordRow(row rowScanner) (*core.VectorRecord, error) {
	var id, content, metadataJSON string
	var vectorBytes []byte
	if err := row.Scan(&id, &vectorBytes, &content, &metadataJSON); err != nil {
		return nil, err
	}

	vector, err := encoding.DecodeVector(vectorBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	metadata, err := encoding.DecodeMetadata(metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	return &core.VectorRecord{ID: id, Vector: vector, Content: content, Metadata: metadata}, nil
}

func encodeRecord(rec *core.VectorRecord) ([]byte, string, error) {
	vectorBytes, err := encoding.EncodeVector(rec.Vector)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode vector: %w", err)
	}
	metadataJSON, err := encoding.EncodeMetadata(rec.Metadata)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	return vectorBytes, metadataJSON, nil
}
