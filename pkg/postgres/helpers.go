package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/vim89/hybridstore/pkg/core"
)

func ensureID(rec *core.VectorRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
}

// metadataParam renders metadata as a jsonb parameter, nil mapping to the
// empty object.
func metadataParam(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadataJSON(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVectorRow(row rowScanner) (*core.VectorRecord, error) {
	var rec core.VectorRecord
	var emb pgvector.Vector
	var metadataJSON []byte
	if err := row.Scan(&rec.ID, &emb, &rec.Content, &metadataJSON); err != nil {
		return nil, err
	}
	rec.Vector = emb.Slice()
	meta, err := decodeMetadataJSON(metadataJSON)
	if err != nil {
		return nil, err
	}
	rec.Metadata = meta
	return &rec, nil
}
