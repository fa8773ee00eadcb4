package core

import "context"

// VectorRecord is a stored embedding with its display content and metadata.
// Vectors are opaque fixed-length float32 sequences produced by an external
// embedding provider.
type VectorRecord struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScoredRecord is a VectorRecord paired with a similarity score in [0, 1],
// higher meaning more similar. It is produced only by searches and never
// persisted.
type ScoredRecord struct {
	VectorRecord
	Score float64 `json:"score"`
}

// KeywordDocument is a lexically indexed document.
type KeywordDocument struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KeywordResult is a keyword search hit. Score is the backend's native
// relevance value with the sign normalized so higher is always better; it is
// not bounded to [0, 1].
type KeywordResult struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Highlights []string          `json:"highlights,omitempty"`
}

// HybridResult is a fused search hit. At least one of VectorScore and
// KeywordScore is set; Highlights are carried over from the keyword side.
type HybridResult struct {
	ID           string            `json:"id"`
	Content      string            `json:"content"`
	Score        float64           `json:"score"`
	VectorScore  *float64          `json:"vector_score,omitempty"`
	KeywordScore *float64          `json:"keyword_score,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Highlights   []string          `json:"highlights,omitempty"`
}

// Stats describes the current contents of a vector store.
type Stats struct {
	// Count is the total number of stored records.
	Count int64 `json:"count"`
	// Dimensions maps each distinct vector dimensionality to its record count.
	Dimensions map[int]int64 `json:"dimensions"`
	// StorageBytes is the on-disk size where the backend can report one,
	// zero otherwise.
	StorageBytes int64 `json:"storage_bytes,omitempty"`
}

// VectorStore is the CRUD and similarity-search contract shared by all
// backends. Operations are synchronous; callers needing concurrency dispatch
// to their own goroutines. Close is idempotent on every implementation.
type VectorStore interface {
	// Upsert inserts or replaces a record by ID. An empty ID gets a
	// generated one, written back to the record.
	Upsert(ctx context.Context, rec *VectorRecord) error
	// UpsertBatch inserts or replaces records atomically: either all
	// records are applied or none are.
	UpsertBatch(ctx context.Context, recs []*VectorRecord) error
	// Get returns the record with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*VectorRecord, error)
	// GetBatch returns the records found among ids; missing IDs are
	// skipped, not errors.
	GetBatch(ctx context.Context, ids []string) ([]*VectorRecord, error)
	// Search returns up to topK filter-passing records ranked by cosine
	// similarity to query, scores normalized to [0, 1]. A query whose
	// length matches no stored dimensionality is ErrDimensionMismatch.
	Search(ctx context.Context, query []float32, topK int, filter Filter) ([]ScoredRecord, error)
	// Delete removes a record by ID, ErrNotFound if absent.
	Delete(ctx context.Context, id string) error
	// DeleteBatch removes the given IDs; absent IDs are ignored.
	DeleteBatch(ctx context.Context, ids []string) error
	// DeleteByPrefix removes all records whose ID starts with prefix and
	// reports how many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
	// DeleteByFilter removes all filter-matching records and reports how
	// many were removed.
	DeleteByFilter(ctx context.Context, filter Filter) (int64, error)
	// Count returns the number of filter-passing records.
	Count(ctx context.Context, filter Filter) (int64, error)
	// List returns filter-passing records ordered by insertion recency,
	// newest first, with limit/offset pagination.
	List(ctx context.Context, limit, offset int, filter Filter) ([]*VectorRecord, error)
	// Clear removes every record.
	Clear(ctx context.Context) error
	// Stats reports record count, dimensionality census, and storage size.
	Stats(ctx context.Context) (*Stats, error)
	// Close releases the backend's resources. Safe to call twice.
	Close() error
}

// KeywordIndex is the lexical-search contract. Relevance is BM25-family;
// the sign is normalized so higher is always better.
type KeywordIndex interface {
	// Add indexes a document, replacing any document with the same ID.
	Add(ctx context.Context, doc *KeywordDocument) error
	// AddBatch indexes documents atomically.
	AddBatch(ctx context.Context, docs []*KeywordDocument) error
	// Update reindexes a document as a delete followed by an add; there is
	// no partial-field reindexing.
	Update(ctx context.Context, doc *KeywordDocument) error
	// Get returns the document with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*KeywordDocument, error)
	// Delete removes a document by ID, ErrNotFound if absent.
	Delete(ctx context.Context, id string) error
	// DeleteBatch removes the given IDs; absent IDs are ignored.
	DeleteBatch(ctx context.Context, ids []string) error
	// DeleteByPrefix removes documents whose ID starts with prefix and
	// reports how many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
	// Search returns up to topK filter-passing documents ranked by
	// relevance to query.
	Search(ctx context.Context, query string, topK int, filter Filter) ([]KeywordResult, error)
	// SearchWithHighlights is Search with snippet extraction; snippetLen
	// bounds the snippet size in tokens.
	SearchWithHighlights(ctx context.Context, query string, topK, snippetLen int, filter Filter) ([]KeywordResult, error)
	// Count returns the number of filter-passing documents.
	Count(ctx context.Context, filter Filter) (int64, error)
	// Clear removes every document.
	Clear(ctx context.Context) error
	// Close releases the backend's resources. Safe to call twice.
	Close() error
}
