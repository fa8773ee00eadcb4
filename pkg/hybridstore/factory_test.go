package hybridstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vim89/hybridstore/pkg/core"
	"github.com/vim89/hybridstore/pkg/hybrid"
)

func sqliteConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

func TestOpenVectorStoreSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := OpenVectorStore(ctx, sqliteConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1, 0}}))
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}

func TestOpenVectorStoreUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "cassandra"

	_, err := OpenVectorStore(context.Background(), cfg, nil)
	require.ErrorIs(t, err, core.ErrUnknownBackend)
	// The error names the supported set.
	assert.ErrorContains(t, err, "sqlite")
	assert.ErrorContains(t, err, "postgres")
	assert.ErrorContains(t, err, "qdrant")
}

func TestOpenKeywordIndexUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeywordBackend = "qdrant" // no lexical side on the remote backend

	_, err := OpenKeywordIndex(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, core.ErrUnknownBackend)
}

func TestKeywordBackendResolution(t *testing.T) {
	cfg := Config{Backend: BackendQdrant}
	assert.Equal(t, BackendSQLite, cfg.keywordBackend())

	cfg = Config{Backend: BackendPostgres}
	assert.Equal(t, BackendPostgres, cfg.keywordBackend())

	cfg = Config{Backend: BackendPostgres, KeywordBackend: BackendSQLite}
	assert.Equal(t, BackendSQLite, cfg.keywordBackend())
}

func TestOpenHybridSQLite(t *testing.T) {
	ctx := context.Background()
	searcher, err := OpenHybrid(ctx, sqliteConfig(t), core.NopLogger())
	require.NoError(t, err)
	defer func() { _ = searcher.Close() }()

	results, err := searcher.Search(ctx, []float32{1, 0}, "", 5, hybrid.VectorOnly{}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: postgres
postgres:
  dsn: postgres://localhost/test
  pool_size: 8
log_level: debug
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost/test", cfg.Postgres.DSN)
	assert.Equal(t, int32(8), cfg.Postgres.PoolSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset fields keep their defaults.
	assert.Equal(t, "hybridstore.db", cfg.SQLite.Path)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
