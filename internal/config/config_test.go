package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("PG_USER", "logbook")
	t.Setenv("PG_DB", "logbook")
	t.Setenv("PG_PASSWORD", "pw")
	t.Setenv("TOMBSTONE_TTL", "48h")
	t.Setenv("BULK_BATCH_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 48*time.Hour, cfg.Sync.TombstoneTTL)
	assert.Equal(t, 25, cfg.Sync.BulkBatchSize)
	assert.Equal(t, "postgres://logbook:pw@db.internal:5432/logbook?sslmode=disable", cfg.Postgres.DSN())
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jwt_secret: from-file
redis:
  host: cache
sync:
  tombstone_ttl: 720h
  bulk_batch_size: 50
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BULK_BATCH_SIZE", "10")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 720*time.Hour, cfg.Sync.TombstoneTTL)
	assert.Equal(t, 10, cfg.Sync.BulkBatchSize)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("TOMBSTONE_TTL", "soon")
	_, err = Load()
	assert.Error(t, err)
}
