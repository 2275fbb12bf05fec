package config

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "points.db", cfg.Database.Path)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "@hourly", cfg.Reconcile.Schedule)
	assert.Equal(t, "SHOP-", cfg.Shop.CodePrefix)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	// GIVEN: a YAML file selecting postgres and an env override for the port
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9000
  write_timeout: 5s
database:
  driver: postgres
  host: db.internal
  isolation: serializable
redis:
  enabled: true
  addr: cache:6379
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("POINTS_SERVER_PORT", "9100")
	t.Setenv("POINTS_RECONCILE_REPAIR", "true")

	// WHEN
	cfg, err := Load(path)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Reconcile.Repair)
	assert.Equal(t, "json", cfg.Logging.Format)

	level, err := cfg.Database.IsolationLevel()
	require.NoError(t, err)
	assert.Equal(t, sql.LevelSerializable, level)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("POINTS_DATABASE_DRIVER", "mysql")
	_, err := Load("")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestIsolationLevel_Unknown(t *testing.T) {
	_, err := DatabaseConfig{Isolation: "chaos"}.IsolationLevel()
	assert.Error(t, err)
}
