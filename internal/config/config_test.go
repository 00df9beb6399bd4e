package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/laundry-tracking/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("APP_PORT", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, config.StorageDriverMemory, cfg.App.StorageDriver)
	assert.Equal(t, time.Minute, cfg.App.ReconcileInterval)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
	assert.Equal(t, "migrations", cfg.Postgres.MigrationsPath)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "APP_PORT=9090\nSTORAGE_DRIVER=postgres\nDB_PASSWORD=secret\nDB_MAX_CONNS=3\nRECONCILE_INTERVAL=15s\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	// godotenv never overrides variables that are already set.
	for _, key := range []string{"APP_PORT", "STORAGE_DRIVER", "DB_PASSWORD", "DB_MAX_CONNS", "RECONCILE_INTERVAL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := config.Load(envPath)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Equal(t, int32(3), cfg.Postgres.MaxConns)
	assert.Equal(t, 15*time.Second, cfg.App.ReconcileInterval)
	assert.Contains(t, cfg.Postgres.DSN(), "password=secret")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "mongo"}},
		{name: "bad int", env: map[string]string{"STORAGE_DRIVER": "memory", "DB_MAX_CONNS": "many"}},
		{name: "bad duration", env: map[string]string{"STORAGE_DRIVER": "memory", "RECONCILE_INTERVAL": "soon"}},
		{name: "postgres without password", env: map[string]string{"STORAGE_DRIVER": "postgres", "DB_PASSWORD": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("LAUNDRY_SERVER_URL", "")
	t.Setenv("LAUNDRY_STORE_PATH", "")

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := config.LoadClient(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, config.DefaultClientConfig(), cfg)
	})

	t.Run("file and env overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.yaml")
		yamlContent := `
server_url: http://laundry.internal:8080
request_timeout: 3s
outbox:
  max_attempts: 2
  drain_interval: 1m
cache:
  version: 4
  max_dynamic_entries: 10
`
		require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))
		t.Setenv("LAUNDRY_STORE_PATH", "/tmp/override.db")

		cfg, err := config.LoadClient(path)
		require.NoError(t, err)
		assert.Equal(t, "http://laundry.internal:8080", cfg.ServerURL)
		assert.Equal(t, "/tmp/override.db", cfg.StorePath)
		assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
		assert.Equal(t, 2, cfg.Outbox.MaxAttempts)
		assert.Equal(t, time.Minute, cfg.Outbox.DrainInterval)
		assert.Equal(t, 5*time.Minute, cfg.Outbox.MaxBackoff)
		assert.Equal(t, 4, cfg.Cache.Version)
		assert.Equal(t, 10, cfg.Cache.MaxDynamicEntries)
	})

	t.Run("invalid attempts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.yaml")
		require.NoError(t, os.WriteFile(path, []byte("outbox:\n  max_attempts: 0\n"), 0o600))
		_, err := config.LoadClient(path)
		assert.Error(t, err)
	})
}
