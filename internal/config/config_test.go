package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 15*time.Second, cfg.SyncInterval)
	assert.Equal(t, 10, cfg.SyncMaxAttempts)
	assert.True(t, cfg.KitchenRouting)
	assert.True(t, cfg.PrintReceipt)
	assert.False(t, cfg.TokenNumbers)
	assert.False(t, cfg.SyncEnabled())
}

func TestLoadReadsEnvFileAndEnvironmentWins(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("PORT=9090\nTERMINAL_ID=bar-2\nTOKEN_NUMBERS=true\n"), 0o600))
	t.Setenv("TERMINAL_ID", "patio-1")
	t.Setenv("SYNC_INTERVAL_SECONDS", "30")

	cfg, err := load(file)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "patio-1", cfg.TerminalID)
	assert.True(t, cfg.TokenNumbers)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
}

func TestLoadStoreDriver(t *testing.T) {
	t.Run("database url implies postgres", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://pos@localhost/dinein")
		cfg, err := load("")
		require.NoError(t, err)
		assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	})
	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "postgres")
		_, err := load("")
		assert.Error(t, err)
	})
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "mysql")
		_, err := load("")
		assert.Error(t, err)
	})
	t.Run("sqlite", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "SQLite")
		t.Setenv("SQLITE_PATH", "/var/lib/dinein/pos.db")
		cfg, err := load("")
		require.NoError(t, err)
		assert.Equal(t, DriverSQLite, cfg.StoreDriver)
		assert.Equal(t, "/var/lib/dinein/pos.db", cfg.SQLitePath)
	})
}
