package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelbot/internal/config"
)

func TestOpenMemoryMigrates(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"sessions", "messages", "session_credentials", "session_tokens"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	// migrations are idempotent
	require.NoError(t, Migrate(db, "sqlite3"))
}

func TestMemoryDatabaseSharedAcrossQueries(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	_, err = db.Exec(`INSERT INTO sessions (title, model_name, created_at, updated_at) VALUES (?, ?, ?, ?)`, "t", "m", now, now)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpenFileDatabase(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: filepath.Join(t.TempDir(), "travel.db")},
	}}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db, "sqlite3"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", &config.Config{Databases: map[string]config.DatabaseConfig{"postgres": {}}})
	assert.Error(t, err)
	_, err = Open("sqlite3", &config.Config{})
	assert.Error(t, err)
	assert.Error(t, Migrate(nil, "postgres"))
}
