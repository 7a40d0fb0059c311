package db

import (
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	w := buildDSN("/tmp/history.sqlite", Writer)
	assert.True(t, strings.HasPrefix(w, "/tmp/history.sqlite?"))
	assert.Contains(t, w, "_journal_mode=WAL")
	assert.Contains(t, w, "_busy_timeout=5000")
	assert.Contains(t, w, "_foreign_keys=on")
	assert.Contains(t, w, "_txlock=immediate")

	r := buildDSN("/tmp/history.sqlite", Reader)
	assert.Contains(t, r, "_synchronous=NORMAL")
	assert.NotContains(t, r, "_txlock")
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), PoolMode("shared"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, err := OpenSQLite("/nonexistent/dir/test.db", Writer, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping sqlite")
}

func TestOpenSQLitePair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	writeDB, readDB, err := OpenSQLitePair(path, 4)
	require.NoError(t, err)
	t.Cleanup(func() {
		writeDB.Close()
		readDB.Close()
	})

	assert.Equal(t, 1, writeDB.Stats().MaxOpenConnections)
	assert.Equal(t, 4, readDB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, writeDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", strings.ToLower(journalMode))

	var fk int
	require.NoError(t, writeDB.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenHistory_Migrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.sqlite")

	writeDB, readDB, err := OpenHistory(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		readDB.Close()
		writeDB.Close()
	})

	for _, table := range []string{"runs", "run_records"} {
		var n int
		err := readDB.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}

	// Reopening applies nothing new.
	w2, r2, err := OpenHistory(path)
	require.NoError(t, err)
	r2.Close()
	w2.Close()
}
