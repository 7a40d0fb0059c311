// Package db provides database connectivity helpers and migration support
// for the run history store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// PoolMode selects how a SQLite pool is tuned.
type PoolMode string

const (
	// Writer pools hold a single connection and take the write lock at BEGIN,
	// so concurrent SaveRun calls queue instead of failing with SQLITE_BUSY.
	Writer PoolMode = "write"
	// Reader pools serve history listings alongside a running evaluation.
	Reader PoolMode = "read"
)

// historyReaders is the reader pool size for the CLI; history queries are
// issued one at a time.
const historyReaders = 2

// OpenSQLite opens a pool for the SQLite file at path. Both modes use WAL,
// a 5s busy timeout, synchronous=NORMAL and foreign keys. maxOpen sizes a
// Reader pool (0 means 4) and is ignored for a Writer. The sqlite3 driver
// must be registered by the caller.
func OpenSQLite(path string, mode PoolMode, maxOpen int) (*sql.DB, error) {
	if mode != Reader && mode != Writer {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, Reader, Writer)
	}

	pool, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}
	if mode == Writer {
		maxOpen = 1
	} else if maxOpen <= 0 {
		maxOpen = 4
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxOpen)
	pool.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return pool, nil
}

// OpenSQLitePair opens a Writer and a Reader pool on the same file. A
// scheduled run can record history while the history command reads it.
func OpenSQLitePair(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	writeDB, err = OpenSQLite(path, Writer, 0)
	if err != nil {
		return nil, nil, err
	}
	readDB, err = OpenSQLite(path, Reader, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}
	return writeDB, readDB, nil
}

// OpenHistory opens the run history at path, creating its directory, and
// applies pending migrations.
func OpenHistory(path string) (writeDB, readDB *sql.DB, err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	writeDB, readDB, err = OpenSQLitePair(path, historyReaders)
	if err != nil {
		return nil, nil, err
	}
	if err := RunMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, nil, err
	}
	return writeDB, readDB, nil
}

func buildDSN(path string, mode PoolMode) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	if mode == Writer {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
