// Package db owns the SQLite connection and schema migrations for the
// Signet memory store.
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/signetai/signet/errors"
)

var vecOnce sync.Once

// Open opens a SQLite database at the specified path with WAL mode, foreign
// keys, and the sqlite-vec extension registered. If logger is provided, logs
// database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	// Register vec0 once for all future connections.
	vecOnce.Do(sqlite_vec.Auto)

	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// Enable WAL mode for concurrent reads during writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"vec_available", VecAvailable(db),
		)
	}

	return db, nil
}

// VecAvailable probes whether the vec0 extension is loaded on this
// connection. Semantic search degrades to keyword-only when it is not.
func VecAvailable(db *sql.DB) bool {
	var version string
	return db.QueryRow("SELECT vec_version()").Scan(&version) == nil
}
