package db

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// Migrate runs all pending migrations inside per-file transactions.
// A failed migration rolls back and aborts the ladder; migration failures
// are fatal to daemon startup.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	// A database created by an older release gets copied into the unified
	// shape before the numbered ladder resumes.
	unified, err := unifyLegacySchema(db, logger)
	if err != nil {
		return err
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	applied := 0
	for _, filename := range files {
		version, err := strconv.Atoi(strings.SplitN(filename, "_", 2)[0])
		if err != nil {
			return errors.Wrapf(err, "migration filename %s has no numeric prefix", filename)
		}
		if version <= current {
			continue
		}

		sqlBytes, err := migrations.ReadFile(filepath.Join("sqlite/migrations", filename))
		if err != nil {
			return errors.Wrapf(err, "read %s", filename)
		}

		if logger != nil {
			logger.Infow("Applying migration", "migration", filename, "version", version)
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", filename)
		}

		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute %s", filename)
		}

		sum := sha256.Sum256(sqlBytes)
		checksum := hex.EncodeToString(sum[:])[:16]
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, checksum) VALUES (?, ?, ?)",
			version, time.Now().UTC().Format(time.RFC3339), checksum,
		); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record %s", filename)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", filename)
		}
		applied++
	}

	// The unify pass ran before the FTS table existed; reindex the copied rows.
	if unified {
		if _, err := db.Exec("INSERT INTO memories_fts(memories_fts) VALUES('rebuild')"); err != nil {
			return errors.Wrap(err, "rebuild fts after unify")
		}
	}

	if logger != nil {
		logger.Infow("Migrations complete", "applied", applied, "version", len(files)-1)
	}
	return nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		applied_at  TEXT NOT NULL,
		checksum    TEXT NOT NULL
	)`)
	return errors.Wrap(err, "ensure schema_migrations")
}

func currentVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	if !version.Valid {
		return -1, nil
	}
	return int(version.Int64), nil
}

// tableExists reports whether a table is present.
func tableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?", name,
	).Scan(&n)
	return n > 0, errors.Wrapf(err, "check table %s", name)
}

// columnExists reports whether a table has a column.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, errors.Wrapf(err, "table_info %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// unifyLegacySchema detects the pre-unified memories shape (no is_deleted
// column, integer ids, comma-separated tags) and copies rows into the
// current shape. One-shot: once the unified columns exist this is a no-op.
func unifyLegacySchema(db *sql.DB, logger *zap.SugaredLogger) (bool, error) {
	exists, err := tableExists(db, "memories")
	if err != nil || !exists {
		return false, err
	}
	unified, err := columnExists(db, "memories", "is_deleted")
	if err != nil || unified {
		return false, err
	}

	if logger != nil {
		logger.Warnw("Legacy memories schema detected, unifying")
	}

	tx, err := db.Begin()
	if err != nil {
		return false, errors.Wrap(err, "begin unify tx")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE memories_unified (
		id            TEXT PRIMARY KEY,
		content       TEXT NOT NULL,
		type          TEXT NOT NULL DEFAULT 'fact',
		source        TEXT NOT NULL DEFAULT 'explicit',
		importance    REAL NOT NULL DEFAULT 0.5,
		confidence    REAL NOT NULL DEFAULT 0.5,
		tags          TEXT NOT NULL DEFAULT '[]',
		pinned        INTEGER NOT NULL DEFAULT 0,
		who           TEXT NOT NULL DEFAULT '',
		project       TEXT NOT NULL DEFAULT '',
		session_id    TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		accessed_at   TEXT,
		access_count  INTEGER NOT NULL DEFAULT 0,
		is_deleted    INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return false, errors.Wrap(err, "create unified memories table")
	}

	// Legacy tags are comma-separated; wrap each as a JSON array. Legacy
	// rows carry no confidence, so they get the midpoint.
	if _, err := tx.Exec(`INSERT INTO memories_unified
		(id, content, type, source, importance, confidence, tags, pinned, who,
		 project, session_id, created_at, updated_at, accessed_at, access_count, is_deleted)
		SELECT
			'mem_legacy_' || CAST(rowid AS TEXT),
			content,
			COALESCE(type, 'fact'),
			COALESCE(why, 'explicit'),
			COALESCE(importance, 0.5),
			0.5,
			CASE
				WHEN tags IS NULL OR tags = '' THEN '[]'
				ELSE '["' || REPLACE(tags, ',', '","') || '"]'
			END,
			COALESCE(pinned, 0),
			COALESCE(who, ''),
			COALESCE(project, ''),
			COALESCE(session_id, ''),
			COALESCE(created_at, datetime('now')),
			COALESCE(created_at, datetime('now')),
			last_accessed,
			COALESCE(access_count, 0),
			0
		FROM memories`); err != nil {
		return false, errors.Wrap(err, "copy legacy memories")
	}

	// The legacy FTS table indexes the old rowids; drop it so migration 002
	// recreates it over the unified table.
	for _, stmt := range []string{
		"DROP TRIGGER IF EXISTS memories_ai",
		"DROP TRIGGER IF EXISTS memories_ad",
		"DROP TRIGGER IF EXISTS memories_au",
		"DROP TABLE IF EXISTS memories_fts",
		"DROP TABLE memories",
		"ALTER TABLE memories_unified RENAME TO memories",
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return false, errors.Wrapf(err, "unify step %q", stmt)
		}
	}

	return true, errors.Wrap(tx.Commit(), "commit unify")
}
