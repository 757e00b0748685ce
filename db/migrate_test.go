package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateFreshDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db, nil))

	for _, table := range []string{
		"memories", "memories_fts", "embeddings",
		"perception_state", "perception_screen", "perception_terminal",
		"entities", "relations", "expertise_nodes", "expertise_edges",
		"conversations", "schema_migrations",
	} {
		exists, err := tableExists(db, table)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db, nil))

	v1, err := currentVersion(db)
	require.NoError(t, err)

	// Second run applies nothing and changes nothing.
	require.NoError(t, Migrate(db, nil))
	v2, err := currentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, v1+1, count)
}

func TestMigrateRecordsChecksums(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db, nil))

	rows, err := db.Query("SELECT version, checksum FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer rows.Close()

	for rows.Next() {
		var version int
		var checksum string
		require.NoError(t, rows.Scan(&version, &checksum))
		assert.Len(t, checksum, 16, "checksum for version %d", version)
	}
	require.NoError(t, rows.Err())
}

func TestUnifyLegacySchema(t *testing.T) {
	db := openTestDB(t)

	// Pre-unified shape: integer rowids, comma tags, no is_deleted.
	_, err := db.Exec(`CREATE TABLE memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		type TEXT,
		why TEXT,
		who TEXT,
		project TEXT,
		session_id TEXT,
		importance REAL,
		tags TEXT,
		pinned INTEGER DEFAULT 0,
		created_at TEXT,
		last_accessed TEXT,
		access_count INTEGER DEFAULT 0
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO memories (content, type, why, project, importance, tags, pinned, created_at)
		VALUES ('prefers tabs over spaces', 'preference', 'explicit', 'dotfiles', 0.9, 'style,editor', 1, '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO memories (content, tags) VALUES ('knows Go', '')`)
	require.NoError(t, err)

	require.NoError(t, Migrate(db, nil))

	var id, tags, project string
	var pinned, deleted int
	require.NoError(t, db.QueryRow(
		"SELECT id, tags, project, pinned, is_deleted FROM memories WHERE content = 'prefers tabs over spaces'",
	).Scan(&id, &tags, &project, &pinned, &deleted))
	assert.Equal(t, "mem_legacy_1", id)
	assert.Equal(t, `["style","editor"]`, tags)
	assert.Equal(t, "dotfiles", project)
	assert.Equal(t, 1, pinned)
	assert.Equal(t, 0, deleted)

	require.NoError(t, db.QueryRow("SELECT tags FROM memories WHERE content = 'knows Go'").Scan(&tags))
	assert.Equal(t, "[]", tags)

	// Copied rows are searchable after the FTS rebuild.
	var hits int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM memories_fts WHERE memories_fts MATCH 'tabs'",
	).Scan(&hits))
	assert.Equal(t, 1, hits)

	// Unify never runs twice.
	require.NoError(t, Migrate(db, nil))
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestFTSTriggersTrackWrites(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db, nil))

	_, err := db.Exec(`INSERT INTO memories (id, content, type, source, created_at, updated_at)
		VALUES ('mem_1', 'kubernetes deployment rollback', 'fact', 'explicit', datetime('now'), datetime('now'))`)
	require.NoError(t, err)

	var hits int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM memories_fts WHERE memories_fts MATCH 'kubernetes'",
	).Scan(&hits))
	assert.Equal(t, 1, hits)

	_, err = db.Exec("UPDATE memories SET content = 'postgres failover drill' WHERE id = 'mem_1'")
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM memories_fts WHERE memories_fts MATCH 'kubernetes'",
	).Scan(&hits))
	assert.Equal(t, 0, hits)

	_, err = db.Exec("DELETE FROM memories WHERE id = 'mem_1'")
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM memories_fts WHERE memories_fts MATCH 'postgres'",
	).Scan(&hits))
	assert.Equal(t, 0, hits)
}
