package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/signetai/signet/db"
	"github.com/signetai/signet/errors"
)

// Audit reports embedding coverage over live memories. When the vector
// table is active, coverage means "has a vec row"; otherwise it falls back
// to the metadata table so the numbers stay meaningful without the
// extension loaded.
func (s *Store) Audit(ctx context.Context) (AuditResult, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories WHERE is_deleted = 0").Scan(&total); err != nil {
		return AuditResult{}, errors.Wrap(err, "count memories")
	}

	var unembedded int
	var query string
	if s.vecDims > 0 {
		query = `SELECT COUNT(*) FROM memories m WHERE m.is_deleted = 0
			AND NOT EXISTS (SELECT 1 FROM vec_embeddings v WHERE v.id = m.id)`
	} else {
		query = `SELECT COUNT(*) FROM memories m WHERE m.is_deleted = 0
			AND NOT EXISTS (SELECT 1 FROM embeddings e WHERE e.source_id = m.id)`
	}
	if err := s.db.QueryRowContext(ctx, query).Scan(&unembedded); err != nil {
		return AuditResult{}, errors.Wrap(err, "count unembedded")
	}

	coverage := 100.0
	if total > 0 {
		coverage = float64(total-unembedded) / float64(total) * 100
	}
	return AuditResult{Total: total, Unembedded: unembedded, Coverage: coverage}, nil
}

// Backfill embeds memories that have no vector, batchSize at a time.
// Dry-run counts without writing. Returns the affected count and a
// human-readable summary.
func (s *Store) Backfill(ctx context.Context, batchSize int, dryRun bool) (int, string, error) {
	if !s.SemanticReady() {
		return 0, "", errors.New("no embedding provider configured")
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	rows, err := s.db.QueryContext(ctx, `SELECT m.id, m.content FROM memories m
		WHERE m.is_deleted = 0
		AND NOT EXISTS (SELECT 1 FROM vec_embeddings v WHERE v.id = m.id)
		ORDER BY m.created_at LIMIT ?`, batchSize)
	if err != nil {
		return 0, "", errors.Wrap(err, "query unembedded")
	}
	defer rows.Close()

	type pending struct{ id, content string }
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.content); err != nil {
			return 0, "", errors.Wrap(err, "scan unembedded row")
		}
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		return 0, "", err
	}

	if dryRun {
		return len(batch), fmt.Sprintf("would embed %d memories", len(batch)), nil
	}

	affected := 0
	for _, p := range batch {
		if s.embedMemory(ctx, p.id, p.content) {
			affected++
		}
	}
	if s.logger != nil {
		s.logger.Infow("Backfill complete", "requested", len(batch), "embedded", affected)
	}
	return affected, fmt.Sprintf("embedded %d of %d memories", affected, len(batch)), nil
}

// MigrateBlobEmbeddings is the one-shot conversion from the old
// embeddings.vector BLOB column to the vec_embeddings virtual table.
// No-op when the column is absent. keepBlobs preserves the old column
// after conversion.
func (s *Store) MigrateBlobEmbeddings(ctx context.Context, keepBlobs bool) error {
	hasBlob, err := s.hasColumn(ctx, "embeddings", "vector")
	if err != nil || !hasBlob {
		return err
	}

	if !db.VecAvailable(s.db) {
		return errors.New("legacy BLOB embeddings present but vec extension is not loaded")
	}

	// Dimension comes from the data itself, not config: the old store may
	// have been built with a different model.
	var sample []byte
	err = s.db.QueryRowContext(ctx,
		"SELECT vector FROM embeddings WHERE vector IS NOT NULL LIMIT 1").Scan(&sample)
	if errors.Is(err, sql.ErrNoRows) {
		return s.dropBlobColumn(ctx, keepBlobs)
	}
	if err != nil {
		return errors.Wrap(err, "sample blob vector")
	}
	dims := len(sample) / 4
	if dims == 0 || len(sample)%4 != 0 {
		return errors.Newf("blob vector has invalid length %d", len(sample))
	}

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS vec_embeddings"); err != nil {
		return errors.Wrap(err, "drop vec table")
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE VIRTUAL TABLE vec_embeddings USING vec0(id TEXT PRIMARY KEY, embedding FLOAT[%d] distance_metric=cosine)",
		dims)); err != nil {
		return errors.Wrap(err, "recreate vec table")
	}
	s.vecDims = dims

	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, vector FROM embeddings WHERE vector IS NOT NULL")
	if err != nil {
		return errors.Wrap(err, "read blob vectors")
	}
	defer rows.Close()

	migrated := 0
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return errors.Wrap(err, "scan blob row")
		}
		vec := decodeFloat32LE(blob)
		if len(vec) != dims {
			s.warnf("skipping %s: vector width %d, expected %d", id, len(vec), dims)
			continue
		}
		serialized, err := sqlite_vec.SerializeFloat32(vec)
		if err != nil {
			return errors.Wrapf(err, "serialize vector for %s", id)
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO vec_embeddings (id, embedding) VALUES (?, ?)",
			id, serialized); err != nil {
			return errors.Wrapf(err, "insert vector for %s", id)
		}
		migrated++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Infow("BLOB embeddings migrated", "count", migrated, "dimensions", dims)
	}
	return s.dropBlobColumn(ctx, keepBlobs)
}

// dropBlobColumn rebuilds the metadata table without the vector column
// and swaps it in atomically.
func (s *Store) dropBlobColumn(ctx context.Context, keepBlobs bool) error {
	if keepBlobs {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin blob drop tx")
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE embeddings_new (
			id            TEXT PRIMARY KEY,
			content_hash  TEXT NOT NULL UNIQUE,
			dimensions    INTEGER NOT NULL,
			source_type   TEXT NOT NULL DEFAULT 'memory',
			source_id     TEXT NOT NULL,
			chunk_text    TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		)`,
		`INSERT INTO embeddings_new
			SELECT id, content_hash, dimensions, source_type, source_id, chunk_text, created_at
			FROM embeddings`,
		"DROP TABLE embeddings",
		"ALTER TABLE embeddings_new RENAME TO embeddings",
		"CREATE INDEX IF NOT EXISTS idx_embeddings_source ON embeddings(source_type, source_id)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return errors.Wrapf(err, "blob drop step %q", stmt[:minInt(len(stmt), 40)])
		}
	}
	return errors.Wrap(tx.Commit(), "commit blob drop")
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+table+")")
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

func decodeFloat32LE(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
