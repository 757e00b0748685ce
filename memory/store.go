package memory

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/db"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/llm"
)

// Store is the persistence layer for memories. One write connection behind
// SQLite's own serialization; callers share a single Store.
type Store struct {
	db       *sql.DB
	embedder llm.Embedder
	search   config.SearchConfig
	logger   *zap.SugaredLogger

	// vecDims > 0 means the vec_embeddings table exists with that width.
	vecDims int
}

// NewStore wires the store over an already-migrated database. When an
// embedding provider is configured and the vec extension loaded, the
// vec_embeddings virtual table is created with the provider's declared
// width. Without either, recall degrades to keyword-only.
func NewStore(database *sql.DB, embedder llm.Embedder, search config.SearchConfig, logger *zap.SugaredLogger) (*Store, error) {
	s := &Store{
		db:       database,
		embedder: embedder,
		search:   search,
		logger:   logger,
	}
	if s.search.TopK <= 0 {
		s.search.TopK = 20
	}

	if embedder == nil {
		return s, nil
	}

	if !db.VecAvailable(database) {
		if logger != nil {
			logger.Warnw("Vector extension unavailable, semantic search disabled")
		}
		return s, nil
	}

	dims := embedder.Dimensions()
	if dims <= 0 {
		return nil, errors.Newf("embedding dimensions must be positive, got %d", dims)
	}
	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(id TEXT PRIMARY KEY, embedding FLOAT[%d] distance_metric=cosine)",
		dims,
	)
	if _, err := database.Exec(stmt); err != nil {
		return nil, errors.Wrap(err, "create vec_embeddings table")
	}
	s.vecDims = dims
	return s, nil
}

// SemanticReady reports whether the semantic search arm is usable.
func (s *Store) SemanticReady() bool {
	return s.embedder != nil && s.vecDims > 0
}

// ContentHash is the stable identity of a memory's text for embedding reuse.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func newMemoryID(now time.Time) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, 7)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return fmt.Sprintf("mem_%d_%s", now.UnixMilli(), buf)
}

// Remember persists a new memory and, when a provider is configured,
// its embedding. Embedding failures degrade: the memory row is durable
// either way and Embedded reports what actually happened.
func (s *Store) Remember(ctx context.Context, input RememberInput) (RememberResult, error) {
	if input.Content == "" {
		return RememberResult{}, errors.New("memory content must not be empty")
	}
	if !validTypes[input.Type] {
		input.Type = TypeFact
	}
	if input.Source == "" {
		input.Source = TypeExplicit
	}
	importance := 0.5
	if input.Importance != nil {
		importance = clamp01(*input.Importance)
	}
	confidence := 0.5
	if input.Confidence != nil {
		confidence = clamp01(*input.Confidence)
	}
	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return RememberResult{}, errors.Wrap(err, "marshal tags")
	}

	now := time.Now().UTC()
	id := newMemoryID(now)
	ts := now.Format(time.RFC3339)

	err = db.WithRetry(func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO memories
			(id, content, type, source, importance, confidence, tags, pinned, who,
			 project, session_id, created_at, updated_at, access_count, is_deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
			id, input.Content, input.Type, input.Source, importance, confidence,
			string(tagsJSON), boolToInt(input.Pinned), input.Who,
			input.Project, input.SessionID, ts, ts,
		)
		return err
	})
	if err != nil {
		return RememberResult{}, errors.Wrap(err, "insert memory")
	}

	embedded := s.embedMemory(ctx, id, input.Content)

	if s.logger != nil {
		s.logger.Infow("Memory saved",
			"id", id, "type", input.Type, "embedded", embedded, "tags", len(tags))
	}
	return RememberResult{ID: id, Embedded: embedded}, nil
}

// embedMemory writes the embedding metadata row and the vector for one
// memory. Returns true only when a vector row was written.
func (s *Store) embedMemory(ctx context.Context, id, content string) bool {
	if s.embedder == nil {
		return false
	}

	hash := ContentHash(content)

	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM embeddings WHERE content_hash = ?", hash,
	).Scan(&exists); err != nil {
		s.warnf("check embedding metadata: %v", err)
		return false
	}

	var vec []float32
	if exists == 0 {
		var err error
		vec, err = s.embedder.Embed(ctx, content)
		if err != nil {
			s.warnf("embedding request failed for %s: %v", id, err)
			return false
		}
		err = db.WithRetry(func() error {
			_, err := s.db.ExecContext(ctx, `INSERT INTO embeddings
				(id, content_hash, dimensions, source_type, source_id, chunk_text, created_at)
				VALUES (?, ?, ?, 'memory', ?, ?, ?)`,
				uuid.NewString(), hash, len(vec), id, truncateChunk(content),
				time.Now().UTC().Format(time.RFC3339),
			)
			return err
		})
		if err != nil {
			s.warnf("insert embedding metadata for %s: %v", id, err)
			return false
		}
	} else if s.vecDims > 0 {
		// Identical content already embedded; re-embed for this memory's
		// own vec row. Providers cache aggressively so this is cheap.
		var err error
		vec, err = s.embedder.Embed(ctx, content)
		if err != nil {
			s.warnf("embedding request failed for %s: %v", id, err)
			return false
		}
	}

	if s.vecDims == 0 || vec == nil {
		return false
	}
	if len(vec) != s.vecDims {
		// Metadata stays so the backfill path can recover after a fix.
		if s.logger != nil {
			s.logger.Errorw("Embedding dimension mismatch, vector skipped",
				"id", id, "got", len(vec), "want", s.vecDims)
		}
		return false
	}

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		s.warnf("serialize vector for %s: %v", id, err)
		return false
	}
	err = db.WithRetry(func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO vec_embeddings (id, embedding) VALUES (?, ?)", id, blob)
		return err
	})
	if err != nil {
		s.warnf("insert vector for %s: %v", id, err)
		return false
	}
	return true
}

// Get loads one memory by id. Soft-deleted rows are not returned.
func (s *Store) Get(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, content, type, source, importance,
		confidence, tags, pinned, who, project, session_id,
		created_at, updated_at, accessed_at, access_count
		FROM memories WHERE id = ? AND is_deleted = 0`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// Forget soft-deletes a memory. Keyword search joins on is_deleted so the
// row stops surfacing immediately; the vec row is removed here.
func (s *Store) Forget(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE memories SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0",
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrap(err, "soft delete memory")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf("memory %s not found", id)
	}
	if s.vecDims > 0 {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM vec_embeddings WHERE id = ?", id); err != nil {
			s.warnf("delete vector for %s: %v", id, err)
		}
	}
	return nil
}

// Pin sets or clears the pinned flag.
func (s *Store) Pin(ctx context.Context, id string, pinned bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE memories SET pinned = ?, updated_at = ? WHERE id = ? AND is_deleted = 0",
		boolToInt(pinned), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrap(err, "update pinned")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf("memory %s not found", id)
	}
	return nil
}

// Count returns the number of live memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE is_deleted = 0").Scan(&n)
	return n, errors.Wrap(err, "count memories")
}

// Recent returns the newest live memories, an ordering fallback for when
// search has nothing to rank.
func (s *Store) Recent(ctx context.Context, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, type, source, importance,
		confidence, tags, pinned, who, project, session_id,
		created_at, updated_at, accessed_at, access_count
		FROM memories WHERE is_deleted = 0 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent memories")
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ByTypesSince returns live memories of the given types created at or after
// since (zero time means all-time), newest first, capped at limit.
func (s *Store) ByTypesSince(ctx context.Context, types []string, since time.Time, limit int) ([]Memory, error) {
	if len(types) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}
	placeholders := make([]string, len(types))
	args := make([]any, 0, len(types)+2)
	for i, t := range types {
		placeholders[i] = "?"
		args = append(args, t)
	}
	query := `SELECT id, content, type, source, importance, confidence, tags, pinned,
		who, project, session_id, created_at, updated_at, accessed_at, access_count
		FROM memories WHERE is_deleted = 0 AND type IN (` + strings.Join(placeholders, ",") + `)`
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query memories by type")
	}
	defer rows.Close()
	return scanMemories(rows)
}

// All streams every live memory, newest first. The expertise graph rebuild
// walks the full set.
func (s *Store) All(ctx context.Context) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, type, source, importance,
		confidence, tags, pinned, who, project, session_id,
		created_at, updated_at, accessed_at, access_count
		FROM memories WHERE is_deleted = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query all memories")
	}
	defer rows.Close()
	return scanMemories(rows)
}

// FindTagged returns the newest live memory of a type carrying the tag,
// or nil when none exists. Singleton artifacts like the cognitive profile
// live behind this lookup.
func (s *Store) FindTagged(ctx context.Context, typ, tag string) (*Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, type, source, importance,
		confidence, tags, pinned, who, project, session_id,
		created_at, updated_at, accessed_at, access_count
		FROM memories WHERE is_deleted = 0 AND type = ? ORDER BY created_at DESC`, typ)
	if err != nil {
		return nil, errors.Wrap(err, "query tagged memories")
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan memory")
		}
		for _, t := range m.Tags {
			if t == tag {
				return m, nil
			}
		}
	}
	return nil, rows.Err()
}

// UpdateContent replaces a memory's content in place. The FTS update
// trigger reindexes it; the stale vec row is dropped so backfill re-embeds.
func (s *Store) UpdateContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE memories SET content = ?, updated_at = ? WHERE id = ? AND is_deleted = 0",
		content, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrap(err, "update memory content")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf("memory %s not found", id)
	}
	if s.vecDims > 0 {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM vec_embeddings WHERE id = ?", id); err != nil {
			s.warnf("delete stale vector for %s: %v", id, err)
		}
	}
	return nil
}

// Prune defaults: auto-extracted memories survive two months untouched
// before they are eligible.
const (
	PruneAfterDays     = 60
	PruneMaxImportance = 0.3
)

// Prune soft-deletes stale auto-extracted memories: unpinned, never
// accessed, importance below maxImportance, and older than days. Explicit
// memories are never pruned regardless of age. Returns the number removed.
func (s *Store) Prune(ctx context.Context, days int, maxImportance float64) (int, error) {
	if days <= 0 {
		days = PruneAfterDays
	}
	if maxImportance <= 0 {
		maxImportance = PruneMaxImportance
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET is_deleted = 1, updated_at = ?
		WHERE is_deleted = 0 AND pinned = 0 AND source != ? AND access_count = 0
		  AND importance < ? AND created_at < ?`,
		time.Now().UTC().Format(time.RFC3339), TypeExplicit, maxImportance, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "prune memories")
	}
	n, _ := res.RowsAffected()
	if s.logger != nil && n > 0 {
		s.logger.Infow("Pruned memories", "count", n, "older_than_days", days)
	}
	return int(n), nil
}

// HasContent reports whether a live memory with exactly this content exists.
func (s *Store) HasContent(ctx context.Context, content string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories WHERE content = ? AND is_deleted = 0", content).Scan(&n)
	return n > 0, errors.Wrap(err, "check content")
}

func (s *Store) bumpAccess(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE memories SET access_count = access_count + 1, accessed_at = ? WHERE id = ?",
			now, id); err != nil {
			s.warnf("bump access for %s: %v", id, err)
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var tagsJSON string
	var pinned int
	var createdAt, updatedAt string
	var accessedAt sql.NullString
	err := row.Scan(&m.ID, &m.Content, &m.Type, &m.Source, &m.Importance,
		&m.Confidence, &tagsJSON, &pinned, &m.Who, &m.Project, &m.SessionID,
		&createdAt, &updatedAt, &accessedAt, &m.AccessCount)
	if err != nil {
		return nil, err
	}
	m.Pinned = pinned != 0
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		m.Tags = []string{}
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	if accessedAt.Valid {
		t := parseTime(accessedAt.String)
		m.AccessedAt = &t
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan memory")
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// SQLite datetime('now') format from legacy rows.
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func truncateChunk(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) warnf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Warnf(format, args...)
	}
}
