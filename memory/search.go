package memory

import (
	"context"
	"sort"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/internal/util"
)

// Recall runs a hybrid search: BM25 keyword ranking blended with cosine
// semantic similarity, alpha-weighted toward the semantic arm. The method
// return value names the arm that actually served the query: "hybrid",
// "keyword", "semantic", or "recent" when both arms came up empty.
func (s *Store) Recall(ctx context.Context, q RecallQuery) ([]RecallResult, string, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}

	keyword, err := s.keywordArm(ctx, q.Query)
	if err != nil {
		s.warnf("keyword search failed: %v", err)
		keyword = nil
	}

	var semantic map[string]float64
	if s.SemanticReady() {
		semantic, err = s.semanticArm(ctx, q.Query)
		if err != nil {
			s.warnf("semantic search failed: %v", err)
			semantic = nil
		}
	}

	method := SourceHybrid
	switch {
	case len(semantic) == 0 && len(keyword) == 0:
		return s.recentFallback(ctx, q)
	case len(semantic) == 0:
		method = SourceKeyword
	case len(keyword) == 0:
		method = SourceSemantic
	}

	blended := s.blend(keyword, semantic)

	results, err := s.materialize(ctx, blended, q)
	if err != nil {
		return nil, "", err
	}
	if len(results) == 0 {
		return s.recentFallback(ctx, q)
	}
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	s.bumpAccess(ctx, ids)
	return results, method, nil
}

// ftsQuery rewrites free text into an OR of quoted tokens so user input
// can never hit FTS5 syntax errors.
func ftsQuery(query string) string {
	tokens := util.Tokens(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// keywordArm returns raw BM25 scores keyed by memory id. FTS5's rank is
// negative (better matches are more negative), so it is sign-flipped here.
func (s *Store) keywordArm(ctx context.Context, query string) (map[string]float64, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT m.id, -f.rank
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ? AND m.is_deleted = 0
		ORDER BY f.rank LIMIT ?`, match, s.search.TopK)
	if err != nil {
		return nil, errors.Wrap(err, "fts query")
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, errors.Wrap(err, "scan fts row")
		}
		scores[id] = score
	}
	return scores, rows.Err()
}

// semanticArm returns cosine similarities keyed by memory id.
func (s *Store) semanticArm(ctx context.Context, query string) (map[string]float64, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}
	if len(vec) != s.vecDims {
		return nil, errors.Newf("query embedding has %d dimensions, index has %d", len(vec), s.vecDims)
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, errors.Wrap(err, "serialize query vector")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, distance FROM vec_embeddings
		WHERE embedding MATCH ? AND k = ? ORDER BY distance`, blob, s.search.TopK)
	if err != nil {
		return nil, errors.Wrap(err, "knn query")
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, errors.Wrap(err, "scan knn row")
		}
		scores[id] = 1 - distance
	}
	return scores, rows.Err()
}

type scored struct {
	id     string
	score  float64
	source string
}

// blend min-max normalizes each arm over its own candidates, then combines
// as alpha*semantic + (1-alpha)*keyword. An id missing from an arm
// contributes zero from that arm.
func (s *Store) blend(keyword, semantic map[string]float64) []scored {
	normKeyword := normalizeMap(keyword)
	normSemantic := normalizeMap(semantic)
	alpha := s.search.Alpha

	seen := make(map[string]struct{}, len(keyword)+len(semantic))
	var out []scored
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}

		kw, inKeyword := normKeyword[id]
		sem, inSemantic := normSemantic[id]
		source := SourceHybrid
		if !inSemantic {
			source = SourceKeyword
		} else if !inKeyword {
			source = SourceSemantic
		}
		out = append(out, scored{
			id:     id,
			score:  alpha*sem + (1-alpha)*kw,
			source: source,
		})
	}
	for id := range semantic {
		add(id)
	}
	for id := range keyword {
		add(id)
	}
	return out
}

func normalizeMap(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return nil
	}
	ids := make([]string, 0, len(scores))
	values := make([]float64, 0, len(scores))
	for id, v := range scores {
		ids = append(ids, id)
		values = append(values, v)
	}
	norm := util.Normalize(values)
	out := make(map[string]float64, len(scores))
	for i, id := range ids {
		out[id] = norm[i]
	}
	return out
}

// materialize loads candidate rows, applies filters and the score floor,
// and orders pinned-first within tied score bands.
func (s *Store) materialize(ctx context.Context, candidates []scored, q RecallQuery) ([]RecallResult, error) {
	var results []RecallResult
	for _, c := range candidates {
		if c.score < s.search.MinScore {
			continue
		}
		m, err := s.Get(ctx, c.id)
		if err != nil {
			return nil, err
		}
		if m == nil || !matchesFilters(m, q) {
			continue
		}
		results = append(results, RecallResult{
			ID:        m.ID,
			Content:   m.Content,
			Score:     c.score,
			Source:    c.source,
			Type:      m.Type,
			Tags:      m.Tags,
			Pinned:    m.Pinned,
			Who:       m.Who,
			CreatedAt: m.CreatedAt,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		const band = 1e-6
		di := results[i].Score - results[j].Score
		if di > band {
			return true
		}
		if di < -band {
			return false
		}
		if results[i].Pinned != results[j].Pinned {
			return results[i].Pinned
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func matchesFilters(m *Memory, q RecallQuery) bool {
	if q.Type != "" && m.Type != q.Type {
		return false
	}
	if q.Who != "" && m.Who != q.Who {
		return false
	}
	if q.Since != nil && m.CreatedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && m.CreatedAt.After(*q.Until) {
		return false
	}
	if len(q.Tags) > 0 {
		have := make(map[string]struct{}, len(m.Tags))
		for _, t := range m.Tags {
			have[strings.ToLower(t)] = struct{}{}
		}
		any := false
		for _, t := range q.Tags {
			if _, ok := have[strings.ToLower(t)]; ok {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

// recentFallback serves newest memories when search has nothing to rank,
// still honoring the query's filters.
func (s *Store) recentFallback(ctx context.Context, q RecallQuery) ([]RecallResult, string, error) {
	memories, err := s.Recent(ctx, s.search.TopK)
	if err != nil {
		return nil, "", err
	}
	var results []RecallResult
	for i := range memories {
		m := &memories[i]
		if !matchesFilters(m, q) {
			continue
		}
		results = append(results, RecallResult{
			ID:        m.ID,
			Content:   m.Content,
			Source:    SourceKeyword,
			Type:      m.Type,
			Tags:      m.Tags,
			Pinned:    m.Pinned,
			Who:       m.Who,
			CreatedAt: m.CreatedAt,
		})
		if len(results) == q.Limit {
			break
		}
	}
	return results, "recent", nil
}
