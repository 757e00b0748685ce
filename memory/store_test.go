package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetai/signet/config"
	signettest "github.com/signetai/signet/internal/testing"
)

// fakeEmbedder returns canned vectors keyed by exact text.
type fakeEmbedder struct {
	dims     int
	vectors  map[string][]float32
	fallback []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

func (f *fakeEmbedder) Dimensions() int   { return f.dims }
func (f *fakeEmbedder) ModelName() string { return "fake" }

func defaultSearch() config.SearchConfig {
	return config.SearchConfig{Alpha: 0.7, TopK: 20, MinScore: 0.3}
}

func newTestStore(t *testing.T, embedder *fakeEmbedder) *Store {
	t.Helper()
	database := signettest.CreateTestDB(t)
	var store *Store
	var err error
	// A nil *fakeEmbedder must become a nil interface, not a typed nil.
	if embedder == nil {
		store, err = NewStore(database, nil, defaultSearch(), nil)
	} else {
		store, err = NewStore(database, embedder, defaultSearch(), nil)
	}
	require.NoError(t, err)
	return store
}

func floatPtr(v float64) *float64 { return &v }

func TestRememberDefaults(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	res, err := store.Remember(ctx, RememberInput{Content: "uses neovim daily"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ID, "mem_"))
	assert.False(t, res.Embedded)

	m, err := store.Get(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, TypeFact, m.Type)
	assert.Equal(t, "explicit", m.Source)
	assert.Equal(t, 0.5, m.Importance)
	assert.Empty(t, m.Tags)
	assert.False(t, m.Pinned)
}

func TestRememberRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t, nil)
	_, err := store.Remember(context.Background(), RememberInput{})
	assert.Error(t, err)
}

func TestEmbeddingIdempotence(t *testing.T) {
	embedder := &fakeEmbedder{dims: 3, fallback: []float32{1, 0, 0}}
	store := newTestStore(t, embedder)
	ctx := context.Background()

	r1, err := store.Remember(ctx, RememberInput{Content: "same exact content"})
	require.NoError(t, err)
	require.True(t, r1.Embedded)
	r2, err := store.Remember(ctx, RememberInput{Content: "same exact content"})
	require.NoError(t, err)
	require.True(t, r2.Embedded)

	var metaRows int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&metaRows))
	assert.Equal(t, 1, metaRows, "one metadata row per unique content hash")

	var vecRows int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM vec_embeddings").Scan(&vecRows))
	assert.Equal(t, 2, vecRows, "one vector per memory id")
}

func TestDimensionMismatchSkipsVector(t *testing.T) {
	// Declared 3-dim but the provider answers with 4.
	embedder := &fakeEmbedder{dims: 3, fallback: []float32{1, 0, 0, 0}}
	store := newTestStore(t, embedder)
	ctx := context.Background()

	res, err := store.Remember(ctx, RememberInput{Content: "mismatched embedding width"})
	require.NoError(t, err)
	assert.False(t, res.Embedded)

	m, err := store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.NotNil(t, m, "memory row is durable regardless")

	audit, err := store.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, audit.Total)
	assert.Equal(t, 1, audit.Unembedded)
}

func TestRecallHybridBlend(t *testing.T) {
	query := "zebra"
	embedder := &fakeEmbedder{
		dims: 3,
		vectors: map[string][]float32{
			"zebra quantum notes":          {0, 1, 0},
			"completely unrelated content": {1, 0, 0},
			query:                          {1, 0, 0},
		},
	}
	store := newTestStore(t, embedder)
	ctx := context.Background()

	_, err := store.Remember(ctx, RememberInput{Content: "zebra quantum notes"})
	require.NoError(t, err)
	_, err = store.Remember(ctx, RememberInput{Content: "completely unrelated content"})
	require.NoError(t, err)

	results, method, err := store.Recall(ctx, RecallQuery{Query: query})
	require.NoError(t, err)
	assert.Equal(t, SourceHybrid, method)
	require.Len(t, results, 2)

	// Semantic winner first: alpha=0.7 beats the keyword arm's 0.3.
	assert.Equal(t, "completely unrelated content", results[0].Content)
	assert.InDelta(t, 0.7, results[0].Score, 1e-9)
	assert.Equal(t, "zebra quantum notes", results[1].Content)
	assert.InDelta(t, 0.3, results[1].Score, 1e-9)
}

func TestRecallKeywordOnly(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.Remember(ctx, RememberInput{Content: "prefers ripgrep for searching code"})
	require.NoError(t, err)
	_, err = store.Remember(ctx, RememberInput{Content: "gardening on weekends"})
	require.NoError(t, err)

	results, method, err := store.Recall(ctx, RecallQuery{Query: "ripgrep code"})
	require.NoError(t, err)
	assert.Equal(t, SourceKeyword, method)
	require.NotEmpty(t, results)
	assert.Equal(t, "prefers ripgrep for searching code", results[0].Content)
	assert.Equal(t, SourceKeyword, results[0].Source)
}

func TestRecallTypeFilter(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.Remember(ctx, RememberInput{Content: "docker compose expertise", Type: TypeSkill})
	require.NoError(t, err)
	_, err = store.Remember(ctx, RememberInput{Content: "docker installed last week", Type: TypeFact})
	require.NoError(t, err)

	results, _, err := store.Recall(ctx, RecallQuery{Query: "docker", Type: TypeSkill})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, TypeSkill, results[0].Type)
}

func TestRecallFallbackRecent(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.Remember(ctx, RememberInput{Content: "only row in the store"})
	require.NoError(t, err)

	results, method, err := store.Recall(ctx, RecallQuery{Query: "xyzzy plugh"})
	require.NoError(t, err)
	assert.Equal(t, "recent", method)
	require.Len(t, results, 1)
}

func TestRecallBumpsAccess(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	res, err := store.Remember(ctx, RememberInput{Content: "terraform state locking"})
	require.NoError(t, err)

	_, _, err = store.Recall(ctx, RecallQuery{Query: "terraform"})
	require.NoError(t, err)

	m, err := store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.AccessCount)
	assert.NotNil(t, m.AccessedAt)
}

func TestForgetRemovesFromSearch(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	res, err := store.Remember(ctx, RememberInput{Content: "ephemeral kubernetes note"})
	require.NoError(t, err)
	require.NoError(t, store.Forget(ctx, res.ID))

	m, err := store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Nil(t, m)

	results, method, err := store.Recall(ctx, RecallQuery{Query: "kubernetes"})
	require.NoError(t, err)
	assert.Equal(t, "recent", method)
	assert.Empty(t, results)
}

func TestPrune(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	age := func(id string) {
		_, err := store.db.Exec("UPDATE memories SET created_at = ? WHERE id = ?",
			time.Now().UTC().AddDate(0, 0, -100).Format(time.RFC3339), id)
		require.NoError(t, err)
	}

	stale, err := store.Remember(ctx, RememberInput{
		Content: "old auto trivia", Source: "session", Importance: floatPtr(0.2)})
	require.NoError(t, err)
	age(stale.ID)

	explicit, err := store.Remember(ctx, RememberInput{Content: "old but explicit", Importance: floatPtr(0.2)})
	require.NoError(t, err)
	age(explicit.ID)

	pinned, err := store.Remember(ctx, RememberInput{
		Content: "old but pinned", Source: "session", Importance: floatPtr(0.2), Pinned: true})
	require.NoError(t, err)
	age(pinned.ID)

	accessed, err := store.Remember(ctx, RememberInput{
		Content: "old but accessed", Source: "context-extractor", Importance: floatPtr(0.2)})
	require.NoError(t, err)
	age(accessed.ID)
	_, err = store.db.Exec("UPDATE memories SET access_count = 3 WHERE id = ?", accessed.ID)
	require.NoError(t, err)

	n, err := store.Prune(ctx, 60, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the stale never-accessed auto row goes")

	gone, err := store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	for _, id := range []string{explicit.ID, pinned.ID, accessed.ID} {
		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, m, "memory %s survives pruning", id)
	}
}

func TestEffectiveScore(t *testing.T) {
	now := time.Now().UTC()

	pinned := &Memory{Pinned: true, Importance: 0.1, CreatedAt: now.AddDate(-1, 0, 0)}
	assert.Equal(t, 1.0, EffectiveScore(pinned, now))

	fresh := &Memory{Importance: 0.8, CreatedAt: now}
	assert.InDelta(t, 0.8, EffectiveScore(fresh, now), 1e-9)

	ancient := &Memory{Importance: 0.8, CreatedAt: now.AddDate(-2, 0, 0)}
	assert.InDelta(t, 0.08, EffectiveScore(ancient, now), 1e-9, "decay floors at 0.1")
}

func TestExtractKeywords(t *testing.T) {
	kws := ExtractKeywords("How do I fix the flaky CI pipeline on main? it is so so flaky")
	assert.Contains(t, kws, "flaky")
	assert.Contains(t, kws, "pipeline")
	assert.NotContains(t, kws, "do", "short words dropped")
	assert.NotContains(t, kws, "ci")

	count := 0
	for _, k := range kws {
		if k == "flaky" {
			count++
		}
	}
	assert.Equal(t, 1, count, "deduplicated")

	long := ExtractKeywords("alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo lima")
	assert.Len(t, long, 10, "capped at ten")
}

func TestSessionContextBudget(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.Remember(ctx, RememberInput{Content: "pinned identity anchor", Pinned: true, Importance: floatPtr(0.1)})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := store.Remember(ctx, RememberInput{
			Content:    strings.Repeat("filler detail ", 20),
			Importance: floatPtr(0.9),
		})
		require.NoError(t, err)
	}

	block, included, err := store.SessionContext(ctx, "", 400)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(block), 400)
	assert.Greater(t, included, 0)
	assert.Contains(t, block, "pinned identity anchor", "pinned rows are selected first")
}

func TestSessionContextProjectScope(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.Remember(ctx, RememberInput{
		Content: "signet uses embedded sql migrations", Project: "signet", Importance: floatPtr(0.6)})
	require.NoError(t, err)
	_, err = store.Remember(ctx, RememberInput{
		Content: "other repo pins its toolchain", Project: "other", Importance: floatPtr(0.9)})
	require.NoError(t, err)
	_, err = store.Remember(ctx, RememberInput{Content: "global editor preference", Importance: floatPtr(0.9)})
	require.NoError(t, err)

	block, included, err := store.SessionContext(ctx, "signet", DefaultSessionBudget)
	require.NoError(t, err)
	assert.Equal(t, 2, included, "scoped row plus unscoped row; other projects excluded")
	assert.Contains(t, block, "embedded sql migrations")
	assert.Contains(t, block, "global editor preference")
	assert.NotContains(t, block, "pins its toolchain")
	assert.Less(t, strings.Index(block, "embedded sql migrations"), strings.Index(block, "global editor preference"),
		"project-scoped rows come first despite lower importance")
}

func TestSessionContextScoreFloor(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	faded, err := store.Remember(ctx, RememberInput{Content: "faded ephemeral note", Importance: floatPtr(0.3)})
	require.NoError(t, err)
	// Two years old: decay pushes the effective score under the floor.
	_, err = store.db.Exec("UPDATE memories SET created_at = ?, accessed_at = ? WHERE id = ?",
		time.Now().UTC().AddDate(-2, 0, 0).Format(time.RFC3339),
		time.Now().UTC().AddDate(-2, 0, 0).Format(time.RFC3339), faded.ID)
	require.NoError(t, err)

	_, err = store.Remember(ctx, RememberInput{Content: "fresh durable fact", Importance: floatPtr(0.8)})
	require.NoError(t, err)

	block, included, err := store.SessionContext(ctx, "", DefaultSessionBudget)
	require.NoError(t, err)
	assert.Equal(t, 1, included)
	assert.Contains(t, block, "fresh durable fact")
	assert.NotContains(t, block, "faded ephemeral note")
}

// fakeGenerator satisfies Generator with a canned response.
type fakeGenerator struct {
	response string
	err      error
	offline  bool
	calls    int
}

func (g *fakeGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	g.calls++
	return g.response, g.err
}

func (g *fakeGenerator) Available(context.Context) bool { return !g.offline }

func transcriptFixture(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("user: how should the refiner batch captures before persisting them?\n")
		b.WriteString("assistant: gather a window of events and distill them in one model call.\n")
	}
	return writeTempFile(t, b.String())
}

func TestTranscriptExtraction(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	gen := &fakeGenerator{response: `Here is what I found:
[
  {"content": "The staging database lives on port 5433", "type": "fact", "tags": "infra,staging", "importance": 0.45},
  {"content": "Prefers table-driven tests over assertion chains", "type": "preference", "tags": "testing", "importance": 0.9},
  {"content": "Ran the linter once", "type": "fact", "tags": "", "importance": 0.2}
]`}

	saved, err := store.ExtractFromTranscript(ctx, gen, transcriptFixture(t), "sess-42", "alex")
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 2, saved, "low-importance item dropped")

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	byContent := make(map[string]Memory, len(recent))
	for _, m := range recent {
		byContent[m.Content] = m
		assert.Equal(t, "session", m.Source)
		assert.Equal(t, "sess-42", m.SessionID)
		assert.Equal(t, "alex", m.Who)
		assert.Contains(t, m.Tags, "session-extract")
	}
	fact, ok := byContent["The staging database lives on port 5433"]
	require.True(t, ok)
	assert.InDelta(t, 0.45, fact.Importance, 1e-9)
	assert.Equal(t, TypeFact, fact.Type)
	assert.Contains(t, fact.Tags, "infra")

	pref, ok := byContent["Prefers table-driven tests over assertion chains"]
	require.True(t, ok)
	assert.InDelta(t, 0.4, pref.Importance, 1e-9, "overclaimed importance clamped to auto weight")

	// Same response again: everything is now a near-duplicate.
	saved, err = store.ExtractFromTranscript(ctx, gen, transcriptFixture(t), "sess-43", "alex")
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
}

func TestTranscriptExtractionSkips(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	gen := &fakeGenerator{response: "[]"}
	saved, err := store.ExtractFromTranscript(ctx, gen, writeTempFile(t, "user: hi\n"), "s", "alex")
	require.NoError(t, err)
	assert.Equal(t, 0, saved, "short transcripts are ignored")
	assert.Equal(t, 0, gen.calls, "model not consulted for short transcripts")

	offline := &fakeGenerator{offline: true}
	saved, err = store.ExtractFromTranscript(ctx, offline, transcriptFixture(t), "s", "alex")
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.Equal(t, 0, offline.calls)

	prose := &fakeGenerator{response: "Nothing noteworthy happened in this session."}
	saved, err = store.ExtractFromTranscript(ctx, prose, transcriptFixture(t), "s", "alex")
	require.NoError(t, err)
	assert.Equal(t, 0, saved, "non-JSON responses yield nothing")
}

func TestTranscriptExtractionCap(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	contents := []string{
		"Deploys go through the canary pipeline before production",
		"The embedding model downloads on first use",
		"Retry backoff doubles up to thirty seconds",
		"Capture batches flush every ninety seconds",
		"Weekly distillation runs on sunday mornings",
		"Vector search falls back to keywords when offline",
		"Exports write one jsonl file per table",
	}
	items := make([]string, 0, len(contents))
	for _, c := range contents {
		items = append(items, `{"content": "`+c+`", "type": "fact", "tags": "", "importance": 0.45}`)
	}
	gen := &fakeGenerator{response: "[" + strings.Join(items, ",") + "]"}

	saved, err := store.ExtractFromTranscript(ctx, gen, transcriptFixture(t), "s", "alex")
	require.NoError(t, err)
	assert.Equal(t, maxAutoMemories, saved)
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newTestStore(t, nil)
	ctx := context.Background()

	_, err := source.Remember(ctx, RememberInput{
		Content:    "canonical deploy checklist",
		Type:       TypeProcedural,
		Importance: floatPtr(0.9),
		Confidence: floatPtr(0.8),
		Tags:       []string{"deploy", "ops"},
		Pinned:     true,
	})
	require.NoError(t, err)
	_, err = source.Remember(ctx, RememberInput{Content: "likes rust error messages", Type: TypePreference})
	require.NoError(t, err)

	stateRoot := t.TempDir()
	files, err := source.Export(ctx, stateRoot, ExportOptions{})
	require.NoError(t, err)
	require.Contains(t, files, "memories.jsonl")

	dest := newTestStore(t, nil)
	stats, err := dest.Import(ctx, t.TempDir(), files, StrategyOverwrite)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Memories)

	original, err := source.Recent(ctx, 10)
	require.NoError(t, err)
	restored, err := dest.Recent(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, len(original), len(restored))

	byID := make(map[string]Memory, len(restored))
	for _, m := range restored {
		byID[m.ID] = m
	}
	for _, want := range original {
		got, ok := byID[want.ID]
		require.True(t, ok, "memory %s restored", want.ID)
		assert.Equal(t, want.Content, got.Content)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Tags, got.Tags)
		assert.Equal(t, want.Importance, got.Importance)
		assert.Equal(t, want.Confidence, got.Confidence)
		assert.Equal(t, want.CreatedAt.Unix(), got.CreatedAt.Unix())
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func encodeJSONL(t *testing.T, records ...exportRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		require.NoError(t, enc.Encode(rec))
	}
	return buf.Bytes()
}

func TestImportSkipStrategy(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	res, err := store.Remember(ctx, RememberInput{Content: "original content"})
	require.NoError(t, err)

	rec := exportRecord{Memory: Memory{
		ID: res.ID, Content: "replacement content", Type: TypeFact,
		Source: "explicit", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}}
	data := encodeJSONL(t, rec)

	stats, err := store.Import(ctx, t.TempDir(), map[string][]byte{"memories.jsonl": data}, StrategySkip)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Memories)
	assert.Equal(t, 1, stats.Skipped)

	m, err := store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "original content", m.Content)
}

func TestBackfill(t *testing.T) {
	embedder := &fakeEmbedder{dims: 3, fallback: []float32{0, 0, 1}}
	store := newTestStore(t, embedder)
	ctx := context.Background()

	res, err := store.Remember(ctx, RememberInput{Content: "needs a vector"})
	require.NoError(t, err)
	// Simulate a gap: drop the vector and metadata.
	_, err = store.db.Exec("DELETE FROM vec_embeddings WHERE id = ?", res.ID)
	require.NoError(t, err)
	_, err = store.db.Exec("DELETE FROM embeddings")
	require.NoError(t, err)

	affected, _, err := store.Backfill(ctx, 50, true)
	require.NoError(t, err)
	assert.Equal(t, 1, affected, "dry run counts")

	audit, err := store.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, audit.Unembedded, "dry run never writes")

	affected, _, err = store.Backfill(ctx, 50, false)
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	audit, err = store.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, audit.Unembedded)
	assert.Equal(t, 100.0, audit.Coverage)
}
