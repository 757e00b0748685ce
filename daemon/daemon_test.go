package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signetai/signet/config"
	signettest "github.com/signetai/signet/internal/testing"
	"github.com/signetai/signet/llm"
	"github.com/signetai/signet/memory"
)

// newTestDaemon wires a daemon around a migrated temp database, skipping the
// capture and refiner subsystems. Handlers treat those as degraded, which is
// exactly what the API contract promises.
func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	database := signettest.CreateTestDB(t)
	store, err := memory.NewStore(database, nil,
		config.SearchConfig{Alpha: 0.7, TopK: 20, MinScore: 0.3}, nil)
	require.NoError(t, err)

	return &Daemon{
		cfg: &config.Config{
			Memory: config.MemoryConfig{SessionBudget: 2000},
		},
		version:   "test",
		logger:    zap.NewNop().Sugar(),
		database:  database,
		store:     store,
		startedAt: time.Now(),
	}
}

func newTestAPI(t *testing.T, d *Daemon) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(d.routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	d := newTestDaemon(t)
	srv := newTestAPI(t, d)

	resp, body := getJSON(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
}

func TestStatusEndpoint(t *testing.T) {
	d := newTestDaemon(t)
	srv := newTestAPI(t, d)

	_, err := d.store.Remember(context.Background(), memory.RememberInput{Content: "status fixture"})
	require.NoError(t, err)

	resp, body := getJSON(t, srv.URL+"/api/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", body["version"])
	assert.Greater(t, body["pid"].(float64), float64(0))
	assert.Equal(t, float64(1), body["memories"])
	assert.Contains(t, body, "uptime")

	// Status is read-only.
	resp, _ = postJSON(t, srv.URL+"/api/status", map[string]string{})
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRememberAndRecallEndpoints(t *testing.T) {
	d := newTestDaemon(t)
	srv := newTestAPI(t, d)

	resp, body := postJSON(t, srv.URL+"/api/memory/remember", map[string]interface{}{
		"content": "Production deploys roll through the canary stage first",
		"type":    "decision",
		"tags":    []string{"deploy"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, false, body["embedded"])
	assert.Equal(t, "decision", body["type"])

	resp, body = postJSON(t, srv.URL+"/api/memory/recall", map[string]interface{}{
		"query": "canary deploys",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, memory.SourceKeyword, body["method"])
	results := body["results"].([]interface{})
	require.Len(t, results, 1)
	hit := results[0].(map[string]interface{})
	assert.Contains(t, hit["content"], "canary stage")

	// Validation failures are 400s, not panics.
	resp, body = postJSON(t, srv.URL+"/api/memory/remember", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "content")

	resp, body = postJSON(t, srv.URL+"/api/memory/recall", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "query")

	resp, err := http.Get(srv.URL + "/api/memory/remember")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSessionStartInjection(t *testing.T) {
	d := newTestDaemon(t)
	srv := newTestAPI(t, d)

	_, err := d.store.Remember(context.Background(), memory.RememberInput{
		Content:    "Always run migrations before deploying the daemon",
		Importance: floatPtr(0.9),
	})
	require.NoError(t, err)

	resp, body := postJSON(t, srv.URL+"/api/hooks/session-start", map[string]string{
		"harness": "claude-code",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["memories"])
	inject := body["inject"].(string)
	assert.Contains(t, inject, "## Memories")
	assert.Contains(t, inject, "run migrations before deploying")
}

func TestUserPromptSubmitInjection(t *testing.T) {
	d := newTestDaemon(t)
	srv := newTestAPI(t, d)

	_, err := d.store.Remember(context.Background(), memory.RememberInput{
		Content: "The staging database lives on the bastion host",
		Type:    "fact",
	})
	require.NoError(t, err)

	resp, body := postJSON(t, srv.URL+"/api/hooks/user-prompt-submit", map[string]string{
		"harness":    "claude-code",
		"userPrompt": "how do I reach the staging database?",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["memoryCount"])
	inject := body["inject"].(string)
	assert.Contains(t, inject, "## Relevant memories")
	assert.Contains(t, inject, "bastion host")

	// A prompt with no usable keywords injects nothing.
	resp, body = postJSON(t, srv.URL+"/api/hooks/user-prompt-submit", map[string]string{
		"harness":    "claude-code",
		"userPrompt": "ok",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["memoryCount"])
	assert.Equal(t, "", body["inject"])
}

// fakeOllama serves the two endpoints the generation client touches.
func fakeOllama(t *testing.T, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"models":[]}`)
		case "/api/generate":
			w.Header().Set("Content-Type", "application/json")
			payload, _ := json.Marshal(map[string]interface{}{
				"response": response,
				"done":     true,
			})
			w.Write(payload)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionEndExtraction(t *testing.T) {
	d := newTestDaemon(t)
	model := fakeOllama(t, `[{"content":"Deploys go through the canary pipeline before production","type":"fact","tags":"deploy","importance":0.45}]`)
	d.client = llm.NewClient(model.URL, "test-model", nil)
	srv := newTestAPI(t, d)

	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(transcript,
		[]byte(strings.Repeat("user: how do deploys work?\nassistant: through the canary pipeline.\n", 20)), 0o644))

	resp, body := postJSON(t, srv.URL+"/api/hooks/session-end", map[string]string{
		"harness":        "claude-code",
		"transcriptPath": transcript,
		"sessionId":      "sess-1",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["memoriesSaved"])

	recent, err := d.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "session", recent[0].Source)
	assert.Equal(t, "sess-1", recent[0].SessionID)

	// A cleared session skips extraction but still closes the conversation.
	resp, body = postJSON(t, srv.URL+"/api/hooks/session-end", map[string]string{
		"harness":        "claude-code",
		"transcriptPath": transcript,
		"sessionId":      "sess-2",
		"reason":         "clear",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["memoriesSaved"])

	var conversations int
	require.NoError(t, d.database.QueryRow(
		"SELECT COUNT(*) FROM conversations").Scan(&conversations))
	assert.Equal(t, 2, conversations)
}

func TestCompactionHooksAcknowledge(t *testing.T) {
	d := newTestDaemon(t)
	srv := newTestAPI(t, d)

	for _, path := range []string{"/api/hooks/pre-compaction", "/api/hooks/compaction-complete"} {
		resp, body := postJSON(t, srv.URL+path, map[string]string{"harness": "claude-code"})
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, true, body["ok"], path)
	}
}

func TestEmbeddingGapsReport(t *testing.T) {
	d := newTestDaemon(t)
	srv := newTestAPI(t, d)

	_, err := d.store.Remember(context.Background(), memory.RememberInput{Content: "unembedded row"})
	require.NoError(t, err)

	resp, body := getJSON(t, srv.URL+"/api/repair/embedding-gaps")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(1), body["unembedded"])
	assert.Equal(t, float64(0), body["coverage"])
}

func floatPtr(v float64) *float64 { return &v }
