package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetai/signet/config"
)

func TestGenerate(t *testing.T) {
	var gotReq generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(generateResponse{Response: "extracted insight", Done: true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "qwen3:4b", nil)
	out, err := client.Generate(context.Background(), "you are an extractor", "recent activity")
	require.NoError(t, err)
	assert.Equal(t, "extracted insight", out)

	assert.Equal(t, "qwen3:4b", gotReq.Model)
	assert.Equal(t, "you are an extractor", gotReq.System)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, 0.1, gotReq.Options.Temperature)
	assert.Equal(t, 4096, gotReq.Options.NumPredict)
}

func TestGenerateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "missing", nil)
	_, err := client.Generate(context.Background(), "", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestAvailableCachesProbe(t *testing.T) {
	probes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		probes++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "qwen3:4b", nil)
	assert.True(t, client.Available(context.Background()))
	assert.True(t, client.Available(context.Background()))
	assert.Equal(t, 1, probes, "second call served from cache")
}

func TestAvailableFalseWhenDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, "qwen3:4b", nil)
	assert.False(t, client.Available(context.Background()))
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req["model"])
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	embedder, err := NewEmbedder(config.EmbeddingConfig{
		Provider:   "ollama",
		Model:      "nomic-embed-text",
		Dimensions: 3,
		BaseURL:    server.URL,
	})
	require.NoError(t, err)

	vec, err := embedder.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedderReturnsRawVector(t *testing.T) {
	// The store, not the embedder, decides what to do with an unexpected
	// width, so the declared dimensions do not gate the response.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2}})
	}))
	defer server.Close()

	embedder, err := NewEmbedder(config.EmbeddingConfig{
		Provider:   "ollama",
		Model:      "nomic-embed-text",
		Dimensions: 768,
		BaseURL:    server.URL,
	})
	require.NoError(t, err)

	vec, err := embedder.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, 768, embedder.Dimensions())
}

func TestNewEmbedderValidation(t *testing.T) {
	e, err := NewEmbedder(config.EmbeddingConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = NewEmbedder(config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"})
	require.Error(t, err, "openai without api_key")

	_, err = NewEmbedder(config.EmbeddingConfig{Provider: "cohere"})
	require.Error(t, err)
}
