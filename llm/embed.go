package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/errors"
)

const embedTimeout = 30 * time.Second

// Embedder produces vectors for text.
type Embedder interface {
	// Embed returns the embedding for text. Callers compare the returned
	// length against Dimensions(); a model swap can change it mid-flight.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the declared vector width from configuration.
	Dimensions() int
	ModelName() string
}

// NewEmbedder builds an Embedder from the embedding config section.
// Returns nil with no error when no provider is configured.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "ollama":
		return &ollamaEmbedder{
			baseURL:    cfg.BaseURL,
			model:      cfg.Model,
			dimensions: cfg.Dimensions,
			httpClient: &http.Client{Timeout: embedTimeout},
		}, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("openai embedding provider requires api_key")
		}
		return &openaiEmbedder{
			apiKey:     cfg.APIKey,
			model:      cfg.Model,
			dimensions: cfg.Dimensions,
			httpClient: &http.Client{Timeout: embedTimeout},
		}, nil
	default:
		return nil, errors.Newf("unknown embedding provider %q", cfg.Provider)
	}
}

type ollamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

func (e *ollamaEmbedder) Dimensions() int   { return e.dimensions }
func (e *ollamaEmbedder) ModelName() string { return e.model }

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "create embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "embedding request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("embedding server returned status %d: %s", resp.StatusCode, readBodyPrefix(resp.Body, 200))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode embedding response")
	}
	return out.Embedding, nil
}

type openaiEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
}

const openaiEmbeddingsURL = "https://api.openai.com/v1/embeddings"

func (e *openaiEmbedder) Dimensions() int   { return e.dimensions }
func (e *openaiEmbedder) ModelName() string { return e.model }

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": text,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openaiEmbeddingsURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "create embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "embedding request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("embedding server returned status %d: %s", resp.StatusCode, readBodyPrefix(resp.Body, 200))
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode embedding response")
	}
	if len(out.Data) == 0 {
		return nil, errors.New("embedding response contained no data")
	}
	return out.Data[0].Embedding, nil
}
