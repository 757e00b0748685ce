// Package llm talks to local and hosted model servers. Generation goes
// through Ollama's native API; embeddings support Ollama and OpenAI.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/errors"
)

const (
	generateTimeout = 120 * time.Second
	healthTimeout   = 5 * time.Second
	healthCacheTTL  = 60 * time.Second

	defaultTemperature = 0.1
	defaultNumPredict  = 4096
)

// Client is an Ollama generation client. Safe for concurrent use.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.SugaredLogger

	mu          sync.Mutex
	available   bool
	lastChecked time.Time
}

// NewClient creates a client for the Ollama server at baseURL using model
// for generation.
func NewClient(baseURL, model string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: generateTimeout,
		},
		logger: logger,
	}
}

// Model returns the configured generation model name.
func (c *Client) Model() string { return c.model }

type generateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system,omitempty"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends a single non-streaming completion request and returns the
// model's text.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := generateRequest{
		Model:  c.model,
		System: systemPrompt,
		Prompt: userPrompt,
		Stream: false,
		Options: generateOptions{
			Temperature: defaultTemperature,
			NumPredict:  defaultNumPredict,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "marshal generate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", errors.Wrap(err, "create generate request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "generate request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Newf("model server returned status %d: %s", resp.StatusCode, readBodyPrefix(resp.Body, 200))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", errors.Wrap(err, "decode generate response")
	}

	if c.logger != nil {
		c.logger.Debugw("Generation complete",
			"model", c.model,
			"duration_ms", time.Since(start).Milliseconds(),
			"response_chars", len(gen.Response),
		)
	}
	return gen.Response, nil
}

// Available reports whether the model server is reachable. The probe result
// is cached; a server that goes down mid-window is discovered on the next
// probe, not the next call.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.Lock()
	if time.Since(c.lastChecked) < healthCacheTTL && !c.lastChecked.IsZero() {
		available := c.available
		c.mu.Unlock()
		return available
	}
	c.mu.Unlock()

	available := c.probe(ctx)

	c.mu.Lock()
	c.available = available
	c.lastChecked = time.Now()
	c.mu.Unlock()
	return available
}

func (c *Client) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Debugw("Model server unreachable", "url", c.baseURL, "error", err)
		}
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func readBodyPrefix(r io.Reader, n int) string {
	body, _ := io.ReadAll(io.LimitReader(r, int64(n)))
	return string(body)
}
