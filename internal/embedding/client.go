// Package embedding generates vector embeddings for caption text using an
// Ollama-compatible embedding endpoint. Vectors are stored alongside items
// so the search UI can do semantic lookups over generated descriptions.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/logger"
)

const (
	// DefaultModel produces 384-dimensional vectors
	DefaultModel = "all-minilm:l6-v2"

	// DefaultDimensions is the vector size for DefaultModel
	DefaultDimensions = 384

	// maxTries bounds the retry ladder for transient endpoint failures
	maxTries = 3
)

// Client talks to the embedding endpoint
type Client struct {
	baseURL    string
	model      string
	dimensions int
	http       *http.Client

	// retryInitial seeds the exponential backoff between attempts.
	// Tests shrink it to keep retry cases fast.
	retryInitial time.Duration
}

// NewClient creates an embedding client from configuration
func NewClient(cfg *config.EmbeddingConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		model:        model,
		dimensions:   dimensions,
		http:         &http.Client{Timeout: timeout},
		retryInitial: 500 * time.Millisecond,
	}
}

// Model returns the configured embedding model name
func (c *Client) Model() string {
	return c.model
}

// Dimensions returns the expected embedding dimension
func (c *Client) Dimensions() int {
	return c.dimensions
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding vector for a single text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
// Transient failures (transport errors, 5xx) are retried with exponential
// backoff up to maxTries attempts; client errors fail immediately.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInitial

	attempt := 0
	operation := func() ([][]float32, error) {
		attempt++
		vectors, err := c.embedOnce(ctx, texts)
		if err != nil && attempt < maxTries {
			logger.Warn("Embedding request failed (attempt %d/%d): %v", attempt, maxTries, err)
		}
		return vectors, err
	}

	vectors, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		return nil, err
	}

	return vectors, nil
}

// embedOnce performs a single embedding request
func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to encode embed request: %w", err))
	}

	url := c.baseURL + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create embed request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("embedding endpoint returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(decoded.Embeddings) != len(texts) {
		return nil, backoff.Permanent(fmt.Errorf("embedding count mismatch: got %d, want %d",
			len(decoded.Embeddings), len(texts)))
	}

	for i, vector := range decoded.Embeddings {
		if len(vector) != c.dimensions {
			return nil, backoff.Permanent(fmt.Errorf("embedding %d dimension mismatch: got %d, want %d (model: %s)",
				i, len(vector), c.dimensions, c.model))
		}
	}

	return decoded.Embeddings, nil
}
