// Package worker provides the HTTP client for the image-to-text worker
// service. The worker is a separate process that owns the model queue;
// captiond talks to it over plain JSON endpoints and hears back through
// the webhook receivers.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mantonx/captiond/internal/logger"
)

// ErrUnreachable indicates the worker could not be reached at all
// (connection refused, DNS failure, timeout). Callers roll back any
// local state they changed before the call.
var ErrUnreachable = errors.New("caption worker unreachable")

// RejectedError indicates the worker answered but refused the request.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("caption worker rejected request: status %d", e.StatusCode)
	}
	return fmt.Sprintf("caption worker rejected request: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the image-to-text worker service
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a worker client for the given base URL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured worker base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// addJobRequest is the payload for the worker's add_job endpoint
type addJobRequest struct {
	ItemID   uint   `json:"item_id"`
	FilePath string `json:"file_path"`
	Model    string `json:"model"`
}

// queueResponse is the payload returned by the worker's check_queue endpoint
type queueResponse struct {
	QueueLength int `json:"queue_length"`
}

// AddJob submits a captioning job to the worker queue
func (c *Client) AddJob(ctx context.Context, itemID uint, filePath, model string) error {
	payload, err := json.Marshal(addJobRequest{
		ItemID:   itemID,
		FilePath: filePath,
		Model:    model,
	})
	if err != nil {
		return fmt.Errorf("failed to encode add_job payload: %w", err)
	}

	url := c.baseURL + "/add_job"
	logger.Debug("Submitting job to worker: item=%d model=%s url=%s", itemID, model, url)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create add_job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RejectedError{StatusCode: resp.StatusCode, Body: readBodySnippet(resp.Body)}
	}

	return nil
}

// CleanupResult is the diagnostic outcome of a best-effort remote job
// removal. Local deletion proceeds whatever it says; callers only log it.
type CleanupResult struct {
	ItemID  uint   `json:"item_id"`
	Removed bool   `json:"removed"`
	Detail  string `json:"detail,omitempty"`
}

// RemoveJob asks the worker to drop a queued job. Removal is best-effort:
// a job the worker no longer knows about (404) counts as removed, and a
// failure is reported in the result, never as an error.
func (c *Client) RemoveJob(ctx context.Context, itemID uint) CleanupResult {
	result := CleanupResult{ItemID: itemID}
	url := fmt.Sprintf("%s/remove_job/%d", c.baseURL, itemID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		result.Detail = fmt.Sprintf("failed to create remove_job request: %v", err)
		return result
	}

	resp, err := c.http.Do(req)
	if err != nil {
		result.Detail = fmt.Sprintf("worker unreachable: %v", err)
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		result.Removed = true
		result.Detail = "job unknown to worker"
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Removed = true
	default:
		result.Detail = fmt.Sprintf("worker replied %d: %s", resp.StatusCode, readBodySnippet(resp.Body))
	}
	return result
}

// QueueLength returns the number of jobs currently queued on the worker
func (c *Client) QueueLength(ctx context.Context) (int, error) {
	url := c.baseURL + "/check_queue"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create check_queue request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &RejectedError{StatusCode: resp.StatusCode, Body: readBodySnippet(resp.Body)}
	}

	var queue queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&queue); err != nil {
		return 0, fmt.Errorf("failed to decode check_queue response: %w", err)
	}

	return queue.QueueLength, nil
}

// readBodySnippet reads a short prefix of an error body for diagnostics
func readBodySnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}
