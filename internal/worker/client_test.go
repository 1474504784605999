package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobSendsExpectedPayload(t *testing.T) {
	var got addJobRequest
	var gotPath, gotMethod, gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "Job added to queue"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := client.AddJob(context.Background(), 42, "/memes/cat.jpg", "Florence-2-base")
	require.NoError(t, err)

	assert.Equal(t, "/add_job", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, uint(42), got.ItemID)
	assert.Equal(t, "/memes/cat.jpg", got.FilePath)
	assert.Equal(t, "Florence-2-base", got.Model)
}

func TestAddJobRejectedByWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue is full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := client.AddJob(context.Background(), 1, "/memes/cat.jpg", "test")
	require.Error(t, err)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusServiceUnavailable, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "queue is full")
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestAddJobWorkerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Closed immediately so the port refuses connections.

	client := NewClient(srv.URL, time.Second)
	err := client.AddJob(context.Background(), 1, "/memes/cat.jpg", "test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestRemoveJobHitsItemPath(t *testing.T) {
	var gotPath, gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	result := client.RemoveJob(context.Background(), 7)

	assert.True(t, result.Removed)
	assert.Empty(t, result.Detail)
	assert.Equal(t, "/remove_job/7", gotPath)
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestRemoveJobMissingJobCountsAsRemoved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	result := client.RemoveJob(context.Background(), 99)
	assert.True(t, result.Removed)
	assert.Equal(t, "job unknown to worker", result.Detail)
}

func TestRemoveJobReportsFailuresAsDiagnostics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	result := client.RemoveJob(context.Background(), 5)
	assert.False(t, result.Removed)
	assert.Contains(t, result.Detail, "500")

	srv.Close()
	result = client.RemoveJob(context.Background(), 5)
	assert.False(t, result.Removed)
	assert.Contains(t, result.Detail, "unreachable")
}

func TestQueueLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check_queue", r.URL.Path)
		json.NewEncoder(w).Encode(queueResponse{QueueLength: 3})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	n, err := client.QueueLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestQueueLengthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.QueueLength(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable))
}
