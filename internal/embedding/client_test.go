package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/captiond/internal/config"
)

func fakeVector(dims int, fill float32) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = fill
	}
	return v
}

func newTestClient(baseURL string) *Client {
	client := NewClient(&config.EmbeddingConfig{
		BaseURL:    baseURL,
		Model:      "all-minilm:l6-v2",
		Dimensions: 4,
		Timeout:    2 * time.Second,
	})
	client.retryInitial = time.Millisecond
	return client
}

func TestEmbedSendsModelAndInput(t *testing.T) {
	var got embedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{fakeVector(4, 0.5)},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	vector, err := client.Embed(context.Background(), "a cat on a beach")
	require.NoError(t, err)

	assert.Equal(t, "all-minilm:l6-v2", got.Model)
	assert.Equal(t, []string{"a cat on a beach"}, got.Input)
	assert.Len(t, vector, 4)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	client := newTestClient("http://unused")

	vectors, err := client.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedBatchRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "model is loading", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{fakeVector(4, 1), fakeVector(4, 2)},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	vectors, err := client.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedBatchGivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.EmbedBatch(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Equal(t, int32(maxTries), calls.Load())
}

func TestEmbedBatchClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown model", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.EmbedBatch(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedBatchRejectsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{fakeVector(3, 1)},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.EmbedBatch(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(&config.EmbeddingConfig{BaseURL: "http://localhost:11434"})

	assert.Equal(t, DefaultModel, client.Model())
	assert.Equal(t, DefaultDimensions, client.Dimensions())
}
