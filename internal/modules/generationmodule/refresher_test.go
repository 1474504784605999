package generationmodule

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/embedding"
	"github.com/mantonx/captiond/internal/events"
)

// newEmbedStub serves the Ollama embed endpoint with fixed-size vectors
func newEmbedStub(t *testing.T, dimensions int, failures *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if failures != nil && failures.Load() > 0 {
			failures.Add(-1)
			// 4xx is permanent to the client, so tests fail fast instead
			// of sitting through the retry backoff.
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vectors := make([][]float32, len(req.Input))
		for i := range req.Input {
			vector := make([]float32, dimensions)
			vector[0] = float32(i + 1)
			vectors[i] = vector
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestRefresher(t *testing.T, db *gorm.DB, bus events.EventBus, baseURL string, chunkSize int) *EmbeddingRefresher {
	t.Helper()
	client := embedding.NewClient(&config.EmbeddingConfig{
		BaseURL:    baseURL,
		Model:      "all-minilm:l6-v2",
		Dimensions: 3,
		Timeout:    time.Second,
	})
	return NewEmbeddingRefresher(db, client, embedding.NewChunker(chunkSize, 2), bus)
}

func countEmbeddings(t *testing.T, db *gorm.DB, itemID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&database.Embedding{}).Where("item_id = ?", itemID).Count(&count).Error)
	return count
}

func TestRefreshReplacesEmbeddingSet(t *testing.T) {
	db := setupTestDB(t)
	bus := &MockEventBus{}
	server := newEmbedStub(t, 3, nil)
	refresher := newTestRefresher(t, db, bus, server.URL, 60)
	item := seedItem(t, db, database.StatusDone)

	// A stale chunk from the previous caption.
	require.NoError(t, db.Create(&database.Embedding{
		ItemID:     item.ID,
		ChunkIndex: 0,
		Content:    "old caption",
		Dimensions: 3,
	}).Error)

	err := refresher.Refresh(context.Background(), item.ID, "a fresh caption for the photo")
	require.NoError(t, err)

	var rows []database.Embedding
	require.NoError(t, db.Where("item_id = ?", item.ID).Order("chunk_index").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "a fresh caption for the photo", rows[0].Content)
	assert.Equal(t, 3, rows[0].Dimensions)
	assert.NotEmpty(t, rows[0].Vector)

	assert.Contains(t, bus.EventTypesForTest(), events.EventItemEmbeddingsRefreshed)
}

func TestRefreshSplitsLongCaptions(t *testing.T) {
	db := setupTestDB(t)
	server := newEmbedStub(t, 3, nil)
	refresher := newTestRefresher(t, db, &MockEventBus{}, server.URL, 5)
	item := seedItem(t, db, database.StatusDone)

	// 12 words against a 5-word window with 2 words of overlap.
	caption := strings.Repeat("word ", 12)
	require.NoError(t, refresher.Refresh(context.Background(), item.ID, caption))

	var rows []database.Embedding
	require.NoError(t, db.Where("item_id = ?", item.ID).Order("chunk_index").Find(&rows).Error)
	require.Greater(t, len(rows), 1)
	for i, row := range rows {
		assert.Equal(t, i, row.ChunkIndex)
	}
}

func TestRefreshEmptyCaptionClearsRows(t *testing.T) {
	db := setupTestDB(t)
	server := newEmbedStub(t, 3, nil)
	refresher := newTestRefresher(t, db, &MockEventBus{}, server.URL, 60)
	item := seedItem(t, db, database.StatusDone)

	require.NoError(t, db.Create(&database.Embedding{
		ItemID:     item.ID,
		ChunkIndex: 0,
		Content:    "old caption",
		Dimensions: 3,
	}).Error)

	require.NoError(t, refresher.Refresh(context.Background(), item.ID, "   "))
	assert.Zero(t, countEmbeddings(t, db, item.ID))
}

func TestRefreshKeepsOldRowsOnEndpointFailure(t *testing.T) {
	db := setupTestDB(t)
	var failures atomic.Int32
	failures.Store(1)
	server := newEmbedStub(t, 3, &failures)
	refresher := newTestRefresher(t, db, &MockEventBus{}, server.URL, 60)
	item := seedItem(t, db, database.StatusDone)

	require.NoError(t, db.Create(&database.Embedding{
		ItemID:     item.ID,
		ChunkIndex: 0,
		Content:    "old caption",
		Dimensions: 3,
	}).Error)

	err := refresher.Refresh(context.Background(), item.ID, "new caption")
	require.Error(t, err)
	assert.Equal(t, int64(1), countEmbeddings(t, db, item.ID))
}

func TestRefreshDisabledIsNoop(t *testing.T) {
	db := setupTestDB(t)
	refresher := NewEmbeddingRefresher(db, nil, embedding.NewChunker(60, 12), &MockEventBus{})
	item := seedItem(t, db, database.StatusDone)

	assert.False(t, refresher.Enabled())
	require.NoError(t, refresher.Refresh(context.Background(), item.ID, "caption"))
	assert.Zero(t, countEmbeddings(t, db, item.ID))
}
