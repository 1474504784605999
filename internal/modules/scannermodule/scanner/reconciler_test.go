package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/events"
	"github.com/mantonx/captiond/internal/worker"
)

func createDirectory(t *testing.T, db *gorm.DB, path string) *database.Directory {
	t.Helper()
	directory := &database.Directory{Path: path, Name: filepath.Base(path)}
	require.NoError(t, db.Create(directory).Error)
	return directory
}

func TestReconcileAddsNewImageFiles(t *testing.T) {
	db := setupTestDB(t)
	bus := &MockEventBus{}
	dir := t.TempDir()
	writeImageFile(t, dir, "a.jpg")
	writeImageFile(t, dir, "b.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	writeImageFile(t, filepath.Join(dir, "nested"), "deep.jpg")

	directory := createDirectory(t, db, dir)
	r := NewReconciler(db, nil, bus)

	delta, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)
	assert.Equal(t, 2, delta.Added)
	assert.Equal(t, 0, delta.Removed)

	var count int64
	require.NoError(t, db.Model(&database.Item{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var item database.Item
	require.NoError(t, db.Where("file_name = ?", "a.jpg").First(&item).Error)
	assert.Equal(t, database.StatusNotStarted, item.Status)

	assert.Contains(t, bus.EventTypesForTest(), events.EventItemAdded)
}

func TestReconcileIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	writeImageFile(t, dir, "a.jpg")
	directory := createDirectory(t, db, dir)
	r := NewReconciler(db, nil, &MockEventBus{})

	delta, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)
	assert.Equal(t, 1, delta.Added)

	delta, err = r.Reconcile(context.Background(), directory)
	require.NoError(t, err)
	assert.Equal(t, ScanDelta{}, delta)
}

func TestReconcileDestroysMissingFiles(t *testing.T) {
	db := setupTestDB(t)
	bus := &MockEventBus{}
	dir := t.TempDir()
	path := writeImageFile(t, dir, "a.jpg")
	directory := createDirectory(t, db, dir)
	r := NewReconciler(db, nil, bus)

	_, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)

	var item database.Item
	require.NoError(t, db.First(&item).Error)
	require.NoError(t, db.Create(&database.Embedding{
		ItemID:     item.ID,
		ChunkIndex: 0,
		Content:    "chunk",
		Vector:     "[0.5]",
		Dimensions: 1,
	}).Error)
	tag := database.Tag{Name: "holiday"}
	require.NoError(t, db.Create(&tag).Error)
	require.NoError(t, db.Exec("INSERT INTO item_tags (item_id, tag_id) VALUES (?, ?)", item.ID, tag.ID).Error)

	require.NoError(t, os.Remove(path))

	delta, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)
	assert.Equal(t, 0, delta.Added)
	assert.Equal(t, 1, delta.Removed)

	var itemCount, embeddingCount, joinCount, tagCount int64
	require.NoError(t, db.Model(&database.Item{}).Count(&itemCount).Error)
	require.NoError(t, db.Model(&database.Embedding{}).Count(&embeddingCount).Error)
	require.NoError(t, db.Table("item_tags").Count(&joinCount).Error)
	require.NoError(t, db.Model(&database.Tag{}).Count(&tagCount).Error)
	assert.Zero(t, itemCount)
	assert.Zero(t, embeddingCount)
	assert.Zero(t, joinCount)
	assert.Equal(t, int64(1), tagCount, "tags outlive the items that carried them")

	assert.Contains(t, bus.EventTypesForTest(), events.EventItemRemoved)
}

func TestReconcileUnreadableDirectoryLeavesInventory(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	writeImageFile(t, dir, "a.jpg")
	directory := createDirectory(t, db, dir)
	r := NewReconciler(db, nil, &MockEventBus{})

	_, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))

	delta, err := r.Reconcile(context.Background(), directory)
	assert.ErrorIs(t, err, ErrDirectoryUnreadable)
	assert.Equal(t, ScanDelta{}, delta)

	var count int64
	require.NoError(t, db.Model(&database.Item{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "an unreadable mount must not look like a mass deletion")
}

func TestDestroyItemNotifiesWorker(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	path := writeImageFile(t, dir, "a.jpg")
	directory := createDirectory(t, db, dir)

	var removeCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			removeCalls.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := NewReconciler(db, worker.NewClient(server.URL, time.Second), &MockEventBus{})
	_, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	delta, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)
	assert.Equal(t, 1, delta.Removed)
	assert.Equal(t, int32(1), removeCalls.Load())
}

func TestDestroyItemToleratesWorkerFailure(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	path := writeImageFile(t, dir, "a.jpg")
	directory := createDirectory(t, db, dir)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewReconciler(db, worker.NewClient(server.URL, time.Second), &MockEventBus{})
	_, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	delta, err := r.Reconcile(context.Background(), directory)
	require.NoError(t, err)
	assert.Equal(t, 1, delta.Removed)

	var count int64
	require.NoError(t, db.Model(&database.Item{}).Count(&count).Error)
	assert.Zero(t, count, "local deletion proceeds even when the worker is down")
}

func TestDestroyItemSkipsAlreadyRemoving(t *testing.T) {
	db := setupTestDB(t)
	directory := createDirectory(t, db, t.TempDir())
	item := database.Item{
		DirectoryID: directory.ID,
		FileName:    "a.jpg",
		Status:      database.StatusRemoving,
	}
	require.NoError(t, db.Create(&item).Error)

	r := NewReconciler(db, nil, &MockEventBus{})
	removed, err := r.DestroyItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	var count int64
	require.NoError(t, db.Model(&database.Item{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDestroyItemMissingRow(t *testing.T) {
	db := setupTestDB(t)
	r := NewReconciler(db, nil, &MockEventBus{})

	removed, err := r.DestroyItem(context.Background(), 424242)
	require.NoError(t, err)
	assert.False(t, removed)
}
