package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mantonx/captiond/internal/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.MigrateCore(db))
	return db
}

func TestMarkScanningClaimsDirectoryOnce(t *testing.T) {
	db := setupTestDB(t)

	directory := database.Directory{Path: "/memes/cats", Name: "cats"}
	require.NoError(t, db.Create(&directory).Error)

	require.NoError(t, MarkScanning(db, directory.ID))

	// Second claim while the first is still held must fail.
	err := MarkScanning(db, directory.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestMarkScanningMissingDirectory(t *testing.T) {
	db := setupTestDB(t)

	err := MarkScanning(db, 999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFinishScanRecordsBookkeeping(t *testing.T) {
	db := setupTestDB(t)

	directory := database.Directory{Path: "/memes/cats", Name: "cats"}
	require.NoError(t, db.Create(&directory).Error)
	require.NoError(t, MarkScanning(db, directory.ID))

	started := time.Now().Add(-2 * time.Second)
	require.NoError(t, FinishScan(db, directory.ID, started))

	var got database.Directory
	require.NoError(t, db.First(&got, directory.ID).Error)
	assert.False(t, got.Scanning)
	require.NotNil(t, got.LastScannedAt)
	assert.Greater(t, got.LastScanDuration, time.Duration(0))

	// The claim is released, a new scan can start.
	assert.NoError(t, MarkScanning(db, directory.ID))
}

func TestGetDirectoryStats(t *testing.T) {
	db := setupTestDB(t)

	directory := database.Directory{Path: "/memes/cats", Name: "cats"}
	require.NoError(t, db.Create(&directory).Error)

	items := []database.Item{
		{DirectoryID: directory.ID, FileName: "a.jpg", Status: database.StatusDone, Size: 100},
		{DirectoryID: directory.ID, FileName: "b.jpg", Status: database.StatusDone, Size: 50},
		{DirectoryID: directory.ID, FileName: "c.jpg", Status: database.StatusNotStarted, Size: 25},
	}
	for i := range items {
		require.NoError(t, db.Create(&items[i]).Error)
	}

	stats, err := GetDirectoryStats(db, directory.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalItems)
	assert.Equal(t, int64(175), stats.TotalSize)
	assert.Equal(t, int64(2), stats.ItemsByStatus["done"])
	assert.Equal(t, int64(1), stats.ItemsByStatus["not_started"])
}
