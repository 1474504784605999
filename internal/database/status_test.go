package database

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, MigrateCore(db))
	return db
}

func createTestItem(t *testing.T, db *gorm.DB, fileName string, status ItemStatus) *Item {
	t.Helper()

	dir := Directory{Path: "/media/" + fileName, Name: "test"}
	require.NoError(t, db.Create(&dir).Error)

	item := Item{DirectoryID: dir.ID, FileName: fileName, Status: status}
	require.NoError(t, db.Create(&item).Error)
	return &item
}

func TestTransitionItemLegalEdges(t *testing.T) {
	db := setupTestDB(t)

	cases := []struct {
		name string
		from ItemStatus
		to   ItemStatus
	}{
		{"submit", StatusNotStarted, StatusInQueue},
		{"pickup", StatusInQueue, StatusProcessing},
		{"complete", StatusProcessing, StatusDone},
		{"fail", StatusProcessing, StatusFailed},
		{"requeue done", StatusDone, StatusInQueue},
		{"requeue failed", StatusFailed, StatusInQueue},
		{"requeue stuck", StatusProcessing, StatusInQueue},
		{"remove done", StatusDone, StatusRemoving},
		{"remove fresh", StatusNotStarted, StatusRemoving},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := createTestItem(t, db, tc.name+".jpg", tc.from)
			require.NoError(t, TransitionItem(db, item.ID, tc.to, nil))

			var got Item
			require.NoError(t, db.First(&got, item.ID).Error)
			assert.Equal(t, tc.to, got.Status, "case %d (%s)", i, tc.name)
		})
	}
}

func TestTransitionItemIllegalEdgeRejected(t *testing.T) {
	db := setupTestDB(t)

	cases := []struct {
		name string
		from ItemStatus
		to   ItemStatus
	}{
		{"done cannot re-enter processing", StatusDone, StatusProcessing},
		{"not started cannot jump to done", StatusNotStarted, StatusDone},
		{"not started cannot jump to processing", StatusNotStarted, StatusProcessing},
		{"failed cannot complete", StatusFailed, StatusDone},
		{"removing is final", StatusRemoving, StatusInQueue},
		{"done replay", StatusDone, StatusDone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := createTestItem(t, db, tc.name+".jpg", tc.from)

			err := TransitionItem(db, item.ID, tc.to, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			var got Item
			require.NoError(t, db.First(&got, item.ID).Error)
			assert.Equal(t, tc.from, got.Status, "status must be unchanged")
		})
	}
}

func TestTransitionItemMissingItem(t *testing.T) {
	db := setupTestDB(t)

	err := TransitionItem(db, 9999, StatusInQueue, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestTransitionItemCarriesExtraColumns(t *testing.T) {
	db := setupTestDB(t)
	item := createTestItem(t, db, "captioned.jpg", StatusProcessing)

	err := TransitionItem(db, item.ID, StatusDone, map[string]interface{}{
		"description": "a cat on a sofa",
	})
	require.NoError(t, err)

	var got Item
	require.NoError(t, db.First(&got, item.ID).Error)
	assert.Equal(t, StatusDone, got.Status)
	assert.Equal(t, "a cat on a sofa", got.Description)
}

func TestTransitionItemRejectedEdgeLeavesExtraColumnsUntouched(t *testing.T) {
	db := setupTestDB(t)
	item := createTestItem(t, db, "stale.jpg", StatusFailed)

	err := TransitionItem(db, item.ID, StatusDone, map[string]interface{}{
		"description": "should not be written",
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	var got Item
	require.NoError(t, db.First(&got, item.ID).Error)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Empty(t, got.Description)
}

func TestRestoreStatus(t *testing.T) {
	db := setupTestDB(t)
	item := createTestItem(t, db, "rollback.jpg", StatusInQueue)

	require.NoError(t, RestoreStatus(db, item.ID, StatusNotStarted))

	var got Item
	require.NoError(t, db.First(&got, item.ID).Error)
	assert.Equal(t, StatusNotStarted, got.Status)

	err := RestoreStatus(db, 9999, StatusNotStarted)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestLegalTransitionTable(t *testing.T) {
	assert.True(t, LegalTransition(StatusNotStarted, StatusInQueue))
	assert.True(t, LegalTransition(StatusInQueue, StatusProcessing))
	assert.True(t, LegalTransition(StatusProcessing, StatusDone))
	assert.True(t, LegalTransition(StatusProcessing, StatusFailed))
	assert.True(t, LegalTransition(StatusDone, StatusInQueue))
	assert.True(t, LegalTransition(StatusFailed, StatusRemoving))

	assert.False(t, LegalTransition(StatusDone, StatusProcessing))
	assert.False(t, LegalTransition(StatusNotStarted, StatusDone))
	assert.False(t, LegalTransition(StatusRemoving, StatusRemoving))
	assert.False(t, LegalTransition(StatusInQueue, StatusNotStarted))
}

func TestItemStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, `"processing"`, string(data))

	var byName ItemStatus
	require.NoError(t, json.Unmarshal([]byte(`"failed"`), &byName))
	assert.Equal(t, StatusFailed, byName)

	var byValue ItemStatus
	require.NoError(t, json.Unmarshal([]byte(`2`), &byValue))
	assert.Equal(t, StatusProcessing, byValue)

	var invalid ItemStatus
	assert.Error(t, json.Unmarshal([]byte(`"sideways"`), &invalid))
	assert.Error(t, json.Unmarshal([]byte(`42`), &invalid))
}

func TestDuplicateItemInsertSurfacesDuplicatedKey(t *testing.T) {
	db := setupTestDB(t)

	dir := Directory{Path: "/media/dupes", Name: "dupes"}
	require.NoError(t, db.Create(&dir).Error)

	first := Item{DirectoryID: dir.ID, FileName: "same.jpg"}
	require.NoError(t, db.Create(&first).Error)

	second := Item{DirectoryID: dir.ID, FileName: "same.jpg"}
	err := db.Create(&second).Error
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	var count int64
	require.NoError(t, db.Model(&Item{}).Where("directory_id = ?", dir.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEmbeddingVectorRoundTrip(t *testing.T) {
	var e Embedding
	require.NoError(t, e.EncodeVector([]float32{0.25, -1, 3.5}))
	assert.Equal(t, 3, e.Dimensions)

	got, err := e.DecodeVector()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -1, 3.5}, got)

	var empty Embedding
	got, err = empty.DecodeVector()
	require.NoError(t, err)
	assert.Nil(t, got)
}
