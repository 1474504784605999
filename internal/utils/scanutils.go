package utils

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/database"
)

// DirectoryStats represents per-directory inventory statistics
type DirectoryStats struct {
	TotalItems    int64            `json:"total_items"`
	TotalSize     int64            `json:"total_size"`
	ItemsByStatus map[string]int64 `json:"items_by_status"`
}

// MarkScanning claims a directory for scanning. The guarded update keeps
// two scans of the same directory from running at once: only the caller
// that flips Scanning from false to true proceeds.
func MarkScanning(db *gorm.DB, directoryID uint) error {
	result := db.Model(&database.Directory{}).
		Where("id = ? AND scanning = ?", directoryID, false).
		Update("scanning", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark directory %d scanning: %w", directoryID, result.Error)
	}

	if result.RowsAffected == 0 {
		var directory database.Directory
		if err := db.First(&directory, directoryID).Error; err != nil {
			return fmt.Errorf("directory %d not found: %w", directoryID, err)
		}
		return fmt.Errorf("scan already running for directory %d", directoryID)
	}

	return nil
}

// FinishScan releases the scanning claim and records scan bookkeeping
func FinishScan(db *gorm.DB, directoryID uint, startedAt time.Time) error {
	now := time.Now()
	return db.Model(&database.Directory{}).
		Where("id = ?", directoryID).
		Updates(map[string]interface{}{
			"scanning":           false,
			"last_scanned_at":    &now,
			"last_scan_duration": now.Sub(startedAt),
		}).Error
}

// GetDirectoryStats calculates inventory statistics for a directory
func GetDirectoryStats(db *gorm.DB, directoryID uint) (*DirectoryStats, error) {
	var totals struct {
		TotalItems int64
		TotalSize  int64
	}

	err := db.Model(&database.Item{}).
		Where("directory_id = ?", directoryID).
		Select("COUNT(*) as total_items, COALESCE(SUM(size), 0) as total_size").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get directory totals: %w", err)
	}

	var rows []struct {
		Status database.ItemStatus
		Count  int64
	}
	err = db.Model(&database.Item{}).
		Where("directory_id = ?", directoryID).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get status breakdown: %w", err)
	}

	byStatus := make(map[string]int64, len(rows))
	for _, row := range rows {
		byStatus[row.Status.String()] = row.Count
	}

	return &DirectoryStats{
		TotalItems:    totals.TotalItems,
		TotalSize:     totals.TotalSize,
		ItemsByStatus: byStatus,
	}, nil
}
