// Package scanner reconciles watched directories against the item inventory
// and keeps them in sync on a schedule.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/events"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/metadata"
	"github.com/mantonx/captiond/internal/worker"
)

// ErrDirectoryUnreadable marks a scan that could not read its directory.
// The inventory is left untouched: a flaky mount must not look like a
// mass deletion.
var ErrDirectoryUnreadable = errors.New("directory unreadable")

// ScanDelta summarizes what a reconcile run changed
type ScanDelta struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Reconciler syncs a directory's on-disk image files with its item records
type Reconciler struct {
	db           *gorm.DB
	workerClient *worker.Client
	eventBus     events.EventBus
}

// NewReconciler creates a reconciler
func NewReconciler(db *gorm.DB, workerClient *worker.Client, eventBus events.EventBus) *Reconciler {
	return &Reconciler{
		db:           db,
		workerClient: workerClient,
		eventBus:     eventBus,
	}
}

// Reconcile lists the directory (non-recursive), creates items for unknown
// image files and destroys items whose files are gone. Repeated runs over an
// unchanged directory are no-ops. Racing scans are safe: the composite
// unique index on (directory_id, file_name) makes duplicate creates
// surface as conflicts, which are treated as "already exists".
func (r *Reconciler) Reconcile(ctx context.Context, directory *database.Directory) (ScanDelta, error) {
	var delta ScanDelta

	entries, err := os.ReadDir(directory.Path)
	if err != nil {
		logger.Warn("Directory %s is unreadable, leaving inventory untouched: %v", directory.Path, err)
		return delta, fmt.Errorf("%w: %s: %v", ErrDirectoryUnreadable, directory.Path, err)
	}

	onDisk := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !metadata.IsImageFile(entry.Name()) {
			continue
		}
		onDisk[entry.Name()] = true
	}

	var items []database.Item
	if err := r.db.WithContext(ctx).Where("directory_id = ?", directory.ID).Find(&items).Error; err != nil {
		return delta, fmt.Errorf("failed to load items for directory %d: %w", directory.ID, err)
	}

	known := make(map[string]*database.Item, len(items))
	for i := range items {
		known[items[i].FileName] = &items[i]
	}

	// Create records for files that appeared.
	for name := range onDisk {
		if _, exists := known[name]; exists {
			continue
		}

		item := database.Item{
			DirectoryID: directory.ID,
			FileName:    name,
			Status:      database.StatusNotStarted,
		}

		if info, err := metadata.ProbeImage(filepath.Join(directory.Path, name)); err == nil {
			item.Width = info.Width
			item.Height = info.Height
			item.Size = info.Size
		} else {
			logger.Debug("Could not probe %s: %v", name, err)
		}

		if err := r.db.WithContext(ctx).Create(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// A racing scan created it first.
				continue
			}
			return delta, fmt.Errorf("failed to create item %s: %w", name, err)
		}

		delta.Added++
		r.publishItemEvent(events.EventItemAdded, item.ID, directory, name)
	}

	// Destroy records whose files disappeared.
	for name, item := range known {
		if onDisk[name] {
			continue
		}

		removed, err := r.DestroyItem(ctx, item.ID)
		if err != nil {
			logger.Error("Failed to destroy item %d (%s): %v", item.ID, name, err)
			continue
		}
		if !removed {
			continue
		}

		delta.Removed++
		r.publishItemEvent(events.EventItemRemoved, item.ID, directory, name)
	}

	return delta, nil
}

// DestroyItem removes an item: a guarded transition to removing, a
// best-effort remote job cleanup, then the row with its embeddings and
// tag joins in one transaction. Returns false when another destroy
// already claimed the item.
func (r *Reconciler) DestroyItem(ctx context.Context, itemID uint) (bool, error) {
	if err := database.TransitionItem(r.db, itemID, database.StatusRemoving, nil); err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			// Already mid-destroy elsewhere.
			return false, nil
		}
		if errors.Is(err, database.ErrItemNotFound) {
			return false, nil
		}
		return false, err
	}

	if r.workerClient != nil {
		if cleanup := r.workerClient.RemoveJob(ctx, itemID); !cleanup.Removed {
			logger.Warn("Remote job cleanup for item %d failed: %s", itemID, cleanup.Detail)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", itemID).Delete(&database.Embedding{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM item_tags WHERE item_id = ?", itemID).Error; err != nil {
			return err
		}
		return tx.Delete(&database.Item{}, itemID).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete item %d: %w", itemID, err)
	}

	return true, nil
}

func (r *Reconciler) publishItemEvent(eventType events.EventType, itemID uint, directory *database.Directory, fileName string) {
	if r.eventBus == nil {
		return
	}

	event := events.NewEventWithData(eventType, "scanner",
		"Inventory changed",
		fmt.Sprintf("%s: %s", eventType, fileName),
		map[string]interface{}{
			"item_id":      itemID,
			"directory_id": directory.ID,
			"file_name":    fileName,
		})
	r.eventBus.PublishAsync(event)
}
