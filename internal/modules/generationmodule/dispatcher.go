package generationmodule

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/worker"
)

// ErrUnknownModel marks a generate request naming a model outside the
// configured allow-list.
var ErrUnknownModel = errors.New("unknown caption model")

// CancelOutcome reports what a cancellation changed. The remote cleanup is a
// diagnostic; local state is authoritative.
type CancelOutcome struct {
	ItemID   uint                 `json:"item_id"`
	Restored bool                 `json:"restored"`
	Status   string               `json:"status"`
	Cleanup  worker.CleanupResult `json:"cleanup"`
}

// Dispatcher hands captioning jobs to the worker service. Submission is
// optimistic: the item is marked in_queue before the HTTP call so the UI
// reflects queueing immediately, and rolled back if the worker says no.
type Dispatcher struct {
	db           *gorm.DB
	tracker      *StatusTracker
	worker       *worker.Client
	defaultModel string
	models       []string
}

// NewDispatcher creates a dispatcher bound to the configured worker.
func NewDispatcher(db *gorm.DB, tracker *StatusTracker, workerClient *worker.Client, cfg *config.WorkerConfig) *Dispatcher {
	return &Dispatcher{
		db:           db,
		tracker:      tracker,
		worker:       workerClient,
		defaultModel: cfg.DefaultModel,
		models:       cfg.Models,
	}
}

// ResolveModel validates a requested model name against the allow-list; an
// empty request gets the configured default.
func (d *Dispatcher) ResolveModel(requested string) (string, error) {
	if requested == "" {
		return d.defaultModel, nil
	}
	for _, model := range d.models {
		if model == requested {
			return requested, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, requested)
}

// Models returns the configured allow-list.
func (d *Dispatcher) Models() []string {
	return d.models
}

// Submit queues one captioning job. The worker's reply acknowledges only the
// enqueue; the caption arrives later through the webhook receivers. On
// transport failure or rejection the item's prior status is restored and the
// error surfaces to the caller.
func (d *Dispatcher) Submit(ctx context.Context, itemID uint, model string) error {
	resolved, err := d.ResolveModel(model)
	if err != nil {
		return err
	}

	var item database.Item
	if err := d.db.WithContext(ctx).First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("item %d: %w", itemID, database.ErrItemNotFound)
		}
		return fmt.Errorf("failed to load item %d: %w", itemID, err)
	}

	var directory database.Directory
	if err := d.db.WithContext(ctx).First(&directory, item.DirectoryID).Error; err != nil {
		return fmt.Errorf("failed to load directory %d for item %d: %w", item.DirectoryID, itemID, err)
	}

	prior := item.Status
	if err := d.tracker.Transition(ctx, itemID, database.StatusInQueue, nil); err != nil {
		return err
	}

	filePath := filepath.Join(directory.Path, item.FileName)
	if err := d.worker.AddJob(ctx, itemID, filePath, resolved); err != nil {
		if restoreErr := d.tracker.Restore(ctx, itemID, prior); restoreErr != nil {
			logger.Error("Could not roll back item %d after dispatch failure: %v", itemID, restoreErr)
		}
		return fmt.Errorf("dispatch of item %d failed: %w", itemID, err)
	}

	logger.Info("Dispatched item %d (%s) to worker with model %s", itemID, item.FileName, resolved)
	return nil
}

// Cancel withdraws an item from captioning. The remote removal is
// best-effort; locally, an item still in flight (in_queue or processing)
// goes back to not_started no matter what the worker said. Items already
// terminal are left alone.
func (d *Dispatcher) Cancel(ctx context.Context, itemID uint) (CancelOutcome, error) {
	outcome := CancelOutcome{ItemID: itemID}

	var item database.Item
	if err := d.db.WithContext(ctx).First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outcome, fmt.Errorf("item %d: %w", itemID, database.ErrItemNotFound)
		}
		return outcome, fmt.Errorf("failed to load item %d: %w", itemID, err)
	}

	outcome.Cleanup = d.worker.RemoveJob(ctx, itemID)
	if !outcome.Cleanup.Removed {
		logger.Warn("Remote job cleanup for item %d failed: %s", itemID, outcome.Cleanup.Detail)
	}

	restored, err := d.tracker.RestoreIf(ctx, itemID, database.StatusNotStarted,
		database.StatusInQueue, database.StatusProcessing)
	if err != nil {
		return outcome, err
	}
	outcome.Restored = restored
	if restored {
		outcome.Status = database.StatusNotStarted.String()
	} else {
		outcome.Status = item.Status.String()
	}
	return outcome, nil
}
