// Package generationmodule drives caption generation: dispatching jobs to
// the worker service, receiving its callbacks, bulk fan-out, and keeping
// caption embeddings fresh.
package generationmodule

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/events"
)

// StatusObserver is called after a status transition commits. Observers run
// on the caller's goroutine and must be quick.
type StatusObserver func(itemID uint, status database.ItemStatus)

// StatusTracker is the one writer of Item.Status in the caption flow. All
// changes go through the guarded transition table, so replayed or
// out-of-order callbacks bounce off instead of corrupting state.
type StatusTracker struct {
	db       *gorm.DB
	eventBus events.EventBus

	mu        sync.RWMutex
	observers []StatusObserver
}

// NewStatusTracker creates a status tracker
func NewStatusTracker(db *gorm.DB, eventBus events.EventBus) *StatusTracker {
	return &StatusTracker{
		db:       db,
		eventBus: eventBus,
	}
}

// Observe registers an observer for committed transitions.
func (t *StatusTracker) Observe(observer StatusObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, observer)
}

// Transition applies one guarded status edge. A description may ride along
// in the same UPDATE (the done edge persists the caption atomically with the
// status). Illegal edges return database.ErrInvalidTransition untouched.
func (t *StatusTracker) Transition(ctx context.Context, itemID uint, to database.ItemStatus, description *string) error {
	var extra map[string]interface{}
	if description != nil {
		extra = map[string]interface{}{"description": *description}
	}

	if err := database.TransitionItem(t.db.WithContext(ctx), itemID, to, extra); err != nil {
		return err
	}

	t.publishStatus(itemID, to)
	if description != nil {
		t.publishDescription(itemID, *description)
	}
	t.notify(itemID, to)
	return nil
}

// Restore writes a status unconditionally. It is the rollback path for
// dispatch failures and cancellation; webhooks never reach it. Observers are
// not notified: a rollback is not a completion.
func (t *StatusTracker) Restore(ctx context.Context, itemID uint, to database.ItemStatus) error {
	if err := database.RestoreStatus(t.db.WithContext(ctx), itemID, to); err != nil {
		return err
	}
	t.publishStatus(itemID, to)
	return nil
}

// RestoreIf rolls the status back to `to` only when the row currently holds
// one of `from`, in a single UPDATE. Returns whether the write landed. Used
// by cancellation, where a completion callback may race the rollback.
func (t *StatusTracker) RestoreIf(ctx context.Context, itemID uint, to database.ItemStatus, from ...database.ItemStatus) (bool, error) {
	result := t.db.WithContext(ctx).Model(&database.Item{}).
		Where("id = ? AND status IN ?", itemID, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	t.publishStatus(itemID, to)
	return true, nil
}

func (t *StatusTracker) notify(itemID uint, status database.ItemStatus) {
	t.mu.RLock()
	observers := make([]StatusObserver, len(t.observers))
	copy(observers, t.observers)
	t.mu.RUnlock()

	for _, observer := range observers {
		observer(itemID, status)
	}
}

func (t *StatusTracker) publishStatus(itemID uint, status database.ItemStatus) {
	if t.eventBus == nil {
		return
	}
	t.eventBus.PublishAsync(events.NewEventWithData(
		events.EventItemStatusChanged, "generation",
		"Item status changed", status.String(),
		map[string]interface{}{
			"item_id": itemID,
			"status":  status.String(),
		}))
}

func (t *StatusTracker) publishDescription(itemID uint, description string) {
	if t.eventBus == nil {
		return
	}
	t.eventBus.PublishAsync(events.NewEventWithData(
		events.EventItemDescriptionUpdated, "generation",
		"Item description updated", "caption persisted",
		map[string]interface{}{
			"item_id": itemID,
			"length":  len(description),
		}))
}
