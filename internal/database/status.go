package database

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ItemStatus is the closed per-item state enum. It is stored as a small
// integer because the worker callbacks speak the same integer vocabulary.
type ItemStatus int

const (
	StatusNotStarted ItemStatus = 0
	StatusInQueue    ItemStatus = 1
	StatusProcessing ItemStatus = 2
	StatusDone       ItemStatus = 3
	StatusRemoving   ItemStatus = 4
	StatusFailed     ItemStatus = 5
)

var (
	// ErrInvalidTransition marks a status edge that is not in the
	// transition table. Out-of-order or replayed callbacks land here and
	// leave the row untouched.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrItemNotFound marks a transition against an item that no longer
	// exists, e.g. a callback arriving after local deletion.
	ErrItemNotFound = errors.New("item not found")
)

var statusNames = map[ItemStatus]string{
	StatusNotStarted: "not_started",
	StatusInQueue:    "in_queue",
	StatusProcessing: "processing",
	StatusDone:       "done",
	StatusRemoving:   "removing",
	StatusFailed:     "failed",
}

// legalSources lists, per target status, the statuses a row may currently
// hold for the edge to be taken. Everything else is rejected.
//
//	in_queue   <- not_started | in_queue | processing | done | failed
//	processing <- in_queue
//	done       <- processing
//	failed     <- processing
//	removing   <- anything but removing
var legalSources = map[ItemStatus][]ItemStatus{
	StatusInQueue:    {StatusNotStarted, StatusInQueue, StatusProcessing, StatusDone, StatusFailed},
	StatusProcessing: {StatusInQueue},
	StatusDone:       {StatusProcessing},
	StatusFailed:     {StatusProcessing},
	StatusRemoving:   {StatusNotStarted, StatusInQueue, StatusProcessing, StatusDone, StatusFailed},
}

// String returns the wire/API name of the status.
func (s ItemStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Valid reports whether s is a member of the closed enum.
func (s ItemStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether s is an end state of the caption flow.
func (s ItemStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// MarshalJSON renders the status by name.
func (s ItemStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the name or the integer form.
func (s *ItemStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, ok := ParseItemStatus(name)
		if !ok {
			return fmt.Errorf("unknown item status %q", name)
		}
		*s = parsed
		return nil
	}
	var value int
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	if !ItemStatus(value).Valid() {
		return fmt.Errorf("unknown item status %d", value)
	}
	*s = ItemStatus(value)
	return nil
}

// ParseItemStatus maps a status name back onto the enum.
func ParseItemStatus(name string) (ItemStatus, bool) {
	for status, n := range statusNames {
		if n == name {
			return status, true
		}
	}
	return StatusNotStarted, false
}

// LegalTransition reports whether from -> to is in the transition table.
func LegalTransition(from, to ItemStatus) bool {
	for _, source := range legalSources[to] {
		if source == from {
			return true
		}
	}
	return false
}

// TransitionItem applies a guarded status change. The legality check and the
// write are one UPDATE (`... WHERE id = ? AND status IN (sources)`), so
// concurrent callbacks cannot interleave between check and set. Extra column
// updates (description on done) ride in the same statement. Returns
// ErrItemNotFound if the row is gone and an error wrapping
// ErrInvalidTransition if the current status does not permit the edge.
func TransitionItem(db *gorm.DB, itemID uint, to ItemStatus, extra map[string]interface{}) error {
	sources := legalSources[to]
	if len(sources) == 0 {
		return fmt.Errorf("%w: no edges lead to %s", ErrInvalidTransition, to)
	}

	updates := map[string]interface{}{"status": to}
	for column, value := range extra {
		updates[column] = value
	}

	result := db.Model(&Item{}).
		Where("id = ? AND status IN ?", itemID, sources).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition item %d: %w", itemID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var current Item
	if err := db.Select("status").First(&current, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
		}
		return fmt.Errorf("failed to inspect item %d after rejected transition: %w", itemID, err)
	}
	return fmt.Errorf("item %d: %s -> %s: %w", itemID, current.Status, to, ErrInvalidTransition)
}

// RestoreStatus writes a status unconditionally. This is the rollback path
// for failed dispatches and local cancellation; it is not part of the
// transition table and must never be driven by webhook input.
func RestoreStatus(db *gorm.DB, itemID uint, to ItemStatus) error {
	result := db.Model(&Item{}).Where("id = ?", itemID).Update("status", to)
	if result.Error != nil {
		return fmt.Errorf("failed to restore status of item %d: %w", itemID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
	}
	return nil
}
