// Package events provides the event bus for captiond.
// This enables real-time notifications, the activity feed, and auditing.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

// System-wide event types
const (
	// Item events
	EventItemAdded               EventType = "item.added"
	EventItemRemoved             EventType = "item.removed"
	EventItemStatusChanged       EventType = "item.status.changed"
	EventItemDescriptionUpdated  EventType = "item.description.updated"
	EventItemEmbeddingsRefreshed EventType = "item.embeddings.refreshed"

	// Scan events
	EventScanStarted   EventType = "scan.started"
	EventScanCompleted EventType = "scan.completed"
	EventScanFailed    EventType = "scan.failed"

	// Scheduler events
	EventSchedulerStarted EventType = "scanner.scheduler.started"
	EventSchedulerStopped EventType = "scanner.scheduler.stopped"
	EventCircuitOpened    EventType = "scanner.circuit.opened"

	// Bulk generation events
	EventBulkStarted   EventType = "bulk.started"
	EventBulkCompleted EventType = "bulk.completed"
	EventBulkCancelled EventType = "bulk.cancelled"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"

	// General events
	EventError   EventType = "error"
	EventWarning EventType = "warning"
	EventInfo    EventType = "info"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, scanner, generation, etc.
	Target    string                 `json:"target"` // specific target if applicable
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
	Tags      []string               `json:"tags"`
	Timestamp time.Time              `json:"timestamp"`
	TTL       *time.Duration         `json:"ttl,omitempty"` // Time to live
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types    []EventType    `json:"types,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Priority *EventPriority `json:"priority,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"` // scanner, generation, system
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	EventsBySource      map[string]int64 `json:"events_by_source"`
	EventsByPriority    map[string]int64 `json:"events_by_priority"`
	RecentEvents        []Event          `json:"recent_events"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize        int           `json:"buffer_size"`
	MaxEventAge       time.Duration `json:"max_event_age"`
	MaxStoredEvents   int           `json:"max_stored_events"`
	RetainRecent      int           `json:"retain_recent"`
	EnablePersistence bool          `json:"enable_persistence"`
	EnableMetrics     bool          `json:"enable_metrics"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:        1000,
		MaxEventAge:       24 * time.Hour,
		MaxStoredEvents:   10000,
		RetainRecent:      100,
		EnablePersistence: true,
		EnableMetrics:     true,
	}
}

// =============================================================================
// PREDEFINED EVENT DATA STRUCTURES
// =============================================================================

// ItemStatusChangedData represents data for item.status.changed events
type ItemStatusChangedData struct {
	ItemID   uint   `json:"item_id"`
	FilePath string `json:"file_path,omitempty"`
	From     string `json:"from,omitempty"`
	Status   string `json:"status"`
}

// ItemDescriptionUpdatedData represents data for item.description.updated events
type ItemDescriptionUpdatedData struct {
	ItemID uint   `json:"item_id"`
	Length int    `json:"length"`
	Model  string `json:"model,omitempty"`
}

// ScanStartedData represents data for scan.started events
type ScanStartedData struct {
	DirectoryID uint   `json:"directory_id"`
	Path        string `json:"path"`
	Trigger     string `json:"trigger"` // manual, scheduled, watcher
}

// ScanCompletedData represents data for scan.completed events
type ScanCompletedData struct {
	DirectoryID uint   `json:"directory_id"`
	Path        string `json:"path"`
	Added       int    `json:"added"`
	Removed     int    `json:"removed"`
	DurationMs  int64  `json:"duration_ms"`
}

// ScanFailedData represents data for scan.failed events
type ScanFailedData struct {
	DirectoryID uint   `json:"directory_id"`
	Path        string `json:"path"`
	Error       string `json:"error"`
}

// CircuitOpenedData represents data for scanner.circuit.opened events
type CircuitOpenedData struct {
	Failures  int `json:"failures"`
	Threshold int `json:"threshold"`
}

// BulkSessionData represents data for bulk.* events
type BulkSessionData struct {
	SessionID string `json:"session_id"`
	Total     int    `json:"total"`
	Done      int    `json:"done,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Cancelled int    `json:"cancelled,omitempty"`
	Model     string `json:"model,omitempty"`
}

// SystemStartedData represents data for system.started events
type SystemStartedData struct {
	Version        string `json:"version"`
	DatabaseType   string `json:"database_type"`
	DirectoryCount int64  `json:"directory_count"`
	ItemCount      int64  `json:"item_count"`
}
