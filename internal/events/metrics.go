// Package events provides metrics collection for the event system.
package events

import (
	"sync"
)

// basicEventMetrics implements EventMetrics interface
type basicEventMetrics struct {
	mu               sync.RWMutex
	totalEvents      int64
	eventsByType     map[string]int64
	eventsBySource   map[string]int64
	eventsByPriority map[string]int64
	subscriptions    int64
	recentEvents     []Event
	maxRecentEvents  int
}

// NewBasicEventMetrics creates a new basic event metrics instance
func NewBasicEventMetrics() EventMetrics {
	return &basicEventMetrics{
		eventsByType:     make(map[string]int64),
		eventsBySource:   make(map[string]int64),
		eventsByPriority: make(map[string]int64),
		recentEvents:     make([]Event, 0),
		maxRecentEvents:  100,
	}
}

// RecordEvent records an event for metrics
func (m *basicEventMetrics) RecordEvent(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalEvents++

	// Record by type
	m.eventsByType[string(event.Type)]++

	// Record by source
	m.eventsBySource[event.Source]++

	// Record by priority
	priorityKey := getPriorityKey(event.Priority)
	m.eventsByPriority[priorityKey]++

	// Add to recent events
	m.recentEvents = append(m.recentEvents, event)
	if len(m.recentEvents) > m.maxRecentEvents {
		m.recentEvents = m.recentEvents[1:]
	}
}

// RecordSubscription records a subscription event
func (m *basicEventMetrics) RecordSubscription(subscription *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscriptions++
}

// RecordUnsubscription records an unsubscription event
func (m *basicEventMetrics) RecordUnsubscription(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscriptions > 0 {
		m.subscriptions--
	}
}

// GetMetrics returns current metrics
func (m *basicEventMetrics) GetMetrics() EventStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Deep copy maps to avoid race conditions
	eventsByType := make(map[string]int64)
	for k, v := range m.eventsByType {
		eventsByType[k] = v
	}

	eventsBySource := make(map[string]int64)
	for k, v := range m.eventsBySource {
		eventsBySource[k] = v
	}

	eventsByPriority := make(map[string]int64)
	for k, v := range m.eventsByPriority {
		eventsByPriority[k] = v
	}

	// Copy recent events
	recentEvents := make([]Event, len(m.recentEvents))
	copy(recentEvents, m.recentEvents)

	return EventStats{
		TotalEvents:         m.totalEvents,
		EventsByType:        eventsByType,
		EventsBySource:      eventsBySource,
		EventsByPriority:    eventsByPriority,
		RecentEvents:        recentEvents,
		ActiveSubscriptions: int(m.subscriptions),
	}
}

// getPriorityKey returns a string key for the priority
func getPriorityKey(priority EventPriority) string {
	switch priority {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
