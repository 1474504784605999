package generationmodule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/events"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/utils"
)

// DefaultBulkConcurrency bounds how many submissions run at once.
const DefaultBulkConcurrency = 4

var (
	// ErrSessionActive rejects a second bulk session while one is running.
	ErrSessionActive = errors.New("a bulk generation session is already active")

	// ErrSessionNotFound marks lookups of unknown session ids.
	ErrSessionNotFound = errors.New("bulk session not found")

	// ErrNoEligibleItems rejects a bulk start whose filter matches nothing.
	ErrNoEligibleItems = errors.New("no items match the bulk filter")
)

// BulkFilter selects the items a bulk session will caption. Empty means
// every item not being removed.
type BulkFilter struct {
	DirectoryID       *uint    `json:"directory_id,omitempty"`
	TagID             *uint    `json:"tag_id,omitempty"`
	Statuses          []string `json:"statuses,omitempty"`
	MissingEmbeddings bool     `json:"missing_embeddings,omitempty"`
}

// BulkProgress is a point-in-time snapshot of a session.
type BulkProgress struct {
	SessionID  string `json:"session_id"`
	Model      string `json:"model"`
	Total      int    `json:"total"`
	Done       int    `json:"done"`
	Failed     int    `json:"failed"`
	Processing int    `json:"processing"`
	InQueue    int    `json:"in_queue"`
	Pending    int    `json:"pending"`
	Cancelled  int    `json:"cancelled"`
	IsComplete bool   `json:"is_complete"`
}

// bulkOutcome is a session-local override for one item. Overrides beat the
// item's live status: a submission failure or a cancellation is final for
// the session even if the item is later captioned by other means.
type bulkOutcome int

const (
	outcomeSubmitFailed bulkOutcome = iota + 1
	outcomeCancelled
)

type bulkSession struct {
	id        string
	model     string
	itemIDs   []uint
	members   map[uint]bool
	startedAt time.Time

	mu        sync.Mutex
	overrides map[uint]bulkOutcome
	seen      map[uint]database.ItemStatus // terminal statuses observed, survives row deletion
	cancelled bool
	drained   bool // submission fan-out finished
	completed bool
	cancel    context.CancelFunc
}

func (s *bulkSession) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *bulkSession) recordOverride(itemID uint, outcome bulkOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.overrides[itemID]; !exists {
		s.overrides[itemID] = outcome
	}
}

// BulkCoordinator fans a filtered item set out to the dispatcher with
// bounded concurrency and tracks per-session progress. One session at a
// time: captioning is GPU-bound on the worker side and a second fan-out
// would only reshuffle the same queue.
type BulkCoordinator struct {
	db          *gorm.DB
	dispatcher  *Dispatcher
	eventBus    events.EventBus
	concurrency int

	mu       sync.Mutex
	sessions map[string]*bulkSession
	activeID string
	wg       sync.WaitGroup
}

// NewBulkCoordinator creates a coordinator.
func NewBulkCoordinator(db *gorm.DB, dispatcher *Dispatcher, eventBus events.EventBus, concurrency int) *BulkCoordinator {
	if concurrency < 1 {
		concurrency = DefaultBulkConcurrency
	}
	return &BulkCoordinator{
		db:          db,
		dispatcher:  dispatcher,
		eventBus:    eventBus,
		concurrency: concurrency,
		sessions:    make(map[string]*bulkSession),
	}
}

// Start resolves the filter, registers a session, and begins submitting in
// the background. Returns the session id and how many items it tracks.
func (b *BulkCoordinator) Start(ctx context.Context, filter BulkFilter, model string) (string, int, error) {
	resolvedModel, err := b.dispatcher.ResolveModel(model)
	if err != nil {
		return "", 0, err
	}

	ids, err := b.resolveFilter(ctx, filter)
	if err != nil {
		return "", 0, err
	}
	if len(ids) == 0 {
		return "", 0, ErrNoEligibleItems
	}

	session := &bulkSession{
		id:        utils.GenerateUUID(),
		model:     resolvedModel,
		itemIDs:   ids,
		members:   make(map[uint]bool, len(ids)),
		startedAt: time.Now(),
		overrides: make(map[uint]bulkOutcome),
		seen:      make(map[uint]database.ItemStatus),
	}
	for _, id := range ids {
		session.members[id] = true
	}

	b.mu.Lock()
	if b.activeID != "" {
		if active, exists := b.sessions[b.activeID]; exists && !b.finished(active) {
			b.mu.Unlock()
			return "", 0, ErrSessionActive
		}
	}
	b.sessions[session.id] = session
	b.activeID = session.id
	b.mu.Unlock()

	logger.Info("Bulk session %s started: %d items, model %s", session.id, len(ids), resolvedModel)
	b.publish(events.EventBulkStarted, "Bulk generation started", map[string]interface{}{
		"session_id": session.id,
		"total":      len(ids),
		"model":      resolvedModel,
	})

	fanCtx, cancel := context.WithCancel(context.Background())
	session.cancel = cancel
	b.wg.Add(1)
	go b.run(fanCtx, session)

	return session.id, len(ids), nil
}

// Status returns a progress snapshot for a session.
func (b *BulkCoordinator) Status(sessionID string) (BulkProgress, error) {
	b.mu.Lock()
	session, exists := b.sessions[sessionID]
	b.mu.Unlock()
	if !exists {
		return BulkProgress{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return b.progress(session), nil
}

// Cancel stops submissions, withdraws every non-terminal tracked item, and
// returns exactly how many were non-terminal at cancel time.
func (b *BulkCoordinator) Cancel(ctx context.Context, sessionID string) (int, error) {
	b.mu.Lock()
	session, exists := b.sessions[sessionID]
	b.mu.Unlock()
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.mu.Lock()
	alreadyCancelled := session.cancelled
	session.cancelled = true
	cancel := session.cancel
	session.mu.Unlock()
	if alreadyCancelled {
		return 0, nil
	}
	if cancel != nil {
		cancel()
	}

	statuses, err := b.itemStatuses(ctx, session.itemIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to load item statuses for cancel: %w", err)
	}

	cancelled := 0
	for _, itemID := range session.itemIDs {
		session.mu.Lock()
		_, overridden := session.overrides[itemID]
		session.mu.Unlock()
		if overridden {
			continue
		}

		status, alive := statuses[itemID]
		if !alive {
			continue
		}
		if status == database.StatusDone || status == database.StatusFailed {
			continue
		}

		if _, err := b.dispatcher.Cancel(ctx, itemID); err != nil {
			logger.Warn("Bulk cancel of item %d failed: %v", itemID, err)
		}
		session.recordOverride(itemID, outcomeCancelled)
		cancelled++
	}

	logger.Info("Bulk session %s cancelled: %d items withdrawn", session.id, cancelled)
	b.publish(events.EventBulkCancelled, "Bulk generation cancelled", map[string]interface{}{
		"session_id": session.id,
		"cancelled":  cancelled,
	})
	return cancelled, nil
}

// OnStatus is registered as a StatusTracker observer. It records terminal
// outcomes for the active session so progress survives item deletion, and
// detects completion.
func (b *BulkCoordinator) OnStatus(itemID uint, status database.ItemStatus) {
	if status != database.StatusDone && status != database.StatusFailed {
		return
	}

	b.mu.Lock()
	session := b.sessions[b.activeID]
	b.mu.Unlock()
	if session == nil || !session.members[itemID] {
		return
	}

	session.mu.Lock()
	session.seen[itemID] = status
	session.mu.Unlock()

	b.maybeComplete(session)
}

// Stop cancels any running fan-out and waits for it.
func (b *BulkCoordinator) Stop() {
	b.mu.Lock()
	for _, session := range b.sessions {
		session.mu.Lock()
		if session.cancel != nil {
			session.cancel()
		}
		session.mu.Unlock()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *BulkCoordinator) run(ctx context.Context, session *bulkSession) {
	defer b.wg.Done()

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup

	for _, itemID := range session.itemIDs {
		if ctx.Err() != nil || session.isCancelled() {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(itemID uint) {
			defer wg.Done()
			defer func() { <-sem }()

			if session.isCancelled() {
				return
			}
			if err := b.dispatcher.Submit(ctx, itemID, session.model); err != nil {
				logger.Warn("Bulk submission of item %d failed: %v", itemID, err)
				session.recordOverride(itemID, outcomeSubmitFailed)
			}
		}(itemID)
	}

	wg.Wait()

	session.mu.Lock()
	session.drained = true
	session.mu.Unlock()

	b.maybeComplete(session)
}

// progress derives counts from live item statuses plus session overrides.
func (b *BulkCoordinator) progress(session *bulkSession) BulkProgress {
	statuses, err := b.itemStatuses(context.Background(), session.itemIDs)
	if err != nil {
		logger.Error("Failed to load item statuses for session %s: %v", session.id, err)
		statuses = map[uint]database.ItemStatus{}
	}

	session.mu.Lock()
	overrides := make(map[uint]bulkOutcome, len(session.overrides))
	for id, outcome := range session.overrides {
		overrides[id] = outcome
	}
	seen := make(map[uint]database.ItemStatus, len(session.seen))
	for id, status := range session.seen {
		seen[id] = status
	}
	cancelled := session.cancelled
	drained := session.drained
	session.mu.Unlock()

	progress := BulkProgress{
		SessionID: session.id,
		Model:     session.model,
		Total:     len(session.itemIDs),
	}

	for _, itemID := range session.itemIDs {
		if outcome, overridden := overrides[itemID]; overridden {
			switch outcome {
			case outcomeSubmitFailed:
				progress.Failed++
			case outcomeCancelled:
				progress.Cancelled++
			}
			continue
		}

		status, alive := statuses[itemID]
		if !alive {
			// The row is gone. A terminal status seen before deletion
			// still counts; otherwise the caption will never arrive.
			if terminal, wasSeen := seen[itemID]; wasSeen {
				status = terminal
			} else {
				progress.Failed++
				continue
			}
		}

		switch status {
		case database.StatusDone:
			progress.Done++
		case database.StatusFailed:
			progress.Failed++
		case database.StatusProcessing:
			if cancelled {
				progress.Cancelled++
			} else {
				progress.Processing++
			}
		case database.StatusInQueue:
			if cancelled {
				progress.Cancelled++
			} else {
				progress.InQueue++
			}
		case database.StatusRemoving:
			progress.Failed++
		default:
			// not_started: still waiting for the fan-out, unless the
			// fan-out is over, in which case someone withdrew it.
			if cancelled || drained {
				progress.Cancelled++
			} else {
				progress.Pending++
			}
		}
	}

	progress.IsComplete = progress.Done+progress.Failed+progress.Cancelled == progress.Total
	return progress
}

func (b *BulkCoordinator) finished(session *bulkSession) bool {
	if session.isCancelled() {
		return true
	}
	return b.progress(session).IsComplete
}

func (b *BulkCoordinator) maybeComplete(session *bulkSession) {
	progress := b.progress(session)
	if !progress.IsComplete {
		return
	}

	session.mu.Lock()
	first := !session.completed && !session.cancelled
	session.completed = true
	session.mu.Unlock()
	if !first {
		return
	}

	logger.Info("Bulk session %s complete: %d done, %d failed", session.id, progress.Done, progress.Failed)
	b.publish(events.EventBulkCompleted, "Bulk generation completed", map[string]interface{}{
		"session_id": session.id,
		"total":      progress.Total,
		"done":       progress.Done,
		"failed":     progress.Failed,
	})
}

// resolveFilter turns a BulkFilter into the tracked item id set. Items mid
// destruction are never eligible.
func (b *BulkCoordinator) resolveFilter(ctx context.Context, filter BulkFilter) ([]uint, error) {
	query := b.db.WithContext(ctx).Model(&database.Item{})

	if filter.DirectoryID != nil {
		query = query.Where("items.directory_id = ?", *filter.DirectoryID)
	}
	if filter.TagID != nil {
		query = query.
			Joins("JOIN item_tags ON item_tags.item_id = items.id").
			Where("item_tags.tag_id = ?", *filter.TagID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]database.ItemStatus, 0, len(filter.Statuses))
		for _, name := range filter.Statuses {
			status, known := database.ParseItemStatus(name)
			if !known {
				return nil, fmt.Errorf("unknown status filter %q", name)
			}
			statuses = append(statuses, status)
		}
		query = query.Where("items.status IN ?", statuses)
	}
	if filter.MissingEmbeddings {
		query = query.Where(
			"items.status = ? AND NOT EXISTS (SELECT 1 FROM embeddings WHERE embeddings.item_id = items.id)",
			database.StatusDone)
	}

	query = query.Where("items.status <> ?", database.StatusRemoving)

	var ids []uint
	if err := query.Order("items.id").Pluck("items.id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve bulk filter: %w", err)
	}
	return ids, nil
}

func (b *BulkCoordinator) itemStatuses(ctx context.Context, ids []uint) (map[uint]database.ItemStatus, error) {
	var rows []database.Item
	if err := b.db.WithContext(ctx).Select("id", "status").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	statuses := make(map[uint]database.ItemStatus, len(rows))
	for _, row := range rows {
		statuses[row.ID] = row.Status
	}
	return statuses, nil
}

func (b *BulkCoordinator) publish(eventType events.EventType, title string, data map[string]interface{}) {
	if b.eventBus == nil {
		return
	}
	b.eventBus.PublishAsync(events.NewEventWithData(eventType, "generation", title, title, data))
}
