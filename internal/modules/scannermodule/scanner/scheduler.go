package scanner

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
)

// DefaultTickInterval is how often the scheduler looks for due directories
// when the config does not say otherwise.
const DefaultTickInterval = 5 * time.Minute

// ScanFunc runs one scan of one directory. The scheduler and the file
// watcher both drive scans through this instead of holding the manager.
type ScanFunc func(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error)

// SchedulerStatus is the externally visible scheduler state
type SchedulerStatus struct {
	Running             bool   `json:"running"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	CircuitOpen         bool   `json:"circuit_open"`
	TickInterval        string `json:"tick_interval"`
}

// Scheduler periodically rescans directories whose ScanInterval has lapsed.
// A failing due-directory query counts against the circuit breaker; when the
// breaker trips the loop stops entirely and stays stopped until a manual
// restart. Failures of individual directory scans are logged and contained,
// they never count toward the breaker.
type Scheduler struct {
	db       *gorm.DB
	scan     ScanFunc
	eventBus events.EventBus
	tick     time.Duration
	breaker  *CircuitBreaker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Tick values of zero or below fall back
// to DefaultTickInterval.
func NewScheduler(db *gorm.DB, scan ScanFunc, eventBus events.EventBus, tick time.Duration, breaker *CircuitBreaker) *Scheduler {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultFailureThreshold, DefaultFailureTTL)
	}
	return &Scheduler{
		db:       db,
		scan:     scan,
		eventBus: eventBus,
		tick:     tick,
		breaker:  breaker,
	}
}

// Start launches the tick loop. Starting is also how an operator closes a
// tripped circuit: the breaker is cleared before the loop begins.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.breaker.Clear()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.run(ctx)

	logger.Info("Scan scheduler started (tick %s)", s.tick)
	s.publish(events.EventSchedulerStarted, "Scan scheduler started", map[string]interface{}{
		"tick_interval": s.tick.String(),
	})
	return nil
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	logger.Info("Scan scheduler stopped")
	s.publish(events.EventSchedulerStopped, "Scan scheduler stopped", nil)
}

// Running reports whether the tick loop is alive.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status reports the scheduler and breaker state.
func (s *Scheduler) Status() SchedulerStatus {
	return SchedulerStatus{
		Running:             s.Running(),
		ConsecutiveFailures: s.breaker.Failures(),
		CircuitOpen:         s.breaker.Open(),
		TickInterval:        s.tick.String(),
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); errors.Is(err, ErrCircuitOpen) {
				s.markStopped()
				return
			}
		}
	}
}

// Tick runs one scheduler pass: query due directories, scan each. Exposed
// so the pass is testable without waiting on the ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	due, err := s.dueDirectories(ctx)
	if err != nil {
		logger.Error("Scheduler could not query due directories: %v", err)
		if s.breaker.RecordFailure() {
			logger.Error("Scan scheduler circuit breaker tripped after %d consecutive failures, halting", s.breaker.Threshold())
			s.publish(events.EventCircuitOpened, "Scan scheduler halted", map[string]interface{}{
				"failures":  s.breaker.Threshold(),
				"threshold": s.breaker.Threshold(),
			})
			return ErrCircuitOpen
		}
		return err
	}

	s.breaker.RecordSuccess()

	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.scan(ctx, due[i].ID, "scheduled"); err != nil {
			logger.Warn("Scheduled scan of directory %d (%s) failed: %v", due[i].ID, due[i].Path, err)
		}
	}

	return nil
}

// dueDirectories returns directories with periodic scanning enabled that are
// not mid-scan and whose last scan is older than their interval.
func (s *Scheduler) dueDirectories(ctx context.Context) ([]database.Directory, error) {
	var candidates []database.Directory
	if err := s.db.WithContext(ctx).
		Where("scan_interval > 0 AND scanning = ?", false).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	due := candidates[:0]
	for _, d := range candidates {
		if d.LastScannedAt == nil || now.Sub(*d.LastScannedAt) >= d.ScanInterval {
			due = append(due, d)
		}
	}
	return due, nil
}

func (s *Scheduler) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) publish(eventType events.EventType, title string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	event := events.NewEventWithData(eventType, "scanner", title, title, data)
	if data == nil {
		event.Data = map[string]interface{}{}
	}
	s.eventBus.PublishAsync(event)
}
