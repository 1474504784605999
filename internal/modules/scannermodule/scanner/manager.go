package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/events"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/utils"
	"github.com/mantonx/captiond/internal/worker"
)

// ErrDirectoryNotFound marks lookups of directories that do not exist
var ErrDirectoryNotFound = errors.New("directory not found")

// ErrDirectoryExists marks attempts to register a path twice
var ErrDirectoryExists = errors.New("directory already registered")

// Manager owns directory registration, scanning and the scan scheduler
type Manager struct {
	db           *gorm.DB
	eventBus     events.EventBus
	cfg          *config.ScannerConfig
	workerClient *worker.Client

	reconciler *Reconciler
	scheduler  *Scheduler
	monitor    *Monitor
}

// NewManager creates a scanner manager with its reconciler, scheduler and,
// when enabled in config, a file monitor.
func NewManager(db *gorm.DB, eventBus events.EventBus, workerClient *worker.Client, cfg *config.ScannerConfig) *Manager {
	if cfg == nil {
		defaults := config.DefaultConfig().Scanner
		cfg = &defaults
	}

	m := &Manager{
		db:           db,
		eventBus:     eventBus,
		cfg:          cfg,
		workerClient: workerClient,
	}

	m.reconciler = NewReconciler(db, workerClient, eventBus)
	breaker := NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerTTL)
	m.scheduler = NewScheduler(db, m.ScanDirectory, eventBus, cfg.TickInterval, breaker)
	if cfg.WatcherEnabled {
		m.monitor = NewMonitor(m.ScanDirectory, cfg.WatcherDebounce)
	}

	return m
}

// Start releases stale scan locks, starts the scheduler and, when
// configured, the file monitor watching every registered directory.
func (m *Manager) Start() error {
	// Scanning flags left behind by a crash would block rescans forever.
	if err := m.db.Model(&database.Directory{}).
		Where("scanning = ?", true).
		Update("scanning", false).Error; err != nil {
		return fmt.Errorf("failed to release stale scan locks: %w", err)
	}

	if err := m.scheduler.Start(); err != nil {
		return err
	}

	if m.monitor != nil {
		if err := m.monitor.Start(); err != nil {
			m.scheduler.Stop()
			return err
		}

		var directories []database.Directory
		if err := m.db.Find(&directories).Error; err != nil {
			logger.Warn("Could not list directories for the file monitor: %v", err)
		} else {
			for i := range directories {
				if err := m.monitor.Watch(&directories[i]); err != nil {
					logger.Warn("Could not watch directory %d: %v", directories[i].ID, err)
				}
			}
		}
	}

	logger.Info("Scanner manager started")
	return nil
}

// Stop halts the scheduler and the file monitor.
func (m *Manager) Stop() {
	m.scheduler.Stop()
	if m.monitor != nil {
		m.monitor.Stop()
	}
	logger.Info("Scanner manager stopped")
}

// AddDirectory registers a directory for captioning. The path is resolved
// against the media root and must exist; registering the same resolved path
// twice fails with ErrDirectoryExists.
func (m *Manager) AddDirectory(ctx context.Context, path, name string, scanInterval *time.Duration) (*database.Directory, error) {
	resolved, err := utils.ResolveDirectoryPath(m.cfg.MediaRoot, path)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = filepath.Base(resolved)
	}

	interval := m.cfg.DefaultScanInterval
	if scanInterval != nil {
		interval = *scanInterval
	}

	directory := database.Directory{
		Path:         resolved,
		Name:         name,
		ScanInterval: interval,
	}
	if err := m.db.WithContext(ctx).Create(&directory).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryExists, resolved)
		}
		return nil, fmt.Errorf("failed to register directory: %w", err)
	}

	if m.monitor != nil {
		if err := m.monitor.Watch(&directory); err != nil {
			logger.Warn("Could not watch new directory %d: %v", directory.ID, err)
		}
	}

	logger.Info("Registered directory %d at %s", directory.ID, resolved)
	return &directory, nil
}

// ListDirectories returns all registered directories.
func (m *Manager) ListDirectories() ([]database.Directory, error) {
	var directories []database.Directory
	if err := m.db.Order("id").Find(&directories).Error; err != nil {
		return nil, fmt.Errorf("failed to list directories: %w", err)
	}
	return directories, nil
}

// GetDirectory returns one directory with its item statistics.
func (m *Manager) GetDirectory(id uint) (*database.Directory, *utils.DirectoryStats, error) {
	var directory database.Directory
	if err := m.db.First(&directory, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrDirectoryNotFound
		}
		return nil, nil, err
	}

	stats, err := utils.GetDirectoryStats(m.db, id)
	if err != nil {
		return nil, nil, err
	}
	return &directory, stats, nil
}

// ListItems returns the items of one directory.
func (m *Manager) ListItems(directoryID uint) ([]database.Item, error) {
	var directory database.Directory
	if err := m.db.First(&directory, directoryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDirectoryNotFound
		}
		return nil, err
	}

	var items []database.Item
	if err := m.db.Where("directory_id = ?", directoryID).Order("file_name").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// DeleteDirectory unregisters a directory, destroying each of its items
// (with best-effort remote job cleanup) before removing the row itself.
func (m *Manager) DeleteDirectory(ctx context.Context, id uint) error {
	var directory database.Directory
	if err := m.db.First(&directory, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDirectoryNotFound
		}
		return err
	}

	if m.monitor != nil {
		m.monitor.Unwatch(directory.Path)
	}

	var items []database.Item
	if err := m.db.Where("directory_id = ?", id).Find(&items).Error; err != nil {
		return fmt.Errorf("failed to load items for directory %d: %w", id, err)
	}
	for i := range items {
		if _, err := m.reconciler.DestroyItem(ctx, items[i].ID); err != nil {
			return fmt.Errorf("failed to destroy item %d: %w", items[i].ID, err)
		}
	}

	if err := m.db.WithContext(ctx).Delete(&database.Directory{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete directory %d: %w", id, err)
	}

	logger.Info("Unregistered directory %d at %s (%d items destroyed)", id, directory.Path, len(items))
	return nil
}

// ScanDirectory reconciles one directory now. Only one scan per directory
// runs at a time; a second caller gets a "scan already running" error while
// the first holds the lock.
func (m *Manager) ScanDirectory(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error) {
	var delta ScanDelta

	var directory database.Directory
	if err := m.db.First(&directory, directoryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return delta, ErrDirectoryNotFound
		}
		return delta, err
	}

	if err := utils.MarkScanning(m.db, directoryID); err != nil {
		return delta, err
	}

	start := time.Now()
	m.publishScanEvent(events.EventScanStarted, "Scan started", map[string]interface{}{
		"directory_id": directory.ID,
		"path":         directory.Path,
		"trigger":      trigger,
	})

	delta, scanErr := m.reconciler.Reconcile(ctx, &directory)

	if err := utils.FinishScan(m.db, directoryID, start); err != nil {
		logger.Error("Failed to record scan bookkeeping for directory %d: %v", directoryID, err)
	}

	if scanErr != nil {
		m.publishScanEvent(events.EventScanFailed, "Scan failed", map[string]interface{}{
			"directory_id": directory.ID,
			"path":         directory.Path,
			"error":        scanErr.Error(),
		})
		return delta, scanErr
	}

	logger.Info("Scan of directory %d (%s) complete: %d added, %d removed", directory.ID, directory.Path, delta.Added, delta.Removed)
	m.publishScanEvent(events.EventScanCompleted, "Scan completed", map[string]interface{}{
		"directory_id": directory.ID,
		"path":         directory.Path,
		"added":        delta.Added,
		"removed":      delta.Removed,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	return delta, nil
}

// StartScheduler manually (re)starts the scan scheduler, closing a tripped
// circuit breaker.
func (m *Manager) StartScheduler() error {
	return m.scheduler.Start()
}

// StopScheduler halts the scan scheduler.
func (m *Manager) StopScheduler() {
	m.scheduler.Stop()
}

// SchedulerStatus reports scheduler and breaker state.
func (m *Manager) SchedulerStatus() SchedulerStatus {
	return m.scheduler.Status()
}

func (m *Manager) publishScanEvent(eventType events.EventType, title string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.PublishAsync(events.NewEventWithData(eventType, "scanner", title, title, data))
}
