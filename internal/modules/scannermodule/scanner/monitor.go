package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/metadata"
)

// DefaultWatcherDebounce batches filesystem churn into one rescan.
const DefaultWatcherDebounce = 2 * time.Second

// Monitor watches directories for image files appearing or disappearing and
// triggers a rescan of the affected directory. Events are debounced per
// directory, so dropping fifty files into a folder costs one scan, not
// fifty.
type Monitor struct {
	scan     ScanFunc
	debounce time.Duration

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	watched map[string]uint // directory path -> directory ID

	pending chan uint
}

// NewMonitor creates a file monitor that reports changes through scan.
func NewMonitor(scan ScanFunc, debounce time.Duration) *Monitor {
	if debounce <= 0 {
		debounce = DefaultWatcherDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		scan:     scan,
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
		watched:  make(map[string]uint),
		pending:  make(chan uint, 256),
	}
}

// Start begins watching for file system events
func (m *Monitor) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	m.watcher = watcher

	m.wg.Add(2)
	go m.watchEvents()
	go m.processPending()

	logger.Info("File monitor started (debounce %s)", m.debounce)
	return nil
}

// Stop shuts the watcher down and waits for its goroutines.
func (m *Monitor) Stop() {
	m.cancel()
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
	logger.Info("File monitor stopped")
}

// Watch adds a directory to the watch set. Watching twice is a no-op.
func (m *Monitor) Watch(directory *database.Directory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.watched[directory.Path]; exists {
		return nil
	}
	if err := m.watcher.Add(directory.Path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", directory.Path, err)
	}
	m.watched[directory.Path] = directory.ID
	logger.Debug("Watching directory %d at %s", directory.ID, directory.Path)
	return nil
}

// Unwatch removes a directory from the watch set.
func (m *Monitor) Unwatch(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.watched[path]; !exists {
		return
	}
	if m.watcher != nil {
		m.watcher.Remove(path)
	}
	delete(m.watched, path)
}

func (m *Monitor) watchEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("File watcher error: %v", err)
		}
	}
}

func (m *Monitor) handleEvent(event fsnotify.Event) {
	// Only creations and removals matter to the inventory; writes to an
	// existing file do not change what exists.
	relevant := event.Op&fsnotify.Create == fsnotify.Create ||
		event.Op&fsnotify.Remove == fsnotify.Remove ||
		event.Op&fsnotify.Rename == fsnotify.Rename
	if !relevant || !metadata.IsImageFile(event.Name) {
		return
	}

	dir := filepath.Dir(event.Name)
	m.mu.RLock()
	directoryID, watched := m.watched[dir]
	m.mu.RUnlock()
	if !watched {
		return
	}

	select {
	case m.pending <- directoryID:
	default:
		logger.Warn("File monitor queue full, dropping change for directory %d", directoryID)
	}
}

func (m *Monitor) processPending() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.debounce)
	defer ticker.Stop()

	dirty := make(map[uint]bool)

	for {
		select {
		case <-m.ctx.Done():
			return
		case directoryID := <-m.pending:
			dirty[directoryID] = true
		case <-ticker.C:
			for directoryID := range dirty {
				delete(dirty, directoryID)
				if _, err := m.scan(m.ctx, directoryID, "watcher"); err != nil {
					logger.Warn("Watcher-triggered scan of directory %d failed: %v", directoryID, err)
				}
			}
		}
	}
}
