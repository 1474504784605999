package generationmodule

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/embedding"
	"github.com/mantonx/captiond/internal/events"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/modules/modulemanager"
	"github.com/mantonx/captiond/internal/worker"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the generation module
	ModuleID = "system.generation"

	// ModuleName is the display name for the generation module
	ModuleName = "Caption Generation"
)

// Module owns the caption generation pipeline: dispatching items to the
// worker, receiving its callbacks, tagging, and bulk sessions.
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus

	tracker     *StatusTracker
	dispatcher  *Dispatcher
	refresher   *EmbeddingRefresher
	coordinator *BulkCoordinator
	worker      *worker.Client
}

// NewModule creates a new generation module
func NewModule(db *gorm.DB, eventBus events.EventBus) *Module {
	return &Module{
		db:       db,
		eventBus: eventBus,
	}
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true // Generation is a core module
}

// Migrate performs any necessary database migrations
func (m *Module) Migrate(db *gorm.DB) error {
	logger.Info("Migrating generation database schema")
	return db.AutoMigrate(&database.Tag{}, &database.Embedding{})
}

// Init initializes the generation module
func (m *Module) Init() error {
	logger.Info("Initializing generation module")

	if m.db == nil {
		logger.Error("Generation module db is nil")
		m.db = database.GetDB()
	}

	if m.eventBus == nil {
		logger.Error("Generation module eventBus is nil")
		m.eventBus = events.GetGlobalEventBus()
	}

	cfg := config.Get()

	m.worker = worker.NewClient(cfg.Worker.BaseURL, cfg.Worker.Timeout)
	m.tracker = NewStatusTracker(m.db, m.eventBus)
	m.dispatcher = NewDispatcher(m.db, m.tracker, m.worker, &cfg.Worker)

	var embedClient *embedding.Client
	if cfg.Embedding.Enabled {
		embedClient = embedding.NewClient(&cfg.Embedding)
		logger.Info("Embedding refresh enabled (model %s)", cfg.Embedding.Model)
	} else {
		logger.Info("Embedding refresh disabled")
	}
	chunker := embedding.NewChunker(cfg.Embedding.ChunkSize, cfg.Embedding.ChunkOverlap)
	m.refresher = NewEmbeddingRefresher(m.db, embedClient, chunker, m.eventBus)

	m.coordinator = NewBulkCoordinator(m.db, m.dispatcher, m.eventBus, cfg.Worker.BulkConcurrency)
	if m.coordinator == nil {
		return fmt.Errorf("failed to initialize bulk coordinator")
	}

	// Bulk sessions learn about terminal statuses through the tracker, so
	// worker callbacks and manual transitions both advance session progress.
	m.tracker.Observe(m.coordinator.OnStatus)

	logger.Info("Generation module initialized successfully")
	return nil
}

// Shutdown cancels any running bulk sessions and waits for their fan-out
// goroutines to drain.
func (m *Module) Shutdown() {
	if m.coordinator != nil {
		m.coordinator.Stop()
	}
}

// GetDispatcher returns the underlying dispatcher
func (m *Module) GetDispatcher() *Dispatcher {
	return m.dispatcher
}

// GetCoordinator returns the underlying bulk coordinator
func (m *Module) GetCoordinator() *BulkCoordinator {
	return m.coordinator
}

// Register registers this module with the module system
func Register() {
	// Get database connection
	db := database.GetDB()

	// Get event bus (possibly from global event bus)
	bus := events.GetGlobalEventBus()

	// Create and register module
	module := NewModule(db, bus)
	modulemanager.Register(module)
}
