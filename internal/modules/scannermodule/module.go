package scannermodule

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/events"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/modules/modulemanager"
	"github.com/mantonx/captiond/internal/modules/scannermodule/scanner"
	"github.com/mantonx/captiond/internal/worker"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the scanner module
	ModuleID = "system.scanner"

	// ModuleName is the display name for the scanner module
	ModuleName = "Directory Scanner"
)

// Module implements directory registration and scanning as a module
type Module struct {
	scannerManager *scanner.Manager
	db             *gorm.DB
	eventBus       events.EventBus
}

// NewModule creates a new scanner module
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
	return true // Scanner is a core module
}

// Migrate performs any necessary database migrations
func (m *Module) Migrate(db *gorm.DB) error {
	logger.Info("Migrating scanner database schema")
	return db.AutoMigrate(&database.Directory{}, &database.Item{})
}

// Init initializes the scanner module
func (m *Module) Init() error {
	logger.Info("Initializing scanner module")

	if m.db == nil {
		logger.Error("Scanner module db is nil")
		m.db = database.GetDB()
	}

	if m.eventBus == nil {
		logger.Error("Scanner module eventBus is nil")
		m.eventBus = events.GetGlobalEventBus()
	}

	cfg := config.Get()
	workerClient := worker.NewClient(cfg.Worker.BaseURL, cfg.Worker.Timeout)

	m.scannerManager = scanner.NewManager(m.db, m.eventBus, workerClient, &cfg.Scanner)
	if m.scannerManager == nil {
		return fmt.Errorf("failed to initialize scanner manager")
	}

	if err := m.scannerManager.Start(); err != nil {
		return fmt.Errorf("failed to start scanner manager: %w", err)
	}

	logger.Info("Scanner module initialized successfully")
	return nil
}

// Shutdown stops the scheduler and filesystem watcher
func (m *Module) Shutdown() {
	if m.scannerManager != nil {
		m.scannerManager.Stop()
	}
}

// GetScannerManager returns the underlying scanner manager
func (m *Module) GetScannerManager() *scanner.Manager {
	return m.scannerManager
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
