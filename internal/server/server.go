package server

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/events"
	"github.com/mantonx/captiond/internal/modules/modulemanager"

	// Import all modules to trigger their registration
	_ "github.com/mantonx/captiond/internal/modules/generationmodule"
	_ "github.com/mantonx/captiond/internal/modules/scannermodule"
)

var systemEventBus events.EventBus
var moduleInitialized bool

// SetupRouter configures and returns the main router
func SetupRouter() *gin.Engine {
	r := gin.Default()

	if config.Get().Server.EnableCORS {
		r.Use(corsMiddleware())
	}

	// Initialize event bus system
	if err := initializeEventBus(); err != nil {
		log.Printf("Failed to initialize event bus: %v", err)
	}

	// Initialize module system
	if err := initializeModules(); err != nil {
		log.Printf("Failed to initialize modules: %v", err)
	}

	setupRoutes(r)

	return r
}

// corsMiddleware allows browser frontends on other origins to reach the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// initializeModules sets up the module system and loads all modules
func initializeModules() error {
	if moduleInitialized {
		return nil
	}

	// Get database connection
	db := database.GetDB()

	// Register the event bus globally so modules can access it
	events.SetGlobalEventBus(systemEventBus)

	// Load all modules
	if err := modulemanager.LoadAll(db); err != nil {
		return err
	}

	moduleInitialized = true
	logModuleStatus()

	return nil
}

// logModuleStatus logs the loaded modules
func logModuleStatus() {
	modules := modulemanager.ListModules()

	log.Printf("✅ Module system initialized with %d modules", len(modules))

	// Log loaded modules with nice formatting
	log.Printf("┌────────────────────────────────────────────────────────────────┐")
	log.Printf("│ %-20s │ %-25s │ %-8s │", "MODULE NAME", "MODULE ID", "CORE")
	log.Printf("├────────────────────────────────────────────────────────────────┤")

	for _, module := range modules {
		coreStatus := "No"
		if module.Core() {
			coreStatus = "Yes"
		}
		log.Printf("│ %-20s │ %-25s │ %-8s │",
			truncate(module.Name(), 20),
			truncate(module.ID(), 25),
			coreStatus)
	}

	log.Printf("└────────────────────────────────────────────────────────────────┘")
}

// truncate shortens a string to the given length, adding ... if needed
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// GetEventBus returns the global event bus instance
func GetEventBus() events.EventBus {
	return systemEventBus
}

// Shutdown stops the modules first so nothing publishes into a dead bus,
// then stops the event bus itself.
func Shutdown() error {
	modulemanager.ShutdownAll()
	return ShutdownEventBus()
}

// ShutdownEventBus gracefully shuts down the event bus
func ShutdownEventBus() error {
	if systemEventBus != nil {
		ctx := context.Background()

		// Publish system shutdown event
		shutdownEvent := events.NewSystemEvent(
			events.EventSystemStopped,
			"System Stopped",
			"captiond is shutting down",
		)

		// Try to publish shutdown event (best effort)
		systemEventBus.PublishAsync(shutdownEvent)

		// Stop the event bus
		return systemEventBus.Stop(ctx)
	}
	return nil
}

// Event logger implementation for the event bus
type eventLogger struct{}

func (l *eventLogger) Info(msg string, args ...interface{}) {
	log.Printf("[EVENT-INFO] "+msg, args...)
}

func (l *eventLogger) Error(msg string, args ...interface{}) {
	log.Printf("[EVENT-ERROR] "+msg, args...)
}

func (l *eventLogger) Warn(msg string, args ...interface{}) {
	log.Printf("[EVENT-WARN] "+msg, args...)
}

func (l *eventLogger) Debug(msg string, args ...interface{}) {
	log.Printf("[EVENT-DEBUG] "+msg, args...)
}

// initializeEventBus sets up the system-wide event bus
func initializeEventBus() error {
	cfg := config.Get()

	// Create event bus configuration
	busConfig := events.DefaultEventBusConfig()
	if cfg.Events.BufferSize > 0 {
		busConfig.BufferSize = cfg.Events.BufferSize
	}
	if cfg.Events.RetainRecent > 0 {
		busConfig.RetainRecent = cfg.Events.RetainRecent
	}
	busConfig.EnablePersistence = cfg.Events.PersistHistory

	// Create event logger
	logger := &eventLogger{}

	// Create event storage
	var storage events.EventStorage
	if cfg.Events.PersistHistory {
		db := database.GetDB()
		if err := db.AutoMigrate(&events.SystemEvent{}); err != nil {
			return err
		}
		storage = events.NewDatabaseEventStorage(db)
	} else {
		storage = events.NewMemoryEventStorage()
	}

	// Create metrics
	metrics := events.NewBasicEventMetrics()

	// Create event bus
	systemEventBus = events.NewEventBus(busConfig, logger, storage, metrics)

	// Start event bus
	ctx := context.Background()
	if err := systemEventBus.Start(ctx); err != nil {
		return err
	}

	log.Printf("✅ Event bus initialized and started")

	// Publish system startup event
	startupEvent := events.NewSystemEvent(
		events.EventSystemStarted,
		"System Started",
		"captiond has started successfully",
	)

	startupEvent.Data = map[string]interface{}{
		"version":    "1.0.0", // TODO: Get from build info
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}

	if err := systemEventBus.PublishAsync(startupEvent); err != nil {
		log.Printf("Failed to publish startup event: %v", err)
	}

	return nil
}
