package server

import (
	"github.com/gin-gonic/gin"
	"github.com/mantonx/captiond/internal/apiroutes"
	"github.com/mantonx/captiond/internal/modules/modulemanager"
	"github.com/mantonx/captiond/internal/server/handlers"
)

// setupRoutes configures all API routes
func setupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("", handlers.ApiRootHandler)
		api.GET("/health", handlers.HandleHealthCheck)
		api.GET("/health/database", handlers.HandleDatabaseHealth)
		api.GET("/database/status", handlers.HandleDBStatus)
		api.GET("/database/pool", handlers.HandleConnectionPoolStats)
		api.GET("/system/status", handlers.HandleSystemStatus)

		// Event system endpoints
		eventsHandler := handlers.NewEventsHandler(systemEventBus)
		eventsGroup := api.Group("/events")
		{
			eventsGroup.GET("", eventsHandler.GetEvents)
			eventsGroup.GET("/range", eventsHandler.GetEventsByTimeRange)
			eventsGroup.GET("/stats", eventsHandler.GetEventStats)
			eventsGroup.GET("/types", eventsHandler.GetEventTypes)
			eventsGroup.GET("/stream", eventsHandler.EventStream)
			eventsGroup.GET("/subscriptions", eventsHandler.GetSubscriptions)
			eventsGroup.POST("", eventsHandler.PublishEvent)
			eventsGroup.DELETE("", eventsHandler.ClearEvents)
		}
	}

	registerAPIRoutes()

	// Module routes (directories, items, generation, tags)
	modulemanager.RegisterRoutes(r)
}

// registerAPIRoutes records the server's route surface for the discovery
// endpoint. Module routes are listed here too so /api describes the whole
// API, not just the server package's share of it.
func registerAPIRoutes() {
	apiroutes.Register("/api", "GET", "API root discovery.")
	apiroutes.Register("/api/health", "GET", "Basic service health check.")
	apiroutes.Register("/api/health/database", "GET", "Database health with connection pool analysis.")
	apiroutes.Register("/api/database/status", "GET", "Database connectivity check.")
	apiroutes.Register("/api/database/pool", "GET", "Connection pool statistics.")
	apiroutes.Register("/api/system/status", "GET", "Host resource usage and Go runtime stats.")

	apiroutes.Register("/api/events", "GET", "Queries stored system events.")
	apiroutes.Register("/api/events/range", "GET", "Queries events within a time range.")
	apiroutes.Register("/api/events/stats", "GET", "Event bus statistics.")
	apiroutes.Register("/api/events/types", "GET", "Lists known event types.")
	apiroutes.Register("/api/events/stream", "GET", "Streams events over SSE.")
	apiroutes.Register("/api/events/subscriptions", "GET", "Lists active event subscriptions.")
	apiroutes.Register("/api/events", "POST", "Publishes a manual event.")
	apiroutes.Register("/api/events", "DELETE", "Clears stored events.")

	apiroutes.Register("/api/directories", "GET", "Lists watched image directories.")
	apiroutes.Register("/api/directories", "POST", "Registers a directory and schedules its first scan.")
	apiroutes.Register("/api/directories/:id", "GET", "Fetches one directory with scan state.")
	apiroutes.Register("/api/directories/:id", "DELETE", "Removes a directory and its items.")
	apiroutes.Register("/api/directories/:id/rescan", "POST", "Forces an immediate rescan.")
	apiroutes.Register("/api/directories/:id/items", "GET", "Lists items inside a directory.")

	apiroutes.Register("/api/scanner/scheduler/start", "POST", "Starts the periodic scan scheduler.")
	apiroutes.Register("/api/scanner/scheduler/stop", "POST", "Stops the periodic scan scheduler.")
	apiroutes.Register("/api/scanner/scheduler/status", "GET", "Reports scheduler state.")

	apiroutes.Register("/api/items", "GET", "Lists and filters tracked images.")
	apiroutes.Register("/api/items/:id", "GET", "Fetches one item with tags and embedding count.")
	apiroutes.Register("/api/items/:id/generate", "POST", "Queues caption generation for an item.")
	apiroutes.Register("/api/items/:id/cancel", "POST", "Cancels a pending or running generation.")
	apiroutes.Register("/api/items/:id/tags/:tagID", "POST", "Attaches a tag to an item.")
	apiroutes.Register("/api/items/:id/tags/:tagID", "DELETE", "Detaches a tag from an item.")

	apiroutes.Register("/api/generation/bulk", "POST", "Starts a bulk caption generation session.")
	apiroutes.Register("/api/generation/bulk/:sessionID", "GET", "Reports bulk session progress.")
	apiroutes.Register("/api/generation/bulk/:sessionID/cancel", "POST", "Cancels a bulk session.")
	apiroutes.Register("/api/generation/queue", "GET", "Reports the worker's queue length.")
	apiroutes.Register("/api/generation/status_receiver", "POST", "Worker callback for job status updates.")
	apiroutes.Register("/api/generation/description_receiver", "POST", "Worker callback for finished captions.")

	apiroutes.Register("/api/tags", "GET", "Lists tags.")
	apiroutes.Register("/api/tags", "POST", "Creates a tag.")
	apiroutes.Register("/api/tags/:id", "DELETE", "Deletes a tag and its associations.")
}
