package scannermodule

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the scanner module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	directories := router.Group("/api/directories")
	{
		directories.POST("", m.addDirectory)
		directories.GET("", m.listDirectories)
		directories.GET("/:id", m.getDirectory)
		directories.DELETE("/:id", m.deleteDirectory)
		directories.POST("/:id/rescan", m.rescanDirectory)
		directories.GET("/:id/items", m.listDirectoryItems)
	}

	scheduler := router.Group("/api/scanner/scheduler")
	{
		scheduler.POST("/start", m.startScheduler)
		scheduler.POST("/stop", m.stopScheduler)
		scheduler.GET("/status", m.schedulerStatus)
	}
}
