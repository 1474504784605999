package generationmodule

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the generation module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	items := router.Group("/api/items")
	{
		items.GET("", m.listItems)
		items.GET("/:id", m.getItem)
		items.POST("/:id/generate", m.generateItem)
		items.POST("/:id/cancel", m.cancelItem)
		items.POST("/:id/tags/:tagID", m.attachTag)
		items.DELETE("/:id/tags/:tagID", m.detachTag)
	}

	generation := router.Group("/api/generation")
	{
		generation.POST("/bulk", m.startBulk)
		generation.GET("/bulk/:sessionID", m.bulkStatus)
		generation.POST("/bulk/:sessionID/cancel", m.cancelBulk)
		generation.GET("/queue", m.queueLength)

		// Worker callbacks. The worker posts progress here as jobs move
		// through its queue.
		generation.POST("/status_receiver", m.statusReceiver)
		generation.POST("/description_receiver", m.descriptionReceiver)
	}

	tags := router.Group("/api/tags")
	{
		tags.GET("", m.listTags)
		tags.POST("", m.createTag)
		tags.DELETE("/:id", m.deleteTag)
	}
}
