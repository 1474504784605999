package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/captiond/internal/apiroutes"
)

// ApiRootHandler serves the main /api endpoint, listing available routes.
func ApiRootHandler(c *gin.Context) {
	registeredRoutes := apiroutes.Get()

	// Summarize the top-level categories. The full list is in
	// "registered_routes"; this map is just a quick orientation for clients.
	endpointsMap := make(map[string]string)
	for _, route := range registeredRoutes {
		switch route.Path {
		case "/api":
			endpointsMap["self"] = route.Path
		case "/api/directories":
			endpointsMap["directories"] = route.Path
		case "/api/items":
			endpointsMap["items"] = route.Path
		case "/api/generation/bulk":
			endpointsMap["generation"] = "/api/generation"
		case "/api/tags":
			endpointsMap["tags"] = route.Path
		case "/api/events":
			endpointsMap["events"] = route.Path
		case "/api/system/status":
			endpointsMap["system"] = route.Path
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"endpoints":         endpointsMap,
		"version":           "v1",
		"status":            "OK",
		"registered_routes": registeredRoutes,
	})
}
