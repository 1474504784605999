package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/captiond/internal/apiroutes"
	"github.com/stretchr/testify/assert"
)

// TestAPIRootHandler checks the /api endpoint response.
func TestAPIRootHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	apiroutes.ClearForTesting() // Clear routes before test

	// Register the routes the summary map keys off, plus one extra that
	// should only show up in the detailed list.
	apiroutes.Register("/api", "GET", "API root discovery.")
	apiroutes.Register("/api/directories", "GET", "Manages watched image directories.")
	apiroutes.Register("/api/items", "GET", "Lists and filters tracked images.")
	apiroutes.Register("/api/generation/bulk", "POST", "Starts a bulk caption generation session.")
	apiroutes.Register("/api/tags", "GET", "Manages tags.")
	apiroutes.Register("/api/events", "GET", "Queries system events.")
	apiroutes.Register("/api/system/status", "GET", "Reports host resource usage.")
	apiroutes.Register("/api/generation/queue", "GET", "An extra route for the detailed list.")

	r := gin.New()
	r.GET("/api", ApiRootHandler)

	req, _ := http.NewRequest(http.MethodGet, "/api", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var responseBody map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &responseBody)
	assert.NoError(t, err, "Failed to unmarshal response: %s", w.Body.String())

	assert.Equal(t, "v1", responseBody["version"], "Version should be v1")
	assert.Equal(t, "OK", responseBody["status"], "Status should be OK")

	endpoints, ok := responseBody["endpoints"].(map[string]interface{})
	assert.True(t, ok, "Endpoints map should exist")
	assert.Equal(t, "/api", endpoints["self"])
	assert.Equal(t, "/api/directories", endpoints["directories"])
	assert.Equal(t, "/api/items", endpoints["items"])
	assert.Equal(t, "/api/generation", endpoints["generation"])
	assert.Equal(t, "/api/tags", endpoints["tags"])
	assert.Equal(t, "/api/events", endpoints["events"])
	assert.Equal(t, "/api/system/status", endpoints["system"])
	_, queueExists := endpoints["queue"] // Should not exist in summary map
	assert.False(t, queueExists, "Queue route should not be in the summarized endpoints map")

	registered, ok := responseBody["registered_routes"].([]interface{})
	assert.True(t, ok, "Registered routes list should exist")
	assert.Len(t, registered, 8, "Should have all 8 registered routes in the detailed list")

	foundQueue := false
	for _, item := range registered {
		route, _ := item.(map[string]interface{})
		if route["path"] == "/api/generation/queue" {
			assert.Equal(t, "GET", route["method"])
			assert.Equal(t, "An extra route for the detailed list.", route["description"])
			foundQueue = true
			break
		}
	}
	assert.True(t, foundQueue, "Detailed queue route not found in registered_routes")
}
