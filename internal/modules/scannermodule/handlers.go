package scannermodule

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/captiond/internal/modules/scannermodule/scanner"
)

// addDirectoryRequest is the payload for registering a directory
type addDirectoryRequest struct {
	Path         string `json:"path" binding:"required"`
	Name         string `json:"name"`
	ScanInterval string `json:"scan_interval"`
}

// addDirectory registers a directory and runs its first scan
func (m *Module) addDirectory(c *gin.Context) {
	if m.scannerManager == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Scanner manager not initialized",
		})
		return
	}

	var req addDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	var interval *time.Duration
	if req.ScanInterval != "" {
		parsed, err := time.ParseDuration(req.ScanInterval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid scan_interval: " + err.Error(),
			})
			return
		}
		interval = &parsed
	}

	directory, err := m.scannerManager.AddDirectory(c.Request.Context(), req.Path, req.Name, interval)
	if err != nil {
		if errors.Is(err, scanner.ErrDirectoryExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	// First scan runs inline so the caller sees the initial inventory.
	delta, scanErr := m.scannerManager.ScanDirectory(c.Request.Context(), directory.ID, "manual")

	response := gin.H{
		"directory": directory,
		"added":     delta.Added,
		"removed":   delta.Removed,
	}
	if scanErr != nil {
		response["scan_error"] = scanErr.Error()
	}
	c.JSON(http.StatusCreated, response)
}

// listDirectories returns every registered directory
func (m *Module) listDirectories(c *gin.Context) {
	if m.scannerManager == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Scanner manager not initialized",
		})
		return
	}

	directories, err := m.scannerManager.ListDirectories()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"directories": directories,
		"total":       len(directories),
	})
}

// getDirectory returns one directory with item statistics
func (m *Module) getDirectory(c *gin.Context) {
	id, ok := m.directoryID(c)
	if !ok {
		return
	}

	directory, stats, err := m.scannerManager.GetDirectory(id)
	if err != nil {
		if errors.Is(err, scanner.ErrDirectoryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Directory not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"directory": directory,
		"stats":     stats,
	})
}

// deleteDirectory unregisters a directory and destroys its items
func (m *Module) deleteDirectory(c *gin.Context) {
	id, ok := m.directoryID(c)
	if !ok {
		return
	}

	if err := m.scannerManager.DeleteDirectory(c.Request.Context(), id); err != nil {
		if errors.Is(err, scanner.ErrDirectoryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Directory not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Directory deleted successfully",
	})
}

// rescanDirectory reconciles a directory on demand
func (m *Module) rescanDirectory(c *gin.Context) {
	id, ok := m.directoryID(c)
	if !ok {
		return
	}

	delta, err := m.scannerManager.ScanDirectory(c.Request.Context(), id, "manual")
	if err != nil {
		switch {
		case errors.Is(err, scanner.ErrDirectoryNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Directory not found",
			})
		case strings.Contains(err.Error(), "scan already running"):
			c.JSON(http.StatusConflict, gin.H{
				"error": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"added":   delta.Added,
		"removed": delta.Removed,
	})
}

// listDirectoryItems returns the items of one directory
func (m *Module) listDirectoryItems(c *gin.Context) {
	id, ok := m.directoryID(c)
	if !ok {
		return
	}

	items, err := m.scannerManager.ListItems(id)
	if err != nil {
		if errors.Is(err, scanner.ErrDirectoryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Directory not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

// startScheduler manually starts the scan scheduler, clearing a tripped
// circuit breaker
func (m *Module) startScheduler(c *gin.Context) {
	if m.scannerManager == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Scanner manager not initialized",
		})
		return
	}

	if err := m.scannerManager.StartScheduler(); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started",
		"status":  m.scannerManager.SchedulerStatus(),
	})
}

// stopScheduler halts the scan scheduler
func (m *Module) stopScheduler(c *gin.Context) {
	if m.scannerManager == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Scanner manager not initialized",
		})
		return
	}

	m.scannerManager.StopScheduler()
	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped",
		"status":  m.scannerManager.SchedulerStatus(),
	})
}

// schedulerStatus reports scheduler and circuit breaker state
func (m *Module) schedulerStatus(c *gin.Context) {
	if m.scannerManager == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Scanner manager not initialized",
		})
		return
	}

	c.JSON(http.StatusOK, m.scannerManager.SchedulerStatus())
}

// directoryID parses the :id route parameter, replying 400 on garbage.
func (m *Module) directoryID(c *gin.Context) (uint, bool) {
	if m.scannerManager == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Scanner manager not initialized",
		})
		return 0, false
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid directory ID",
		})
		return 0, false
	}
	return uint(id), true
}
