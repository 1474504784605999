package generationmodule

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/worker"
)

// generateRequest is the optional payload for queueing a single item
type generateRequest struct {
	Model string `json:"model"`
}

// bulkRequest combines the eligibility filter with the model choice
type bulkRequest struct {
	BulkFilter
	Model string `json:"model"`
}

// createTagRequest is the payload for creating a tag
type createTagRequest struct {
	Name string `json:"name" binding:"required"`
}

// webhookEnvelope matches the worker's callback payloads. Both receivers
// wrap their fields in a "data" object.
type webhookEnvelope struct {
	Data webhookData `json:"data"`
}

type webhookData struct {
	ItemID      *uint   `json:"item_id"`
	Status      *int    `json:"status"`
	Description *string `json:"description"`
}

// listItems returns items matching the query filters
func (m *Module) listItems(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	query := m.db.WithContext(c.Request.Context()).Model(&database.Item{}).Preload("Tags")

	if raw := c.Query("directory_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid directory_id",
			})
			return
		}
		query = query.Where("items.directory_id = ?", uint(id))
	}

	if raw := c.Query("tag_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid tag_id",
			})
			return
		}
		query = query.
			Joins("JOIN item_tags ON item_tags.item_id = items.id").
			Where("item_tags.tag_id = ?", uint(id))
	}

	if raw := c.Query("status"); raw != "" {
		status, ok := database.ParseItemStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown status: " + raw,
			})
			return
		}
		query = query.Where("items.status = ?", status)
	}

	if c.Query("missing_embeddings") == "true" {
		query = query.Where(
			"items.status = ? AND NOT EXISTS (SELECT 1 FROM embeddings WHERE embeddings.item_id = items.id)",
			database.StatusDone,
		)
	}

	var items []database.Item
	if err := query.Order("items.id").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list items: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

// getItem returns one item with its tags and embedding chunk count
func (m *Module) getItem(c *gin.Context) {
	itemID, ok := m.itemID(c)
	if !ok {
		return
	}

	var item database.Item
	err := m.db.WithContext(c.Request.Context()).Preload("Tags").First(&item, itemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Item not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load item: " + err.Error(),
		})
		return
	}

	var chunks int64
	if err := m.db.WithContext(c.Request.Context()).
		Model(&database.Embedding{}).
		Where("item_id = ?", itemID).
		Count(&chunks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count embeddings: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item":             item,
		"embedding_chunks": chunks,
	})
}

// generateItem queues one item for captioning
func (m *Module) generateItem(c *gin.Context) {
	itemID, ok := m.itemID(c)
	if !ok {
		return
	}

	// The body is optional; an empty POST uses the default model.
	var req generateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
	}

	model, err := m.dispatcher.ResolveModel(req.Model)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := m.dispatcher.Submit(c.Request.Context(), itemID, model); err != nil {
		status := http.StatusInternalServerError
		var rejected *worker.RejectedError
		switch {
		case errors.Is(err, database.ErrItemNotFound):
			status = http.StatusNotFound
		case errors.Is(err, database.ErrInvalidTransition):
			status = http.StatusConflict
		case errors.Is(err, worker.ErrUnreachable), errors.As(err, &rejected):
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"item_id": itemID,
		"model":   model,
		"status":  database.StatusInQueue.String(),
	})
}

// cancelItem withdraws one item from captioning
func (m *Module) cancelItem(c *gin.Context) {
	itemID, ok := m.itemID(c)
	if !ok {
		return
	}

	outcome, err := m.dispatcher.Cancel(c.Request.Context(), itemID)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Item not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// startBulk begins a bulk captioning session
func (m *Module) startBulk(c *gin.Context) {
	if m.coordinator == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	// An empty body means "everything with the default model".
	var req bulkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
	}

	sessionID, total, err := m.coordinator.Start(c.Request.Context(), req.BulkFilter, req.Model)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrSessionActive) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": sessionID,
		"total":      total,
	})
}

// bulkStatus reports session progress
func (m *Module) bulkStatus(c *gin.Context) {
	if m.coordinator == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	progress, err := m.coordinator.Status(c.Param("sessionID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, progress)
}

// cancelBulk stops a session and withdraws its unfinished items
func (m *Module) cancelBulk(c *gin.Context) {
	if m.coordinator == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	sessionID := c.Param("sessionID")
	cancelled, err := m.coordinator.Cancel(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"cancelled":  cancelled,
	})
}

// queueLength proxies the worker's queue depth
func (m *Module) queueLength(c *gin.Context) {
	if m.worker == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	length, err := m.worker.QueueLength(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue_length": length,
	})
}

// statusReceiver handles the worker's status callbacks. Callbacks are
// fire-and-forget on the worker side, so anything that is not a malformed
// payload gets a 200: retrying would not change the answer.
func (m *Module) statusReceiver(c *gin.Context) {
	if m.tracker == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	var payload webhookEnvelope
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid payload: " + err.Error(),
		})
		return
	}
	if payload.Data.ItemID == nil || payload.Data.Status == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Payload requires data.item_id and data.status",
		})
		return
	}

	itemID := *payload.Data.ItemID

	var status database.ItemStatus
	switch *payload.Data.Status {
	case int(database.StatusProcessing):
		status = database.StatusProcessing
	case int(database.StatusDone):
		status = database.StatusDone
	case int(database.StatusFailed):
		status = database.StatusFailed
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unsupported status code: " + strconv.Itoa(*payload.Data.Status),
		})
		return
	}

	if err := m.tracker.Transition(c.Request.Context(), itemID, status, nil); err != nil {
		switch {
		case errors.Is(err, database.ErrItemNotFound):
			logger.Warn("Worker reported status %s for unknown item %d", status, itemID)
			c.JSON(http.StatusOK, gin.H{
				"message": "unknown item ignored",
			})
		case errors.Is(err, database.ErrInvalidTransition):
			logger.Warn("Ignoring out-of-order status callback: %v", err)
			c.JSON(http.StatusOK, gin.H{
				"message": "stale status ignored",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "status updated",
	})
}

// descriptionReceiver handles the worker's finished captions. An item still
// processing takes the caption and completes in one guarded update; a failed
// item keeps the text as failure detail without changing status. Anything
// else is a replay and changes nothing.
func (m *Module) descriptionReceiver(c *gin.Context) {
	if m.tracker == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	var payload webhookEnvelope
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid payload: " + err.Error(),
		})
		return
	}
	if payload.Data.ItemID == nil || payload.Data.Description == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Payload requires data.item_id and data.description",
		})
		return
	}

	itemID := *payload.Data.ItemID
	description := *payload.Data.Description
	ctx := c.Request.Context()

	var item database.Item
	if err := m.db.WithContext(ctx).Select("id", "status").First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("Worker delivered a description for unknown item %d", itemID)
			c.JSON(http.StatusOK, gin.H{
				"message": "unknown item ignored",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load item: " + err.Error(),
		})
		return
	}

	switch item.Status {
	case database.StatusProcessing:
		if err := m.tracker.Transition(ctx, itemID, database.StatusDone, &description); err != nil {
			if errors.Is(err, database.ErrInvalidTransition) {
				logger.Warn("Item %d left processing before its description landed: %v", itemID, err)
				c.JSON(http.StatusOK, gin.H{
					"message": "stale description ignored",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}

		// The caption is already committed; a failed refresh only leaves
		// the previous embedding set in place.
		if err := m.refresher.Refresh(ctx, itemID, description); err != nil {
			logger.Error("Embedding refresh for item %d failed: %v", itemID, err)
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "description stored",
		})

	case database.StatusFailed:
		// Failure detail from the worker. Guarded on status so a requeue
		// racing this callback cannot have its state clobbered.
		result := m.db.WithContext(ctx).
			Model(&database.Item{}).
			Where("id = ? AND status = ?", itemID, database.StatusFailed).
			Update("description", description)
		if result.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to store failure detail: " + result.Error.Error(),
			})
			return
		}
		if result.RowsAffected == 0 {
			logger.Warn("Item %d left failed before its failure detail landed", itemID)
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "failure detail stored",
		})

	default:
		logger.Warn("Ignoring description for item %d in state %s", itemID, item.Status)
		c.JSON(http.StatusOK, gin.H{
			"message": "description ignored",
		})
	}
}

// listTags returns all tags
func (m *Module) listTags(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	var tags []database.Tag
	if err := m.db.WithContext(c.Request.Context()).Order("name").Find(&tags).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list tags: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tags":  tags,
		"total": len(tags),
	})
}

// createTag creates a tag
func (m *Module) createTag(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	var req createTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	tag := database.Tag{Name: req.Name}
	if err := m.db.WithContext(c.Request.Context()).Create(&tag).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Tag already exists: " + req.Name,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create tag: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, tag)
}

// deleteTag removes a tag and its item associations
func (m *Module) deleteTag(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid tag ID",
		})
		return
	}

	ctx := c.Request.Context()
	var tag database.Tag
	if err := m.db.WithContext(ctx).First(&tag, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Tag not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load tag: " + err.Error(),
		})
		return
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM item_tags WHERE tag_id = ?", tag.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&tag).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete tag: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Tag deleted",
	})
}

// attachTag links a tag to an item
func (m *Module) attachTag(c *gin.Context) {
	item, tag, ok := m.itemAndTag(c)
	if !ok {
		return
	}

	// Appending through the association keeps the join insert idempotent.
	if err := m.db.WithContext(c.Request.Context()).Model(item).Association("Tags").Append(tag); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to attach tag: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item_id": item.ID,
		"tag":     tag,
	})
}

// detachTag unlinks a tag from an item
func (m *Module) detachTag(c *gin.Context) {
	item, tag, ok := m.itemAndTag(c)
	if !ok {
		return
	}

	if err := m.db.WithContext(c.Request.Context()).Model(item).Association("Tags").Delete(tag); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to detach tag: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Tag detached",
	})
}

// itemID parses the :id route parameter
func (m *Module) itemID(c *gin.Context) (uint, bool) {
	if m.db == nil || m.dispatcher == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return 0, false
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid item ID",
		})
		return 0, false
	}
	return uint(id), true
}

// itemAndTag loads both ends of a tag association from route parameters
func (m *Module) itemAndTag(c *gin.Context) (*database.Item, *database.Tag, bool) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Generation module not initialized",
		})
		return nil, nil, false
	}

	itemID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid item ID",
		})
		return nil, nil, false
	}
	tagID, err := strconv.ParseUint(c.Param("tagID"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid tag ID",
		})
		return nil, nil, false
	}

	ctx := c.Request.Context()
	var item database.Item
	if err := m.db.WithContext(ctx).First(&item, uint(itemID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Item not found",
			})
			return nil, nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load item: " + err.Error(),
		})
		return nil, nil, false
	}

	var tag database.Tag
	if err := m.db.WithContext(ctx).First(&tag, uint(tagID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Tag not found",
			})
			return nil, nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load tag: " + err.Error(),
		})
		return nil, nil, false
	}

	return &item, &tag, true
}
