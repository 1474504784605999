package generationmodule

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/embedding"
	"github.com/mantonx/captiond/internal/events"
	"github.com/mantonx/captiond/internal/logger"
)

// EmbeddingRefresher rebuilds an item's embedding rows whenever its caption
// changes. The replacement is transactional: readers never see old chunks
// next to new ones, and a failed refresh leaves the previous set intact.
type EmbeddingRefresher struct {
	db       *gorm.DB
	client   *embedding.Client
	chunker  *embedding.Chunker
	eventBus events.EventBus
}

// NewEmbeddingRefresher creates a refresher. A nil client disables
// refreshing entirely (the embedding service is optional).
func NewEmbeddingRefresher(db *gorm.DB, client *embedding.Client, chunker *embedding.Chunker, eventBus events.EventBus) *EmbeddingRefresher {
	return &EmbeddingRefresher{
		db:       db,
		client:   client,
		chunker:  chunker,
		eventBus: eventBus,
	}
}

// Enabled reports whether an embedding service is configured.
func (r *EmbeddingRefresher) Enabled() bool {
	return r.client != nil
}

// Refresh chunks the description, embeds each chunk, and swaps the item's
// embedding set in one transaction.
func (r *EmbeddingRefresher) Refresh(ctx context.Context, itemID uint, description string) error {
	if r.client == nil {
		return nil
	}

	chunks := r.chunker.Split(description)

	var rows []database.Embedding
	if len(chunks) > 0 {
		vectors, err := r.client.EmbedBatch(ctx, chunks)
		if err != nil {
			return fmt.Errorf("failed to embed %d chunks for item %d: %w", len(chunks), itemID, err)
		}

		rows = make([]database.Embedding, len(chunks))
		for i := range chunks {
			rows[i] = database.Embedding{
				ItemID:     itemID,
				ChunkIndex: i,
				Content:    chunks[i],
			}
			if err := rows[i].EncodeVector(vectors[i]); err != nil {
				return fmt.Errorf("failed to encode vector for item %d chunk %d: %w", itemID, i, err)
			}
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", itemID).Delete(&database.Embedding{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace embeddings for item %d: %w", itemID, err)
	}

	logger.Debug("Refreshed %d embedding chunks for item %d", len(rows), itemID)
	if r.eventBus != nil {
		r.eventBus.PublishAsync(events.NewEventWithData(
			events.EventItemEmbeddingsRefreshed, "generation",
			"Item embeddings refreshed", fmt.Sprintf("%d chunks", len(rows)),
			map[string]interface{}{
				"item_id": itemID,
				"chunks":  len(rows),
			}))
	}
	return nil
}
