package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// Directory is a watched source of image files. Every scan updates the
// bookkeeping fields; deleting a directory cascades to its items.
type Directory struct {
	ID               uint          `gorm:"primaryKey" json:"id"`
	Path             string        `gorm:"uniqueIndex;not null" json:"path"`
	Name             string        `json:"name"`
	ScanInterval     time.Duration `json:"scan_interval"`
	LastScannedAt    *time.Time    `json:"last_scanned_at,omitempty"`
	LastScanDuration time.Duration `json:"last_scan_duration"`
	Scanning         bool          `gorm:"not null;default:false" json:"scanning"`
	Items            []Item        `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Item is one discovered image file and its generated caption state.
// The composite unique index on (DirectoryID, FileName) is what keeps
// concurrent scans from double-creating records; inserts racing on the same
// filename surface gorm.ErrDuplicatedKey and are treated as "found".
type Item struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	DirectoryID uint        `gorm:"not null;uniqueIndex:idx_items_directory_filename" json:"directory_id"`
	FileName    string      `gorm:"not null;uniqueIndex:idx_items_directory_filename" json:"file_name"`
	Status      ItemStatus  `gorm:"not null;default:0;index" json:"status"`
	Description string      `json:"description"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Size        int64       `json:"size"`
	Tags        []Tag       `gorm:"many2many:item_tags" json:"tags,omitempty"`
	Embeddings  []Embedding `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Tag labels items for filtering; bulk generation can target a single tag.
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Embedding is one vectorized chunk of an item's description. The set for an
// item is only ever replaced wholesale inside a transaction.
type Embedding struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ItemID     uint      `gorm:"not null;index" json:"item_id"`
	ChunkIndex int       `gorm:"not null" json:"chunk_index"`
	Content    string    `gorm:"not null" json:"content"`
	Vector     string    `json:"-"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// EncodeVector stores the vector as JSON text so the schema stays portable
// across sqlite and postgres.
func (e *Embedding) EncodeVector(vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding vector: %w", err)
	}
	e.Vector = string(data)
	e.Dimensions = len(vector)
	return nil
}

// DecodeVector returns the stored vector.
func (e *Embedding) DecodeVector() ([]float32, error) {
	if e.Vector == "" {
		return nil, nil
	}
	var vector []float32
	if err := json.Unmarshal([]byte(e.Vector), &vector); err != nil {
		return nil, fmt.Errorf("failed to decode embedding vector: %w", err)
	}
	return vector, nil
}
