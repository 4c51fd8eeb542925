package types

import (
	"crypto/sha256"
	"time"
)

// ItemStatus is the lifecycle status of a knowledge item
type ItemStatus string

const (
	ItemActive   ItemStatus = "active"
	ItemArchived ItemStatus = "archived"
)

// KnowledgeItem is a reusable answer stored in the similarity index
type KnowledgeItem struct {
	// Identification
	ID          int64
	Title       string
	Body        string
	ContentHash [32]byte // SHA-256 of title + body for deduplication

	// Search
	Embedding []float32
	Keywords  []string

	// Classification
	Category    string
	Subcategory string

	// Outcome tracking
	SuccessRate float64 // Running average of past outcomes, 0-1
	UsageCount  int
	LastUsedAt  *time.Time

	// Lifecycle
	Status    ItemStatus
	Stale     bool // Unused for longer than the maintenance window
	Duplicate bool // Near-identical embedding to an older item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ComputeContentHash computes the SHA-256 hash of the item content
func (k *KnowledgeItem) ComputeContentHash() [32]byte {
	return sha256.Sum256([]byte(k.Title + "\n\n" + k.Body))
}

// SearchText returns the text indexed for keyword search
func (k *KnowledgeItem) SearchText() string {
	return k.Title + "\n" + k.Body
}

// RecordOutcome folds a single outcome into the running success rate and
// bumps usage statistics.
func (k *KnowledgeItem) RecordOutcome(success bool, at time.Time) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	k.SuccessRate = (k.SuccessRate*float64(k.UsageCount) + outcome) / float64(k.UsageCount+1)
	k.UsageCount++
	k.LastUsedAt = &at
}

// IsStale reports whether the item has gone unused for longer than window.
// Items that were never used age from their creation time.
func (k *KnowledgeItem) IsStale(now time.Time, window time.Duration) bool {
	last := k.CreatedAt
	if k.LastUsedAt != nil {
		last = *k.LastUsedAt
	}
	return now.Sub(last) > window
}

// Validate performs validation of the knowledge item
func (k *KnowledgeItem) Validate() error {
	if k.Title == "" {
		return ErrEmptyTitle
	}
	if k.Body == "" {
		return ErrEmptyBody
	}
	if k.Category == "" {
		return ErrEmptyCategory
	}
	if k.SuccessRate < 0 || k.SuccessRate > 1 {
		return ErrInvalidRate
	}
	switch k.Status {
	case ItemActive, ItemArchived:
	default:
		return ErrInvalidStatus
	}
	return nil
}
