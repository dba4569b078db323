package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-chat-gateway/models"
)

// RefreshEventRepository handles refresh journal data operations
type RefreshEventRepository interface {
	// Insert inserts a new journal entry
	Insert(ctx context.Context, event *models.RefreshEvent) error

	// ListRecent retrieves the newest entries first
	ListRecent(ctx context.Context, limit int) ([]*models.RefreshEvent, error)

	// GetByCycleID retrieves the entry recorded for a cycle
	GetByCycleID(ctx context.Context, cycleID uuid.UUID) (*models.RefreshEvent, error)

	// DeleteBefore removes entries that finished before the cutoff and returns how many were removed
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
