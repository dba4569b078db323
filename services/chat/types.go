package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-chat-gateway/services/providers"
)

// HistoryEntry is one turn of a conversation kept by the caller.
type HistoryEntry struct {
	Role      string    `json:"role" validate:"required,oneof=user assistant"`
	Content   string    `json:"content" validate:"required"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Request is a chat turn: the new user message plus the prior history.
type Request struct {
	Message string         `json:"message" validate:"required"`
	History []HistoryEntry `json:"history" validate:"dive"`
}

// Response is the model's reply and the history extended by this turn.
type Response struct {
	ID              uuid.UUID       `json:"id"`
	Message         string          `json:"message"`
	History         []HistoryEntry  `json:"history"`
	Provider        string          `json:"provider"`
	Model           string          `json:"model"`
	FinishReason    string          `json:"finish_reason,omitempty"`
	Usage           providers.Usage `json:"usage"`
	SnapshotID      uuid.UUID       `json:"snapshot_id"`
	SnapshotVersion uint64          `json:"snapshot_version"`
	LatencyMs       int64           `json:"latency_ms"`
}
