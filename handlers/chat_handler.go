package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/upb/llm-chat-gateway/middleware"
	"github.com/upb/llm-chat-gateway/services/chat"
	"github.com/upb/llm-chat-gateway/utils"
	"go.uber.org/zap"
)

// maxChatBodyBytes caps a chat request body.
const maxChatBodyBytes = 1 << 20

// ChatService defines the interface for chat operations
type ChatService interface {
	Complete(ctx context.Context, req *chat.Request) (*chat.Response, error)
}

// ChatHandler handles chat HTTP requests
type ChatHandler struct {
	service ChatService
	logger  *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(service ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// HandleChat handles POST /api/v1/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.LoggerFromContext(ctx, h.logger)

	var req chat.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	resp, err := h.service.Complete(ctx, &req)
	if err != nil {
		logger.Warn("chat request failed", zap.Error(err))
		HandleServiceError(w, err, logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}
