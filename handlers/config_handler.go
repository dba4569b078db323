package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/middleware"
	"github.com/upb/llm-chat-gateway/models"
	"github.com/upb/llm-chat-gateway/utils"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// SnapshotReader returns the configuration currently served.
type SnapshotReader interface {
	Current() (*runtimeconfig.Snapshot, error)
}

// RefreshController runs and reports refresh cycles.
type RefreshController interface {
	Trigger(ctx context.Context) (*runtimeconfig.Snapshot, error)
	Status() runtimeconfig.Status
}

// RefreshHistory lists journaled refresh cycles.
type RefreshHistory interface {
	Recent(ctx context.Context, limit int) ([]*models.RefreshEvent, error)
}

// RefreshResponse is returned by a manual refresh.
type RefreshResponse struct {
	Snapshot runtimeconfig.View   `json:"snapshot"`
	Status   runtimeconfig.Status `json:"status"`
}

// ConfigHandler exposes the served configuration and the refresher
type ConfigHandler struct {
	snapshots SnapshotReader
	refresher RefreshController
	history   RefreshHistory
	logger    *zap.Logger
}

// NewConfigHandler creates a new ConfigHandler. history may be nil when the journal is disabled.
func NewConfigHandler(snapshots SnapshotReader, refresher RefreshController, history RefreshHistory, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		snapshots: snapshots,
		refresher: refresher,
		history:   history,
		logger:    logger,
	}
}

// HandleGetConfig handles GET /api/v1/config
// The API key is never included.
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Current()
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, snap.View()); err != nil {
		h.logger.Error("failed to write config response", zap.Error(err))
	}
}

// HandleRefresh handles POST /api/v1/config/refresh
func (h *ConfigHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context(), h.logger)

	snap, err := h.refresher.Trigger(r.Context())
	if err != nil {
		logger.Warn("manual refresh failed", zap.Error(err))
		HandleServiceError(w, err, logger)
		return
	}
	logger.Info("manual refresh published snapshot", zap.Uint64("version", snap.Version()))

	if err := utils.WriteOK(w, RefreshResponse{
		Snapshot: snap.View(),
		Status:   h.refresher.Status(),
	}); err != nil {
		h.logger.Error("failed to write refresh response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/config/status
func (h *ConfigHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.refresher.Status()); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

// HandleHistory handles GET /api/v1/config/history?limit=N
func (h *ConfigHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		_ = utils.WriteNotFound(w, "refresh journal is not enabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 200", map[string]interface{}{"limit": raw})
			return
		}
		limit = parsed
	}

	events, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if events == nil {
		events = []*models.RefreshEvent{}
	}

	if err := utils.WriteOK(w, events); err != nil {
		h.logger.Error("failed to write history response", zap.Error(err))
	}
}
