package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/utils"
	"go.uber.org/zap"
)

// Version is reported by the status endpoint. Overridden at build time.
var Version = "dev"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                `json:"status"`
	Timestamp string                `json:"timestamp"`
	Checks    map[string]string     `json:"checks,omitempty"`
	Refresh   *runtimeconfig.Status `json:"refresh,omitempty"`
}

// DatabaseChecker verifies database connectivity
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// BootstrapReporter reports whether the served snapshot is the bootstrap one.
type BootstrapReporter interface {
	IsBootstrap() bool
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	snapshots SnapshotReader
	refresher RefreshController
	db        DatabaseChecker
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. refresher and db may be nil.
func NewHealthHandler(snapshots SnapshotReader, refresher RefreshController, db DatabaseChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		snapshots: snapshots,
		refresher: refresher,
		db:        db,
		logger:    logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only; always 200 while the process serves requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		h.logger.Error("failed to write health response", zap.Error(err))
	}
}

// HandleReadiness handles GET /readyz
// Ready iff a configuration snapshot is being served. The journal database
// is reported but does not gate readiness.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if _, err := h.snapshots.Current(); err != nil {
		checks["configuration"] = "not_configured"
		ready = false
	} else if b, ok := h.snapshots.(BootstrapReporter); ok && b.IsBootstrap() {
		checks["configuration"] = "bootstrap"
	} else {
		checks["configuration"] = "healthy"
	}

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if h.refresher != nil {
		status := h.refresher.Status()
		response.Refresh = &status
	}

	httpStatus := http.StatusOK
	if !ready {
		response.Status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// StatusResponse describes the running gateway
type StatusResponse struct {
	Version     string   `json:"version"`
	Environment string   `json:"environment"`
	ConfigStore string   `json:"config_store"`
	Providers   []string `json:"providers"`
}

// StatusHandler handles GET /api/v1/status
func StatusHandler(environment, configStore string, providers func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, StatusResponse{
			Version:     Version,
			Environment: environment,
			ConfigStore: configStore,
			Providers:   providers(),
		})
	}
}
