package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/apiauth/services/decisioncache"
	"github.com/upb/apiauth/utils"
	"go.uber.org/zap"
)

const readinessTimeout = 5 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string               `json:"status"`
	Timestamp string               `json:"timestamp"`
	Checks    map[string]string    `json:"checks,omitempty"`
	Cache     *decisioncache.Stats `json:"cache,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	cache  decisioncache.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthHandler creates a new HealthHandler. cache may be nil when decisions are not cached.
func NewHealthHandler(cache decisioncache.Store, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: h.timestamp(),
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	response := HealthResponse{Checks: checks}

	switch {
	case h.cache == nil:
		checks["decision_cache"] = "disabled"
	default:
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warn("decision cache health check failed", zap.Error(err))
			checks["decision_cache"] = "unhealthy"
			allHealthy = false
		} else {
			checks["decision_cache"] = "healthy"
		}
		stats := h.cache.Stats()
		response.Cache = &stats
	}

	response.Status = "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		response.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}
	response.Timestamp = h.timestamp()

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}
