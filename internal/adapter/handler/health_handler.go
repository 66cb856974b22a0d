package handler

import (
	"context"
	"log/slog"
	"net/http"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	storage Pinger
	cache   Pinger
	streams StreamSource
	logger  *slog.Logger
}

// NewHealthHandler: cache может быть nil, если Redis выключен.
func NewHealthHandler(storage, cache Pinger, streams StreamSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		cache:   cache,
		streams: streams,
		logger:  logger,
	}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	dbStatus := "healthy"
	cacheStatus := "disabled"
	streamStatus := "connected"
	overallStatus := "healthy"

	if err := h.storage.Ping(r.Context()); err != nil {
		dbStatus = "unhealthy"
		overallStatus = "degraded"
		h.logger.Warn("database health check failed", "error", err)
	}

	if h.cache != nil {
		cacheStatus = "healthy"
		if err := h.cache.Ping(r.Context()); err != nil {
			cacheStatus = "unhealthy"
			overallStatus = "degraded"
			h.logger.Warn("cache health check failed", "error", err)
		}
	}

	if s := h.streams.Stream(); s == nil || !s.IsConnected() {
		streamStatus = "disconnected"
		overallStatus = "degraded"
	}

	response := map[string]interface{}{
		"status": overallStatus,
		"checks": map[string]string{
			"database": dbStatus,
			"cache":    cacheStatus,
			"stream":   streamStatus,
		},
	}

	statusCode := http.StatusOK
	if overallStatus == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}
