package handler

import (
	"net/http"

	"github.com/Prosperrrr/jexi/middleware"
	"github.com/Prosperrrr/jexi/service"
	"github.com/gin-gonic/gin"
)

// StatsHandler exposes read-only storage and limiter diagnostics.
type StatsHandler struct {
	registry *service.Registry
	backend  service.Backend
	limiter  *middleware.SlidingWindow
}

func NewStatsHandler(registry *service.Registry, backend service.Backend, limiter *middleware.SlidingWindow) *StatsHandler {
	return &StatsHandler{
		registry: registry,
		backend:  backend,
		limiter:  limiter,
	}
}

func (h *StatsHandler) Storage(c *gin.Context) {
	stats, err := h.backend.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	uploads, jobs := h.registry.Counts()

	c.JSON(http.StatusOK, gin.H{
		"storage":      stats,
		"uploads":      uploads,
		"jobs":         jobs,
		"rate_limiter": h.limiter.Stats(),
	})
}
