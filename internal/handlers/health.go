package handlers

import (
	"context"
	"net/http"
	"time"

	"vidmatch/internal/services"
	"vidmatch/internal/store"
	"vidmatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	store        store.Store
	queueService *services.QueueService
	backend      string
	version      string
}

func NewHealthHandler(st store.Store, queueService *services.QueueService, backend, version string) *HealthHandler {
	return &HealthHandler{
		store:        st,
		queueService: queueService,
		backend:      backend,
		version:      version,
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.WithError(err).Warn("Health check: store unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"backend": h.backend,
			"message": "Store unreachable",
		})
		return
	}

	size, err := h.queueService.Size(ctx)
	if err != nil {
		logger.WithError(err).Warn("Health check: queue size unavailable")
		size = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"backend":    h.backend,
		"version":    h.version,
		"queue_size": size,
	})
}
