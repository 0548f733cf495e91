package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/services"
	"github.com/inboxhunter/signup-agent/internal/store"
)

// Handlers serves the status API endpoints
type Handlers struct {
	pipeline  services.PipelineServiceInterface
	store     *store.Store
	container *services.Container
	logger    *logrus.Logger
}

// NewHandlers creates the status API handlers
func NewHandlers(pipeline services.PipelineServiceInterface, st *store.Store,
	container *services.Container, logger *logrus.Logger) *Handlers {
	return &Handlers{
		pipeline:  pipeline,
		store:     st,
		container: container,
		logger:    logger,
	}
}

// GetHealth reports service health
func (h *Handlers) GetHealth(c *gin.Context) {
	health := h.container.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"services":  health,
	})
}

// GetStatus returns the live run status
func (h *Handlers) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.Status())
}

// GetStats returns aggregate outcome counts from the store
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.store.GetStats()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read stats")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal Server Error",
			"message":   "Failed to read stats",
			"timestamp": time.Now(),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PostStop requests a graceful stop after the current URL
func (h *Handlers) PostStop(c *gin.Context) {
	h.pipeline.RequestStop()
	c.JSON(http.StatusAccepted, gin.H{
		"message":   "Stop requested, finishing current URL",
		"timestamp": time.Now(),
	})
}
