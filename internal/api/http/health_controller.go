package http

import (
	"context"
	"net/http"
	"time"

	"atd/signal-comms/internal/domain"

	"github.com/gin-gonic/gin"
)

// StatusProvider is the view of the comm service the health endpoints need.
type StatusProvider interface {
	HealthCheck(ctx context.Context) error
	Ready(ctx context.Context) error
	GetStatus() map[string]interface{}
	LastRun() (domain.RunReport, bool)
	DeviceType() domain.DeviceType
}

type HealthController struct {
	service StatusProvider
}

func NewHealthController(service StatusProvider) *HealthController {
	return &HealthController{service: service}
}

// Health reports whether the polling loop is alive.
func (h *HealthController) Health(c *gin.Context) {
	if err := h.service.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, domain.HealthResponse{
			Status:     domain.HealthStatusUnhealthy,
			Timestamp:  time.Now(),
			DeviceType: h.service.DeviceType(),
			Message:    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, domain.HealthResponse{
		Status:     domain.HealthStatusHealthy,
		Timestamp:  time.Now(),
		DeviceType: h.service.DeviceType(),
		Message:    "comm service is running",
	})
}

func (h *HealthController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetStatus())
}

// Ready succeeds once a run has completed without error.
func (h *HealthController) Ready(c *gin.Context) {
	if err := h.service.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "not_ready",
			"device_type": h.service.DeviceType(),
			"message":     err.Error(),
			"timestamp":   time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"device_type": h.service.DeviceType(),
		"message":     "last run completed",
		"timestamp":   time.Now(),
	})
}

func (h *HealthController) LastRun(c *gin.Context) {
	report, ok := h.service.LastRun()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "no run completed yet"})
		return
	}
	c.JSON(http.StatusOK, report)
}
