package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"geostamp/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
)

// RealtimeHandler serves enrichment metrics
type RealtimeHandler struct {
	collector      *realtime.MetricsCollector
	logger         *pterm.Logger
	streamInterval time.Duration
	prometheus     http.Handler
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(collector *realtime.MetricsCollector, logger *pterm.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		collector:      collector,
		logger:         logger,
		streamInterval: 2 * time.Second,
		prometheus:     promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}),
	}
}

// StreamMetrics streams metric snapshots via Server-Sent Events
func (h *RealtimeHandler) StreamMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	h.logger.Debug("Client connected to metrics stream", h.logger.Args("client_ip", c.ClientIP()))

	for {
		select {
		case <-c.Request.Context().Done():
			h.logger.Debug("Client disconnected from metrics stream",
				h.logger.Args("client_ip", c.ClientIP()))
			return

		case <-ticker.C:
			data, err := json.Marshal(h.collector.GetMetrics())
			if err != nil {
				h.logger.Error("Failed to marshal metrics", h.logger.Args("error", err))
				continue
			}

			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
				h.logger.Debug("Failed to write SSE data", h.logger.Args("error", err))
				return
			}
			c.Writer.Flush()
		}
	}
}

// GetCurrentMetrics returns a single snapshot of the enrichment metrics
func (h *RealtimeHandler) GetCurrentMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.GetMetrics())
}

// Prometheus exposes the collector's registry in the text exposition format
func (h *RealtimeHandler) Prometheus(c *gin.Context) {
	h.prometheus.ServeHTTP(c.Writer, c.Request)
}
