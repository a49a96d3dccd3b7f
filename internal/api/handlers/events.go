package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"geostamp/internal/database"
	"geostamp/internal/database/models"
	"geostamp/internal/database/repositories"
	"geostamp/internal/enrichment"
	"geostamp/internal/event"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

const (
	// maxEnrichBatch caps the number of events accepted by one enrich request
	maxEnrichBatch = 10000
	// MaxEnrichBodyBytes caps the size of an enrich request body
	MaxEnrichBodyBytes = 8 << 20
)

// StatusProvider reports the state of the ingestion pipeline
type StatusProvider interface {
	GetStatus() map[string]interface{}
}

// EventsHandler serves on-demand enrichment and stored events
type EventsHandler struct {
	extractor *enrichment.GeoIPExtractor
	eventRepo repositories.EventRepository
	status    StatusProvider
	cleanup   *database.CleanupService
	logger    *pterm.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(
	extractor *enrichment.GeoIPExtractor,
	eventRepo repositories.EventRepository,
	status StatusProvider,
	cleanup *database.CleanupService,
	logger *pterm.Logger,
) *EventsHandler {
	return &EventsHandler{
		extractor: extractor,
		eventRepo: eventRepo,
		status:    status,
		cleanup:   cleanup,
		logger:    logger,
	}
}

// EventView is a stored event as returned by the API
type EventView struct {
	ID        uint              `json:"id"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Enriched  bool              `json:"enriched"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body,omitempty"`
}

// Enrich runs the extractor over the posted events and returns them in order.
// The body is either one event or an array of events.
func (h *EventsHandler) Enrich(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxEnrichBodyBytes)
	raw, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large", "max_bytes": tooLarge.Limit})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is empty"})
		return
	}

	if raw[0] == '[' {
		var events []*event.Event
		if err := json.Unmarshal(raw, &events); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event array: " + err.Error()})
			return
		}
		if len(events) > maxEnrichBatch {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Too many events", "max": maxEnrichBatch})
			return
		}
		for i, e := range events {
			if e == nil {
				events[i] = event.New(nil, "")
			}
		}
		h.extractor.ProcessAll(events)
		h.logger.Trace("Enriched events on request", h.logger.Args("count", len(events)))
		c.JSON(http.StatusOK, events)
		return
	}

	var e event.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event: " + err.Error()})
		return
	}
	h.extractor.Process(&e)
	c.JSON(http.StatusOK, &e)
}

// GetRecentEvents returns the most recent stored events, optionally for one source
func (h *EventsHandler) GetRecentEvents(c *gin.Context) {
	limit := queryLimit(c, 100)

	records, err := h.eventRepo.FindRecent(limit, c.Query("source"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get recent events", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recent events"})
		return
	}

	c.JSON(http.StatusOK, h.toViews(records))
}

// GetEventsByIP returns stored events whose source address matches the path parameter
func (h *EventsHandler) GetEventsByIP(c *gin.Context) {
	ip := c.Param("ip")
	if !enrichment.IsValidIPv4(ip) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid IPv4 address"})
		return
	}

	records, err := h.eventRepo.FindByClientIP(ip, queryLimit(c, 100))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get events by IP", h.logger.Args("ip", ip, "error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get events"})
		return
	}

	c.JSON(http.StatusOK, h.toViews(records))
}

// GetStats returns stored event counts and the pipeline status
func (h *EventsHandler) GetStats(c *gin.Context) {
	total, err := h.eventRepo.Count()
	if err != nil {
		h.logger.WithCaller().Error("Failed to count events", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count events"})
		return
	}
	enriched, err := h.eventRepo.CountEnriched()
	if err != nil {
		h.logger.WithCaller().Error("Failed to count enriched events", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count events"})
		return
	}

	resp := gin.H{
		"events_total":    total,
		"events_enriched": enriched,
	}
	if addr, ok := h.extractor.LocalAddress(); ok {
		resp["local_address"] = addr
	}
	if h.status != nil {
		resp["ingestion"] = h.status.GetStatus()
	}
	if h.cleanup != nil {
		resp["retention"] = h.cleanup.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}

// RunCleanup deletes events past the retention period now
func (h *EventsHandler) RunCleanup(c *gin.Context) {
	if h.cleanup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cleanup service not configured"})
		return
	}
	if err := h.cleanup.ManualCleanup(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.cleanup.GetStats())
}

func (h *EventsHandler) toViews(records []*models.EventRecord) []EventView {
	views := make([]EventView, 0, len(records))
	for _, r := range records {
		e, err := r.Event()
		if err != nil {
			h.logger.Warn("Stored event has unreadable headers", h.logger.Args("id", r.ID, "error", err))
			continue
		}
		views = append(views, EventView{
			ID:        r.ID,
			Source:    r.SourceName,
			Timestamp: r.Timestamp,
			Enriched:  r.Enriched,
			Headers:   e.GetHeaders(),
			Body:      e.Body,
		})
	}
	return views
}

// queryLimit reads the limit parameter, clamped to 1..1000
func queryLimit(c *gin.Context, def int) int {
	if limitParam := c.Query("limit"); limitParam != "" {
		if l, err := strconv.Atoi(limitParam); err == nil && l > 0 && l <= 1000 {
			return l
		}
	}
	return def
}
