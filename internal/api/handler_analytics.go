package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"push-relay-backend/internal/model"
	"push-relay-backend/internal/mw"
)

type analyticsEventRequest struct {
	Name      string         `json:"name" binding:"required"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
	SessionID string         `json:"sessionId"`
}

type analyticsBatchRequest struct {
	Events []analyticsEventRequest `json:"events" binding:"required"`
}

// RecordAnalyticsBatch ingests a batch of client events. Unauthenticated
// submissions are accepted but unattributed.
func (h *Handler) RecordAnalyticsBatch(c *gin.Context) {
	var req analyticsBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	userID := mw.UserID(c)
	events := make([]model.AnalyticsEvent, 0, len(req.Events))
	for _, e := range req.Events {
		ev := model.AnalyticsEvent{
			UserID:    userID,
			Name:      e.Name,
			SessionID: e.SessionID,
		}
		if e.Timestamp > 0 {
			ev.OccurredAt = time.UnixMilli(e.Timestamp).UTC()
		}
		if len(e.Data) > 0 {
			if raw, err := json.Marshal(e.Data); err == nil {
				ev.Data = string(raw)
			}
		}
		events = append(events, ev)
	}

	result, err := h.recorder.RecordBatch(c.Request.Context(), events)
	if err != nil {
		h.log.Error().Err(err).Int("recorded", result.Recorded).Msg("analytics batch partially recorded")
		// The accepted count still goes back so the client retries only
		// the unrecorded tail.
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStats returns the caller's aggregate notification stats.
func (h *Handler) GetStats(c *gin.Context) {
	windowDays := 30
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		windowDays = parsed
	}

	stats, err := h.recorder.GetStats(c.Request.Context(), mw.UserID(c), windowDays)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to aggregate stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
