package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"push-relay-backend/internal/model"
	"push-relay-backend/internal/mw"
	"push-relay-backend/internal/scheduler"
)

type scheduleRequest struct {
	Type   string         `json:"type" binding:"required"`
	Title  string         `json:"title" binding:"required"`
	Body   string         `json:"body"`
	Tag    string         `json:"tag"`
	Data   map[string]any `json:"data"`
	SendAt time.Time      `json:"sendAt" binding:"required"`
}

// ScheduleNotification defers a notification to the caller at a target time.
func (h *Handler) ScheduleNotification(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	n := &model.Notification{
		Type:  req.Type,
		Title: req.Title,
		Body:  req.Body,
		Tag:   req.Tag,
		Data:  req.Data,
	}
	scheduled, err := h.scheduler.Schedule(c.Request.Context(), mw.UserID(c), n, req.SendAt)
	if err != nil {
		if errors.Is(err, scheduler.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("failed to schedule notification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule notification"})
		return
	}
	c.JSON(http.StatusOK, scheduled)
}

// CancelScheduled cancels an unsent scheduled notification. Already-sent and
// unknown ids succeed as a no-op.
func (h *Handler) CancelScheduled(c *gin.Context) {
	if err := h.scheduler.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.log.Error().Err(err).Msg("failed to cancel scheduled notification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
