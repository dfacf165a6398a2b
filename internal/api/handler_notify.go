package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"push-relay-backend/internal/model"
	"push-relay-backend/internal/mw"
	"push-relay-backend/internal/prefs"
	"push-relay-backend/internal/push"
)

type testNotificationRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SendTestNotification dispatches a test notification to the caller's own
// devices, through the same gates as any other notification.
func (h *Handler) SendTestNotification(c *gin.Context) {
	var req testNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Title == "" {
		req.Title = "Test notification"
	}
	if req.Body == "" {
		req.Body = "Push notifications are working."
	}

	n := &model.Notification{
		Type:  prefs.CategoryUpdate,
		Title: req.Title,
		Body:  req.Body,
		Tag:   "test-notification",
	}
	result, err := h.dispatcher.Send(c.Request.Context(), mw.UserID(c), n, push.SendOptions{})
	if err != nil {
		h.log.Error().Err(err).Msg("test notification dispatch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
