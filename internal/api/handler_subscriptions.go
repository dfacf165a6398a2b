package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"push-relay-backend/internal/mw"
	"push-relay-backend/internal/registry"
)

type subscribeRequest struct {
	Endpoint  string        `json:"endpoint" binding:"required"`
	Keys      registry.Keys `json:"keys" binding:"required"`
	UserAgent string        `json:"userAgent"`
	Platform  string        `json:"platform"`
}

// Subscribe registers the caller's push endpoint. Idempotent on endpoint.
func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.registry.Register(c.Request.Context(), mw.UserID(c), req.Endpoint, req.Keys, registry.Metadata{
		UserAgent: req.UserAgent,
		Platform:  req.Platform,
	})
	if err != nil {
		if errors.Is(err, registry.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("subscription registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save subscription"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Unsubscribe removes all of the caller's subscriptions. Removing an unknown
// user is still a success.
func (h *Handler) Unsubscribe(c *gin.Context) {
	if err := h.registry.Unregister(c.Request.Context(), mw.UserID(c), ""); err != nil {
		h.log.Error().Err(err).Msg("unsubscribe failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove subscriptions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
