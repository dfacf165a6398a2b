package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"push-relay-backend/internal/mw"
)

const defaultUnreadWindow = 24 * time.Hour

// GetUnreadCount returns how many notifications were delivered to the caller
// since the given unix-seconds timestamp (last 24h when omitted).
func (h *Handler) GetUnreadCount(c *gin.Context) {
	since := time.Now().UTC().Add(-defaultUnreadWindow)
	if v := c.Query("since"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a unix timestamp"})
			return
		}
		since = time.Unix(secs, 0).UTC()
	}

	count, err := h.store.UnreadCount(c.Request.Context(), mw.UserID(c), since)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count unread notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}
