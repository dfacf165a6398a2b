package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"push-relay-backend/internal/mw"
	"push-relay-backend/internal/prefs"
)

// GetPreferences returns the caller's preferences merged over defaults.
func (h *Handler) GetPreferences(c *gin.Context) {
	pref, err := h.prefs.Get(c.Request.Context(), mw.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load preferences")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load preferences"})
		return
	}
	c.JSON(http.StatusOK, pref)
}

// PutPreferences applies a partial preference update and returns the merged
// object.
func (h *Handler) PutPreferences(c *gin.Context) {
	var patch prefs.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !patch.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quiet hours window out of range"})
		return
	}

	pref, err := h.prefs.Save(c.Request.Context(), mw.UserID(c), patch)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to save preferences")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save preferences"})
		return
	}
	c.JSON(http.StatusOK, pref)
}
