package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetPreference returns a stored preference, or the default query value
func (h *Handlers) GetPreference(c *gin.Context) {
	key := c.Param("key")
	value, err := h.store.GetPreference(c.Request.Context(), key, c.Query("default"))
	if err != nil {
		abort(c, http.StatusInternalServerError, "database_error", "Failed to fetch preference")
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

// SetPreference stores a preference. The value comes from the JSON body or the
// value query parameter.
func (h *Handlers) SetPreference(c *gin.Context) {
	var req PreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abort(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Value == "" {
		req.Value = c.Query("value")
	}

	key := c.Param("key")
	if err := h.store.SetPreference(c.Request.Context(), key, req.Value); err != nil {
		abort(c, http.StatusInternalServerError, "database_error", "Failed to save preference")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "saved", "key": key, "value": req.Value})
}
