package handler

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailagent-go/internal/model"
	"mailagent-go/internal/repository"
)

// ListEmails returns stored emails, newest first
func (h *Handlers) ListEmails(c *gin.Context) {
	var query EmailListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abort(c, http.StatusBadRequest, "validation_error", "Invalid query parameters: "+err.Error())
		return
	}

	emails, err := h.store.ListMessages(c.Request.Context(), model.MessageFilter{
		Status:     query.Status,
		Importance: query.Importance,
		Category:   query.Category,
		Limit:      query.Limit,
		Offset:     query.Offset,
	})
	if err != nil {
		logrus.Errorf("Error listing emails: %v", err)
		abort(c, http.StatusInternalServerError, "database_error", "Failed to fetch emails")
		return
	}

	c.JSON(http.StatusOK, EmailListResponse{Emails: emails, Count: len(emails)})
}

// GetEmail returns a single email
func (h *Handlers) GetEmail(c *gin.Context) {
	msg, err := h.store.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err, "Failed to fetch email")
		return
	}

	c.JSON(http.StatusOK, msg)
}

// UpdateEmail changes the status, labels or enrichment of an email
func (h *Handlers) UpdateEmail(c *gin.Context) {
	var req EmailUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Status != nil && !model.ValidStatus(*req.Status) {
		abort(c, http.StatusBadRequest, "validation_error", "Unknown status: "+*req.Status)
		return
	}
	if req.Importance != nil && !slices.Contains(model.ImportanceLevels, *req.Importance) {
		abort(c, http.StatusBadRequest, "validation_error", "Unknown importance: "+*req.Importance)
		return
	}
	if req.Category != nil && !slices.Contains(model.Categories, *req.Category) {
		abort(c, http.StatusBadRequest, "validation_error", "Unknown category: "+*req.Category)
		return
	}

	msg, err := h.store.UpdateMessage(c.Request.Context(), c.Param("id"), model.MessageUpdate{
		Status:     req.Status,
		Importance: req.Importance,
		Category:   req.Category,
		Labels:     req.Labels,
	})
	if err != nil {
		h.storeError(c, err, "Failed to update email")
		return
	}

	c.JSON(http.StatusOK, msg)
}

// DeleteEmail removes an email and its drafts
func (h *Handlers) DeleteEmail(c *gin.Context) {
	deleted, err := h.store.DeleteMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err, "Failed to delete email")
		return
	}
	if !deleted {
		abort(c, http.StatusNotFound, "not_found", "Email not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email deleted successfully"})
}

// Stats returns message counters
func (h *Handlers) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.storeError(c, err, "Failed to compute stats")
		return
	}
	if h.metrics != nil {
		h.metrics.StoredMessages.Set(float64(stats.Total))
	}

	c.JSON(http.StatusOK, StatsResponse{
		TotalEmails:    stats.Total,
		UnreadEmails:   stats.Unread,
		HighImportance: stats.HighImportance,
		Categories:     stats.Categories,
	})
}

func (h *Handlers) storeError(c *gin.Context, err error, message string) {
	if errors.Is(err, repository.ErrNotFound) {
		abort(c, http.StatusNotFound, "not_found", "Email not found")
		return
	}
	logrus.Errorf("%s: %v", message, err)
	abort(c, http.StatusInternalServerError, "database_error", message)
}
