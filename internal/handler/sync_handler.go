package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailagent-go/internal/provider"
)

const (
	defaultSyncMax  = 50
	defaultDaysBack = 30
)

// Sync runs a recent-mode sync and waits for it
func (h *Handlers) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abort(c, http.StatusBadRequest, "validation_error", "Invalid request body: "+err.Error())
		return
	}
	if req.MaxResults == 0 {
		req.MaxResults = defaultSyncMax
	}

	res, err := h.syncer.SyncRecent(c.Request.Context(), req.MaxResults, classifyOrDefault(req.Classify))
	if err != nil {
		logrus.Errorf("Sync failed: %v", err)
		switch {
		case errors.Is(err, provider.ErrAuth):
			abort(c, http.StatusUnauthorized, "auth_error", err.Error())
		case provider.Throttled(err):
			abort(c, http.StatusTooManyRequests, "rate_limited", err.Error())
		default:
			abort(c, http.StatusInternalServerError, "sync_error", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, newSyncResponse("success", res))
}

// SyncHistorical starts a historical sync in the background
func (h *Handlers) SyncHistorical(c *gin.Context) {
	var req HistoricalSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abort(c, http.StatusBadRequest, "validation_error", "Invalid request body: "+err.Error())
		return
	}
	if req.DaysBack == 0 {
		req.DaysBack = defaultDaysBack
	}
	classify := classifyOrDefault(req.Classify)

	ctx := context.WithoutCancel(c.Request.Context())
	h.background.Go(func() {
		res, err := h.syncer.SyncHistorical(ctx, req.DaysBack, classify)
		if err != nil {
			logrus.Errorf("Historical sync failed: %v", err)
			return
		}
		logrus.Infof("Historical sync complete: %d emails processed", res.Processed)
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "started",
		"message":   "Historical sync running in background",
		"days_back": req.DaysBack,
	})
}

// SyncHistory returns recent sync audit rows
func (h *Handlers) SyncHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			abort(c, http.StatusBadRequest, "validation_error", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	audits, err := h.store.ListSyncAudits(c.Request.Context(), limit)
	if err != nil {
		abort(c, http.StatusInternalServerError, "database_error", "Failed to fetch sync history")
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": audits, "count": len(audits)})
}

func classifyOrDefault(v *bool) bool {
	return v == nil || *v
}
