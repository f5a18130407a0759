package scheduler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	schedulerSvc "mailagent-go/internal/scheduler"
)

// Start enables the periodic recent-mail sync. A second start is a conflict.
func Start(s *schedulerSvc.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Start(); err != nil {
			fail(c, http.StatusConflict, "scheduler_error", "Failed to start scheduler: "+err.Error())
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":           "running",
			"interval_minutes": s.IntervalMinutes(),
			"next_sync":        s.GetNextRun().Format(time.RFC3339),
		})
	}
}

// Stop disables the periodic sync once a running cycle has finished.
func Stop(s *schedulerSvc.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Stop(); err != nil {
			fail(c, http.StatusInternalServerError, "scheduler_error", "Failed to stop scheduler: "+err.Error())
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":         "stopped",
			"sync_in_flight": s.InProgress(),
		})
	}
}
