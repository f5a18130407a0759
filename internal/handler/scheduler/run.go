package scheduler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	schedulerSvc "mailagent-go/internal/scheduler"
)

// RunOnce runs one sync cycle and reports its outcome
func RunOnce(s *schedulerSvc.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.RunOnce(c.Request.Context())
		if errors.Is(err, schedulerSvc.ErrSyncInProgress) {
			fail(c, http.StatusConflict, "sync_in_progress", "A sync cycle is already running")
			return
		}
		if err != nil {
			fail(c, http.StatusInternalServerError, "scheduler_error", "Failed to run sync: "+err.Error())
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":   "Sync completed successfully",
			"run_id":    res.RunID,
			"fetched":   res.Fetched,
			"processed": res.Processed,
			"errors":    res.Errors,
		})
	}
}
