package scheduler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	schedulerSvc "mailagent-go/internal/scheduler"
)

// Status returns the current scheduler status
func Status(s *schedulerSvc.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := "stopped"
		if s.IsRunning() {
			state = "running"
		}

		body := gin.H{
			"status":      state,
			"in_progress": s.InProgress(),
			"next_run":    s.GetNextRun(),
			"last_run":    s.GetLastRun(),
		}
		if res, err := s.LastResult(); res != nil {
			last := gin.H{
				"run_id":    res.RunID,
				"fetched":   res.Fetched,
				"processed": res.Processed,
				"errors":    len(res.Errors),
			}
			if err != nil {
				last["error"] = err.Error()
			}
			body["last_result"] = last
		}

		c.JSON(http.StatusOK, body)
	}
}
