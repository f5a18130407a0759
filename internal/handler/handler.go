package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	schedulerHandler "mailagent-go/internal/handler/scheduler"
	"mailagent-go/internal/metrics"
	"mailagent-go/internal/model"
	"mailagent-go/internal/provider"
	"mailagent-go/internal/reply"
	"mailagent-go/internal/repository"
	"mailagent-go/internal/scheduler"
	"mailagent-go/internal/syncer"
)

// Syncer runs sync cycles.
type Syncer interface {
	SyncRecent(ctx context.Context, maxResults int, classify bool) (*syncer.Result, error)
	SyncHistorical(ctx context.Context, daysBack int, classify bool) (*syncer.Result, error)
}

// Replier manages reply drafts.
type Replier interface {
	GetOrGenerate(ctx context.Context, messageID string) ([]model.ReplyDraft, error)
	Invalidate(ctx context.Context, messageID string) (int64, error)
	Regenerate(ctx context.Context, messageID string) ([]model.ReplyDraft, error)
	MarkSent(ctx context.Context, draftID uint) (bool, error)
	Improve(ctx context.Context, email reply.EmailContext, draft, feedback string) string
}

// Prober checks that the inference endpoint answers.
type Prober interface {
	VerifyConnection(ctx context.Context) (string, error)
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Store     repository.Store
	Provider  provider.Provider
	Syncer    Syncer
	Replies   Replier
	LLM       Prober
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store      repository.Store
	provider   provider.Provider
	syncer     Syncer
	replies    Replier
	llm        Prober
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	background conc.WaitGroup
}

// NewHandlers creates new HTTP handlers
func NewHandlers(d Deps) *Handlers {
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		store:     d.Store,
		provider:  d.Provider,
		syncer:    d.Syncer,
		replies:   d.Replies,
		llm:       d.LLM,
		scheduler: d.Scheduler,
		metrics:   d.Metrics,
		gatherer:  gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/", h.Root)
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/status", h.Status)

		api.POST("/sync", h.Sync)
		api.POST("/sync/historical", h.SyncHistorical)
		api.GET("/sync/history", h.SyncHistory)

		api.GET("/emails", h.ListEmails)
		api.GET("/emails/:id", h.GetEmail)
		api.PATCH("/emails/:id", h.UpdateEmail)
		api.DELETE("/emails/:id", h.DeleteEmail)

		api.GET("/emails/:id/responses", h.GetResponses)
		api.DELETE("/emails/:id/responses", h.InvalidateResponses)
		api.POST("/emails/:id/responses/regenerate", h.RegenerateResponses)
		api.POST("/emails/:id/send", h.SendReply)
		api.POST("/emails/:id/improve", h.ImproveDraft)

		api.GET("/stats", h.Stats)

		api.GET("/preferences/:key", h.GetPreference)
		api.POST("/preferences/:key", h.SetPreference)

		if h.scheduler != nil {
			api.POST("/scheduler/start", schedulerHandler.Start(h.scheduler))
			api.POST("/scheduler/stop", schedulerHandler.Stop(h.scheduler))
			api.POST("/scheduler/run-once", schedulerHandler.RunOnce(h.scheduler))
			api.GET("/scheduler/status", schedulerHandler.Status(h.scheduler))
		}
	}
}

// Wait blocks until background jobs started by the handlers have finished.
func (h *Handlers) Wait() {
	h.background.Wait()
}

// Root returns the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "MailAgent API", "version": "1.0.0"})
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler != nil && h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// Status probes the mail provider and the inference endpoint
func (h *Handlers) Status(c *gin.Context) {
	ctx := c.Request.Context()
	response := StatusResponse{}
	var problems []string

	if h.provider == nil {
		problems = append(problems, "mail provider not configured")
	} else if err := h.provider.Authenticate(ctx); err != nil {
		problems = append(problems, "Gmail error: "+err.Error())
		logrus.Warnf("Mail provider check failed: %v", err)
	} else {
		response.GmailConnected = true
	}

	if modelName, err := h.llm.VerifyConnection(ctx); err != nil {
		problems = append(problems, "LLM connection error: "+err.Error())
		logrus.Warnf("LLM check failed: %v", err)
	} else {
		response.LLMConnected = true
		response.Model = &modelName
	}

	switch {
	case response.GmailConnected && response.LLMConnected:
		response.Status = "ok"
	case response.GmailConnected || response.LLMConnected:
		response.Status = "degraded"
	default:
		response.Status = "error"
	}
	if len(problems) > 0 {
		response.Error = &problems[0]
	}

	c.JSON(http.StatusOK, response)
}

func abort(c *gin.Context, code int, kind, message string) {
	c.JSON(code, ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    code,
	})
}
