// Package syncer pulls messages from the mail provider, enriches the new ones
// and stores them, recording one audit row per run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailagent-go/internal/config"
	"mailagent-go/internal/enrich"
	"mailagent-go/internal/mailparse"
	"mailagent-go/internal/metrics"
	"mailagent-go/internal/model"
	"mailagent-go/internal/provider"
	"mailagent-go/internal/repository"
)

// Sync modes recorded on the audit row.
const (
	ModeRecent     = "recent"
	ModeHistorical = "historical"
)

// Enricher derives importance, category and summary for a message.
type Enricher interface {
	Enrich(ctx context.Context, msg *model.Message) enrich.Result
}

// Store is the part of the repository the sync loop writes to.
type Store interface {
	MessageExists(ctx context.Context, id string) (bool, error)
	CreateMessage(ctx context.Context, msg *model.Message) error
	AppendSyncAudit(ctx context.Context, audit *model.SyncAudit) error
}

// Result summarizes one sync run.
type Result struct {
	RunID     string        `json:"run_id"`
	Mode      string        `json:"mode"`
	Fetched   int           `json:"fetched"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errors    []string      `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

// Service runs sync cycles against one provider.
type Service struct {
	provider provider.Provider
	store    Store
	enricher Enricher
	cfg      config.SyncConfig
	metrics  *metrics.Metrics
	throttle *throttle
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSleep replaces the sleep used for pacing and cooldowns.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// WithClock replaces the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a sync service. enricher may be nil, in which case runs
// store messages without enrichment.
func NewService(p provider.Provider, store Store, enricher Enricher, cfg config.SyncConfig, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		provider: p,
		store:    store,
		enricher: enricher,
		cfg:      cfg,
		metrics:  m,
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.throttle = &throttle{minDelay: cfg.RateLimitDelay, now: s.now, sleep: s.sleep}
	return s
}

type plan struct {
	mode     string
	query    provider.Query
	pageSize int
	limit    int
	paged    bool
	cooldown time.Duration
	classify bool
}

// SyncRecent fetches up to maxResults unread messages in a single page.
func (s *Service) SyncRecent(ctx context.Context, maxResults int, classify bool) (*Result, error) {
	if maxResults <= 0 {
		maxResults = s.cfg.MaxEmailsPerSync
	}
	return s.run(ctx, plan{
		mode:     ModeRecent,
		query:    provider.Query{UnreadOnly: true},
		pageSize: maxResults,
		limit:    maxResults,
		cooldown: s.cfg.RecentCooldown,
		classify: classify,
	})
}

// SyncHistorical pages through every message received in the last daysBack days.
func (s *Service) SyncHistorical(ctx context.Context, daysBack int, classify bool) (*Result, error) {
	if daysBack <= 0 {
		return nil, fmt.Errorf("days back must be positive, got %d", daysBack)
	}
	pageSize := s.cfg.HistoricalBatchSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return s.run(ctx, plan{
		mode:     ModeHistorical,
		query:    provider.Query{After: s.now().AddDate(0, 0, -daysBack)},
		pageSize: pageSize,
		paged:    true,
		cooldown: s.cfg.HistoricalCooldown,
		classify: classify,
	})
}

func (s *Service) run(ctx context.Context, p plan) (*Result, error) {
	start := s.now()
	res := &Result{RunID: uuid.NewString(), Mode: p.mode, Errors: []string{}}

	logrus.WithFields(logrus.Fields{"run_id": res.RunID, "mode": p.mode}).Info("Starting sync cycle")

	err := s.execute(ctx, p, res)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	res.Duration = s.now().Sub(start)

	audit := &model.SyncAudit{
		RunID:           res.RunID,
		Mode:            p.mode,
		SyncDate:        start,
		EmailsFetched:   res.Fetched,
		EmailsProcessed: res.Processed,
		Errors:          res.Errors,
		DurationSeconds: res.Duration.Seconds(),
	}
	if auditErr := s.store.AppendSyncAudit(context.WithoutCancel(ctx), audit); auditErr != nil {
		logrus.Errorf("Failed to record sync audit %s: %v", res.RunID, auditErr)
		err = errors.Join(err, fmt.Errorf("failed to record sync audit: %w", auditErr))
	}

	s.observe(p.mode, res, err)

	logrus.WithFields(logrus.Fields{
		"run_id":    res.RunID,
		"fetched":   res.Fetched,
		"processed": res.Processed,
		"skipped":   res.Skipped,
		"errors":    len(res.Errors),
		"duration":  res.Duration,
	}).Info("Sync cycle completed")

	return res, err
}

func (s *Service) execute(ctx context.Context, p plan, res *Result) error {
	if err := s.call(ctx, p.cooldown, func() error { return s.provider.Authenticate(ctx) }); err != nil {
		return fmt.Errorf("failed to authenticate with mail provider: %w", err)
	}

	token := ""
	for {
		var ids []string
		var next string
		err := s.call(ctx, p.cooldown, func() error {
			var err error
			ids, next, err = s.provider.ListMessageIDs(ctx, p.query, p.pageSize, token)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		if p.limit > 0 && len(ids) > p.limit {
			ids = ids[:p.limit]
		}

		logrus.Debugf("Listed %d message IDs (mode %s)", len(ids), p.mode)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.processMessage(ctx, id, p, res); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("message %s: %v", id, err))
				if s.metrics != nil {
					s.metrics.MessageErrors.Inc()
				}
				logrus.Errorf("Failed to sync message %s: %v", id, err)
			}
		}

		if !p.paged || next == "" {
			return nil
		}
		token = next
	}
}

func (s *Service) processMessage(ctx context.Context, id string, p plan, res *Result) error {
	var raw *provider.RawMessage
	err := s.call(ctx, p.cooldown, func() error {
		var err error
		raw, err = s.provider.FetchMessage(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	res.Fetched++
	if s.metrics != nil {
		s.metrics.MessagesFetched.Inc()
	}

	msg, err := mailparse.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse: %w", err)
	}

	exists, err := s.store.MessageExists(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to check existing message: %w", err)
	}
	if exists {
		s.skip(res, msg.ID)
		return nil
	}

	if p.classify && s.enricher != nil {
		enriched := s.enricher.Enrich(ctx, msg)
		msg.Importance = &enriched.Importance
		msg.Category = &enriched.Category
		msg.AISummary = enriched.Summary
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			s.skip(res, msg.ID)
			return nil
		}
		return fmt.Errorf("failed to store: %w", err)
	}

	res.Processed++
	if s.metrics != nil {
		s.metrics.MessagesProcessed.Inc()
	}
	return nil
}

func (s *Service) skip(res *Result, id string) {
	res.Skipped++
	if s.metrics != nil {
		s.metrics.MessagesSkipped.Inc()
	}
	logrus.Debugf("Message %s already stored, skipping", id)
}

// call runs fn through the throttle and retries it after a cooldown while the
// provider reports throttling.
func (s *Service) call(ctx context.Context, cooldown time.Duration, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := s.throttle.do(ctx, fn)
		if err == nil || !provider.Throttled(err) || attempt >= s.cfg.MaxRateLimitRetries {
			return err
		}

		logrus.Warnf("Mail provider throttled (%v), cooling down for %v", err, cooldown)
		if err := s.sleep(ctx, cooldown); err != nil {
			return err
		}
	}
}

func (s *Service) observe(mode string, res *Result, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "failure"
	case len(res.Errors) > 0:
		outcome = "partial"
	}
	s.metrics.SyncRuns.WithLabelValues(mode, outcome).Inc()
	s.metrics.SyncDuration.Observe(res.Duration.Seconds())
}
