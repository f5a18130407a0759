package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mailagent-go/internal/config"
	"mailagent-go/internal/syncer"
)

// ErrSyncInProgress is returned by RunOnce while another cycle is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Syncer runs one bounded sync cycle.
type Syncer interface {
	SyncRecent(ctx context.Context, maxResults int, classify bool) (*syncer.Result, error)
}

// Scheduler manages the periodic sync
type Scheduler struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	config     *config.SchedulerConfig
	maxEmails  int
	syncer     Syncer
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	inFlight   atomic.Bool
	resultMu   sync.Mutex
	lastResult *syncer.Result
	lastErr    error
	mu         sync.RWMutex

	stopTimeout time.Duration
}

// New creates a new scheduler. Each tick syncs up to maxEmails unread messages.
func New(cfg *config.SchedulerConfig, maxEmails int, s Syncer) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:      cron.New(),
		config:    cfg,
		maxEmails: maxEmails,
		syncer:    s,
		ctx:       ctx,
		cancel:    cancel,

		stopTimeout: 30 * time.Second,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.IntervalMinutes <= 0 {
		return fmt.Errorf("invalid scheduler interval: %d minutes", s.config.IntervalMinutes)
	}

	// A stopped cron cannot be reused safely and its context is already cancelled.
	s.cron = cron.New()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	schedule := fmt.Sprintf("@every %dm", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler and waits for a running cycle to finish. A cycle
// still running after the stop timeout has its context cancelled.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.isRunning = false
	s.mu.Unlock()
	defer cancel()

	cronDone := c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(s.stopTimeout):
		logrus.Warn("Scheduler stop timeout, cancelling running sync")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) tick() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping sync cycle")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.run(ctx); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			logrus.Info("Previous sync still running, skipping this tick")
			return
		}
		logrus.Errorf("Scheduled sync failed: %v", err)
	}
}

// RunOnce runs one sync cycle immediately and waits for it to finish.
func (s *Scheduler) RunOnce(ctx context.Context) (*syncer.Result, error) {
	logrus.Info("Running sync once")
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (*syncer.Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	s.wg.Add(1)
	defer s.wg.Done()

	res, err := s.syncer.SyncRecent(ctx, s.maxEmails, true)

	s.resultMu.Lock()
	s.lastResult, s.lastErr = res, err
	s.resultMu.Unlock()

	return res, err
}

// LastResult returns the outcome of the most recent cycle, if any.
func (s *Scheduler) LastResult() (*syncer.Result, error) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	return s.lastResult, s.lastErr
}

// IntervalMinutes returns the configured tick interval.
func (s *Scheduler) IntervalMinutes() int {
	return s.config.IntervalMinutes
}

// InProgress reports whether a cycle is currently running.
func (s *Scheduler) InProgress() bool {
	return s.inFlight.Load()
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}

	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}

	return s.cron.Entry(s.entryID).Prev
}

// Wait waits for any running cycle to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
