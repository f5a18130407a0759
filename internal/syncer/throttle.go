package syncer

import (
	"context"
	"sync"
	"time"
)

// throttle spaces provider calls so that at least minDelay passes between the
// end of one call and the start of the next.
type throttle struct {
	mu       sync.Mutex
	minDelay time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func (t *throttle) do(ctx context.Context, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() {
		if wait := t.minDelay - t.now().Sub(t.last); wait > 0 {
			if err := t.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	err := fn()
	t.last = t.now()
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
