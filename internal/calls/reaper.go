package calls

import (
	"context"
	"errors"
	"time"

	"softphone-queue/pkg/logger"
)

// Reaper deletes terminal rows once they are older than Retention.
// Until then the row acts as a tombstone so late webhook redeliveries cannot requeue a finished call.
type Reaper struct {
	Store     Store
	Retention time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

// Sweep removes eligible rows once and returns how many were deleted.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r.Store == nil {
		return 0, errors.New("calls: reaper store not configured")
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	rows, err := r.Store.ListTerminal(ctx, now().Add(-r.Retention))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range rows {
		if err := r.Store.Remove(ctx, e.CallID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Run sweeps on Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	log := logger.From(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				log.Error("reaper sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("reaped terminal calls", "count", n)
			}
		}
	}
}
