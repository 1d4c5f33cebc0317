// Package cleanup runs the periodic expiry sweep (spec.md §4.1
// clean_expired, recommended every 10s) and the opportunistic subscription
// prune, on either a fixed ticker or a cron schedule.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// Store is the subset of MessageStore the scheduler drives.
type Store interface {
	CleanExpired(nowMs int64) (int, error)
}

// Subscriptions is the subset of MonitorRegistry the scheduler drives.
type Subscriptions interface {
	UnsubscribeExpired(nowMs int64)
}

// DefaultPeriod matches the "recommended every 10s" interval from the
// component design.
const DefaultPeriod = 10 * time.Second

// Options configures the scheduler. Cron, if set and valid, takes
// precedence over Period.
type Options struct {
	Cron   string
	Period time.Duration
}

// Scheduler periodically invokes CleanExpired and UnsubscribeExpired.
type Scheduler struct {
	store Store
	subs  Subscriptions
	log   *zap.Logger
	opts  Options
}

// New constructs a Scheduler. subs may be nil if no monitor registry
// needs pruning (e.g. in storage-only test harnesses).
func New(store Store, subs Subscriptions, log *zap.Logger, opts Options) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Cron != "" && !gronx.IsValid(opts.Cron) {
		return nil, fmt.Errorf("cleanup: invalid cron expression %q", opts.Cron)
	}
	return &Scheduler{store: store, subs: subs, log: log, opts: opts}, nil
}

// Run blocks, sweeping on the configured schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.opts.Cron != "" {
		s.runCron(ctx)
		return
	}
	s.runTicker(ctx)
}

func (s *Scheduler) runTicker(ctx context.Context) {
	t := time.NewTicker(s.opts.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.opts.Cron, now, false)
		if err != nil {
			s.log.Error("cleanup_nexttick_failed", zap.String("cron", s.opts.Cron), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-time.After(time.Until(next)):
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) sweep() {
	nowMs := time.Now().UnixMilli()
	deleted, err := s.store.CleanExpired(nowMs)
	if err != nil {
		s.log.Error("clean_expired_failed", zap.Error(err))
	} else if deleted > 0 {
		s.log.Debug("clean_expired", zap.Int("deleted", deleted))
	}
	if s.subs != nil {
		s.subs.UnsubscribeExpired(nowMs)
	}
}
