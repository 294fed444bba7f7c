package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"convodb/pkg/state/logger"
	"convodb/pkg/timeutil"
)

// Target clears stale online flags and reports how many it cleared.
type Target interface {
	SweepPresence(ctx context.Context) (int, error)
}

// Sweeper runs a presence sweep on a cron schedule. Online status is
// already derived from last-seen at read time; the sweep keeps the stored
// flag honest for consumers reading raw records.
type Sweeper struct {
	target Target
	cron   string
	clock  timeutil.Clock
	after  func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(target Target, cron string, clock timeutil.Clock) (*Sweeper, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("invalid sweep cron %q", cron)
	}
	if clock == nil {
		clock = timeutil.System
	}
	return &Sweeper{target: target, cron: cron, clock: clock, after: time.After}, nil
}

// Start launches the schedule loop; Stop ends it.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	logger.Info("presence_sweep_enabled", "cron", s.cron)
	go s.loop(ctx)
}

func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	for {
		now := s.clock.Now()
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err != nil {
			logger.Error("presence_sweep_nexttick_failed", "cron", s.cron, "error", err)
			select {
			case <-s.after(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-s.after(next.Sub(now)):
			s.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one sweep unless one is already in progress.
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	n, err := s.target.SweepPresence(ctx)
	if err != nil {
		logger.Error("presence_sweep_failed", "error", err)
		return 0, err
	}
	if n > 0 {
		logger.Info("presence_sweep_done", "cleared", n)
	}
	return n, nil
}
