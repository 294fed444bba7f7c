package live

import (
	"sync"

	"convodb/pkg/store/db"
)

// Subscription is a registered live query. Updates are coalesced: a slow
// reader only ever sees the most recent result.
type Subscription struct {
	id      uint64
	engine  *Engine
	query   QueryFunc
	refresh bool
	out     chan Update
	done    chan struct{}

	mu      sync.Mutex
	reads   *db.ReadSet
	seq     uint64
	queued  bool
	running bool
	dirty   bool
	closed  bool

	// owned by the evaluating worker
	hasResult bool
	lastHash  uint64
}

func (s *Subscription) ID() uint64 { return s.id }

// Updates delivers results; it is never closed, select on Done as well.
func (s *Subscription) Updates() <-chan Update { return s.out }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	s.engine.remove(s.id)
}

func (s *Subscription) affectedBy(c db.Commit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.reads == nil || c.Seq <= s.seq {
		return false
	}
	return s.reads.Overlaps(c.Keys)
}

func (s *Subscription) deliver(u Update) {
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- u:
		deliveriesTotal.Inc()
	default:
	}
}
