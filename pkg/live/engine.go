package live

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"convodb/pkg/state/logger"
	"convodb/pkg/store/db"

	"github.com/cespare/xxhash/v2"
	"github.com/valyala/bytebufferpool"
)

var (
	ErrClosed               = errors.New("live engine closed")
	ErrTooManySubscriptions = errors.New("subscription limit reached")
)

// QueryFunc computes a result from a read-only transaction. Every key it
// reads becomes a dependency of the subscription.
type QueryFunc func(txn *db.Txn) (any, error)

// Update is one delivered result.
type Update struct {
	Data any
	Err  error
	// Seq is the store commit the result reflects.
	Seq uint64
}

type Options struct {
	Workers int
	// RefreshInterval re-runs subscriptions opened with Refresh, for results
	// that depend on the clock as well as the store.
	RefreshInterval  time.Duration
	MaxSubscriptions int
}

type Engine struct {
	store *db.DB
	opts  Options

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	pendMu  sync.Mutex
	pending []*Subscription
	signal  chan struct{}

	stop       chan struct{}
	wg         sync.WaitGroup
	cancelHook func()
}

func New(store *db.DB, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 15 * time.Second
	}
	e := &Engine{
		store:  store,
		opts:   opts,
		subs:   make(map[uint64]*Subscription),
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	e.cancelHook = store.OnCommit(e.onCommit)
	for i := 0; i < opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.wg.Add(1)
	go e.refresher()
	return e
}

// Run evaluates q once without subscribing.
func (e *Engine) Run(q QueryFunc) (any, error) {
	var out any
	err := e.store.View(func(txn *db.Txn) error {
		v, err := q(txn)
		out = v
		return err
	})
	return out, err
}

type SubscribeOption func(*Subscription)

// WithRefresh marks the subscription as clock dependent.
func WithRefresh() SubscribeOption {
	return func(s *Subscription) { s.refresh = true }
}

// Subscribe registers q and schedules its first evaluation.
func (e *Engine) Subscribe(q QueryFunc, opts ...SubscribeOption) (*Subscription, error) {
	s := &Subscription{
		engine: e,
		query:  q,
		out:    make(chan Update, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.opts.MaxSubscriptions > 0 && len(e.subs) >= e.opts.MaxSubscriptions {
		e.mu.Unlock()
		return nil, ErrTooManySubscriptions
	}
	e.nextID++
	s.id = e.nextID
	e.subs[s.id] = s
	e.mu.Unlock()
	subscriptionsGauge.Inc()

	e.schedule(s)
	return s, nil
}

// Len returns the number of open subscriptions.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	e.cancelHook()
	close(e.stop)
	e.wg.Wait()
	for _, s := range subs {
		s.Close()
	}
}

// onCommit runs under the store commit lock and only marks subscriptions.
func (e *Engine) onCommit(c db.Commit) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.subs {
		if s.affectedBy(c) {
			e.schedule(s)
		}
	}
}

func (e *Engine) remove(id uint64) {
	e.mu.Lock()
	_, ok := e.subs[id]
	delete(e.subs, id)
	e.mu.Unlock()
	if ok {
		subscriptionsGauge.Dec()
	}
}

func (e *Engine) schedule(s *Subscription) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	if s.queued {
		s.mu.Unlock()
		return
	}
	s.queued = true
	s.mu.Unlock()
	e.push(s)
}

func (e *Engine) push(s *Subscription) {
	e.pendMu.Lock()
	e.pending = append(e.pending, s)
	e.pendMu.Unlock()
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Engine) pop() *Subscription {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	if len(e.pending) == 0 {
		return nil
	}
	s := e.pending[0]
	e.pending[0] = nil
	e.pending = e.pending[1:]
	if len(e.pending) > 0 {
		select {
		case e.signal <- struct{}{}:
		default:
		}
	}
	return s
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-e.signal:
		}
		for {
			s := e.pop()
			if s == nil {
				break
			}
			e.evaluate(s)
		}
	}
}

func (e *Engine) refresher() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.RLock()
			for _, s := range e.subs {
				if s.refresh {
					e.schedule(s)
				}
			}
			e.mu.RUnlock()
		}
	}
}

func (e *Engine) evaluate(s *Subscription) {
	s.mu.Lock()
	if s.closed {
		s.queued = false
		s.mu.Unlock()
		return
	}
	s.queued = false
	s.running = true
	s.dirty = false
	s.mu.Unlock()

	recomputesTotal.Inc()
	txn, err := e.store.BeginView()
	if err != nil {
		// store closed underneath the engine
		logger.Debug("live_snapshot_failed", "sub", s.id, "error", err)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return
	}
	data, err := s.query(txn)
	reads, seq := txn.ReadSet(), txn.Seq()
	txn.Discard()

	s.mu.Lock()
	s.reads = reads
	s.seq = seq
	s.mu.Unlock()

	// commits that landed between the snapshot and installing reads
	stale := e.store.ChangedSince(seq, reads)

	if err != nil {
		queryErrorsTotal.Inc()
		logger.Debug("live_query_failed", "sub", s.id, "error", err)
		s.hasResult = false
		s.deliver(Update{Err: err, Seq: seq})
	} else if h, herr := hashResult(data); herr != nil {
		logger.Error("live_result_hash_failed", "sub", s.id, "error", herr)
		s.deliver(Update{Data: data, Seq: seq})
	} else if !s.hasResult || h != s.lastHash {
		s.hasResult = true
		s.lastHash = h
		s.deliver(Update{Data: data, Seq: seq})
	}

	s.mu.Lock()
	s.running = false
	again := (s.dirty || stale) && !s.closed
	if again {
		s.queued = true
	}
	s.mu.Unlock()
	if again {
		e.push(s)
	}
}

func hashResult(v any) (uint64, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return 0, err
	}
	return xxhash.Sum64(buf.B), nil
}
