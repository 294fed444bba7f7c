package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"convodb/pkg/state/logger"
	"convodb/pkg/store/keys"
	"convodb/pkg/telemetry"

	"github.com/cockroachdb/pebble"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrConflict = errors.New("transaction conflict")
	ErrReadOnly = errors.New("read-only transaction")
	ErrClosed   = errors.New("store closed")
)

const (
	DefaultMaxRetries  = 16
	DefaultHistorySize = 4096
)

type Options struct {
	Path       string
	DisableWAL bool
	Sync       bool
	ReadOnly   bool
	// MaxRetries bounds Update attempts on conflict.
	MaxRetries int
	// HistorySize is the number of recent commits kept for validation.
	// Transactions older than the window are treated as conflicting.
	HistorySize int
}

// Commit describes one applied write transaction.
type Commit struct {
	Seq  uint64
	Keys []string
}

type DB struct {
	pdb       *pebble.DB
	opts      Options
	writeOpts *pebble.WriteOptions

	// mu serializes validation, apply and history append.
	mu      sync.Mutex
	seq     atomic.Uint64
	history []Commit

	lmu       sync.RWMutex
	listeners map[int]func(Commit)
	nextLID   int

	// gate is held shared for as long as a pebble handle is in use and
	// exclusively by Close.
	gate   sync.RWMutex
	closed bool
}

// Open opens or creates the pebble store at opts.Path.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	popts := &pebble.Options{
		DisableWAL: opts.DisableWAL,
		ReadOnly:   opts.ReadOnly,
	}
	if opts.DisableWAL {
		logger.Warn("durability_disabled", "durability", "pebble WAL disabled")
	}
	pdb, err := pebble.Open(opts.Path, popts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", opts.Path, "error", err)
		return nil, fmt.Errorf("open store: %w", err)
	}
	d := &DB{
		pdb:       pdb,
		opts:      opts,
		writeOpts: pebble.NoSync,
		listeners: make(map[int]func(Commit)),
	}
	if opts.Sync {
		d.writeOpts = pebble.Sync
	}
	if !opts.ReadOnly {
		if err := d.ensureVersion(); err != nil {
			_ = pdb.Close()
			return nil, err
		}
	}
	return d, nil
}

const schemaVersion = "1"

func (d *DB) ensureVersion() error {
	v, closer, err := d.pdb.Get([]byte(keys.SystemVersionKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return d.pdb.Set([]byte(keys.SystemVersionKey), []byte(schemaVersion), pebble.Sync)
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	defer closer.Close()
	if string(v) != schemaVersion {
		return fmt.Errorf("unsupported schema version %q", string(v))
	}
	return nil
}

// Close waits for open transactions to be discarded, then closes pebble.
// Calls after the first return nil; later operations return ErrClosed.
func (d *DB) Close() error {
	d.gate.Lock()
	defer d.gate.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.lmu.Lock()
	d.listeners = map[int]func(Commit){}
	d.lmu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pdb.Close()
}

// acquire takes the gate shared; release must follow unless it failed.
func (d *DB) acquire() error {
	d.gate.RLock()
	if d.closed {
		d.gate.RUnlock()
		return ErrClosed
	}
	return nil
}

func (d *DB) release() { d.gate.RUnlock() }

func (d *DB) Path() string { return d.opts.Path }

// Seq returns the sequence number of the last applied commit.
func (d *DB) Seq() uint64 { return d.seq.Load() }

// OnCommit registers fn to run after every commit, in commit order. fn runs
// while the commit lock is held and must not block or write to the store.
func (d *DB) OnCommit(fn func(Commit)) (cancel func()) {
	d.lmu.Lock()
	id := d.nextLID
	d.nextLID++
	d.listeners[id] = fn
	d.lmu.Unlock()
	return func() {
		d.lmu.Lock()
		delete(d.listeners, id)
		d.lmu.Unlock()
	}
}

// Begin starts a read-write transaction over an indexed batch. The store
// cannot close until the transaction is committed or discarded.
func (d *DB) Begin() (*Txn, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	seq := d.seq.Load()
	b := d.pdb.NewIndexedBatch()
	return &Txn{
		db:       d,
		r:        b,
		batch:    b,
		startSeq: seq,
		reads:    NewReadSet(),
		writes:   make(map[string]struct{}),
	}, nil
}

// BeginView starts a read-only transaction over a snapshot taken at Seq.
func (d *DB) BeginView() (*Txn, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	snap := d.pdb.NewSnapshot()
	seq := d.seq.Load()
	d.mu.Unlock()
	return &Txn{
		db:       d,
		r:        snap,
		snap:     snap,
		startSeq: seq,
		reads:    NewReadSet(),
		readOnly: true,
	}, nil
}

// View runs fn in a read-only transaction. fn must not start another
// transaction.
func (d *DB) View(fn func(*Txn) error) error {
	txn, err := d.BeginView()
	if err != nil {
		return err
	}
	defer txn.Discard()
	return fn(txn)
}

// Update runs fn in a read-write transaction, retrying on conflict. fn may
// run more than once and must not have side effects outside the txn.
func (d *DB) Update(ctx context.Context, fn func(*Txn) error) error {
	tr := telemetry.Track("db.update")
	defer tr.Finish()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn, err := d.Begin()
		if err != nil {
			return err
		}
		if err := fn(txn); err != nil {
			txn.Discard()
			return err
		}
		tr.Mark("apply")
		err = txn.Commit()
		tr.Mark("commit")
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= d.opts.MaxRetries {
			retriesExhaustedTotal.Inc()
			logger.Warn("txn_retries_exhausted", "attempts", attempt)
			return fmt.Errorf("update after %d attempts: %w", attempt, err)
		}
		logger.Debug("txn_conflict_retry", "attempt", attempt)
		backoff := time.Duration(attempt) * 50 * time.Microsecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// ChangedSince reports whether a commit after seq wrote a key covered by rs.
func (d *DB) ChangedSince(seq uint64, rs *ReadSet) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changedSinceLocked(seq, rs)
}

func (d *DB) changedSinceLocked(since uint64, rs *ReadSet) bool {
	if since >= d.seq.Load() {
		return false
	}
	if len(d.history) == 0 || d.history[0].Seq > since+1 {
		// window no longer reaches back to since
		return true
	}
	for i := len(d.history) - 1; i >= 0; i-- {
		c := d.history[i]
		if c.Seq <= since {
			break
		}
		if rs.Overlaps(c.Keys) {
			return true
		}
	}
	return false
}

func (d *DB) commit(t *Txn) error {
	written := make([]string, 0, len(t.writes))
	for k := range t.writes {
		written = append(written, k)
	}
	sort.Strings(written)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.changedSinceLocked(t.startSeq, t.reads) {
		conflictsTotal.Inc()
		return ErrConflict
	}
	if err := t.batch.Commit(d.writeOpts); err != nil {
		logger.Error("batch_commit_failed", "keys", len(written), "error", err)
		return fmt.Errorf("commit batch: %w", err)
	}
	c := Commit{Seq: d.seq.Add(1), Keys: written}
	d.history = append(d.history, c)
	if over := len(d.history) - d.opts.HistorySize; over > 0 {
		d.history = d.history[over:]
	}
	commitsTotal.Inc()

	d.lmu.RLock()
	for _, fn := range d.listeners {
		fn(c)
	}
	d.lmu.RUnlock()
	return nil
}

// ListKeys lists all keys with prefix; all keys when prefix is empty.
func (d *DB) ListKeys(prefix string) ([]string, error) {
	tr := telemetry.Track("db.list_keys")
	defer tr.Finish()

	if err := d.acquire(); err != nil {
		return nil, err
	}
	defer d.release()
	iter, err := d.pdb.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// ListKeysPage returns up to limit keys with prefix that sort after the
// key after, seeking straight to it. next is the last key returned when
// more keys follow, empty otherwise.
func (d *DB) ListKeysPage(prefix, after string, limit int) (page []string, next string, err error) {
	tr := telemetry.Track("db.list_keys_page")
	defer tr.Finish()

	if limit <= 0 {
		return nil, "", fmt.Errorf("limit must be positive")
	}
	if err := d.acquire(); err != nil {
		return nil, "", err
	}
	defer d.release()
	iter, err := d.pdb.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return nil, "", err
	}
	defer iter.Close()

	valid := iter.First()
	if after != "" {
		valid = iter.SeekGE([]byte(after))
		if valid && string(iter.Key()) == after {
			valid = iter.Next()
		}
	}
	for ; valid; valid = iter.Next() {
		if len(page) == limit {
			next = page[len(page)-1]
			break
		}
		page = append(page, string(iter.Key()))
	}
	return page, next, iter.Error()
}

// GetKey returns the raw value for key.
func (d *DB) GetKey(key string) ([]byte, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	defer d.release()
	v, closer, err := d.pdb.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Error("get_key_failed", "key", key, "error", err)
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// CountFamilies returns the number of keys per record family.
func (d *DB) CountFamilies() (map[string]int, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	defer d.release()
	iter, err := d.pdb.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make(map[string]int)
	for iter.First(); iter.Valid(); iter.Next() {
		out[keys.Family(string(iter.Key()))]++
	}
	return out, iter.Error()
}

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pebble.ErrNotFound)
}

func prefixIterOptions(prefix string) *pebble.IterOptions {
	if prefix == "" {
		return &pebble.IterOptions{}
	}
	return &pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	}
}

func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
