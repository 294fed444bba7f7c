package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
)

// reader is satisfied by both *pebble.Batch and *pebble.Snapshot.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// Txn is a transaction whose reads are recorded. A read-write Txn is
// validated against commits applied since it began.
type Txn struct {
	db       *DB
	r        reader
	batch    *pebble.Batch
	snap     *pebble.Snapshot
	startSeq uint64
	reads    *ReadSet
	writes   map[string]struct{}
	readOnly bool
	once     sync.Once
}

// Seq is the commit sequence the transaction started from.
func (t *Txn) Seq() uint64 { return t.startSeq }

func (t *Txn) ReadSet() *ReadSet { return t.reads }

func (t *Txn) ReadOnly() bool { return t.readOnly }

// Get returns a copy of the value for key or ErrNotFound.
func (t *Txn) Get(key string) ([]byte, error) {
	t.reads.AddKey(key)
	v, closer, err := t.r.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// GetJSON decodes the value for key into v; found is false when absent.
func (t *Txn) GetJSON(key string, v any) (found bool, err error) {
	b, err := t.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Scan calls fn for every key with prefix in ascending order. value is only
// valid until fn returns.
func (t *Txn) Scan(prefix string, fn func(key string, value []byte) error) error {
	t.reads.AddPrefix(prefix)
	iter, err := t.r.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(string(iter.Key()), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (t *Txn) Set(key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.writes[key] = struct{}{}
	return t.batch.Set([]byte(key), value, nil)
}

func (t *Txn) SetJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return t.Set(key, b)
}

func (t *Txn) Delete(key string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.writes[key] = struct{}{}
	return t.batch.Delete([]byte(key), nil)
}

// Commit applies the writes. It returns ErrConflict when a key this
// transaction read was changed by a concurrent commit.
func (t *Txn) Commit() error {
	defer t.Discard()
	if t.readOnly || len(t.writes) == 0 {
		return nil
	}
	return t.db.commit(t)
}

// Discard releases the transaction; safe to call more than once.
func (t *Txn) Discard() {
	t.once.Do(func() {
		if t.batch != nil {
			_ = t.batch.Close()
		}
		if t.snap != nil {
			_ = t.snap.Close()
		}
		t.db.release()
	})
}
