package live

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"convodb/pkg/store/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opts Options) (*db.DB, *Engine) {
	t.Helper()
	store, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)
	e := New(store, opts)
	t.Cleanup(func() {
		e.Close()
		_ = store.Close()
	})
	return store, e
}

func put(t *testing.T, store *db.DB, key, value string) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), func(txn *db.Txn) error {
		return txn.Set(key, []byte(value))
	}))
}

func readKey(key string) QueryFunc {
	return func(txn *db.Txn) (any, error) {
		v, err := txn.Get(key)
		if db.IsNotFound(err) {
			return "", nil
		}
		return string(v), err
	}
}

func next(t *testing.T, s *Subscription) Update {
	t.Helper()
	select {
	case u := <-s.Updates():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
		return Update{}
	}
}

func quiet(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case u := <-s.Updates():
		t.Fatalf("unexpected update: %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriptionFollowsWrites(t *testing.T) {
	store, e := setup(t, Options{})
	put(t, store, "a", "1")

	s, err := e.Subscribe(readKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", next(t, s).Data)

	put(t, store, "a", "2")
	assert.Equal(t, "2", next(t, s).Data)

	put(t, store, "b", "x")
	quiet(t, s)
}

func TestIdenticalResultsAreNotRedelivered(t *testing.T) {
	store, e := setup(t, Options{})
	put(t, store, "a", "same")
	s, err := e.Subscribe(readKey("a"))
	require.NoError(t, err)
	next(t, s)

	put(t, store, "a", "same")
	quiet(t, s)
}

func TestMissingKeyIsTracked(t *testing.T) {
	store, e := setup(t, Options{})
	s, err := e.Subscribe(readKey("later"))
	require.NoError(t, err)
	assert.Equal(t, "", next(t, s).Data)

	put(t, store, "later", "here")
	assert.Equal(t, "here", next(t, s).Data)
}

func TestPrefixScanSeesInserts(t *testing.T) {
	store, e := setup(t, Options{})
	s, err := e.Subscribe(func(txn *db.Txn) (any, error) {
		n := 0
		err := txn.Scan("p:", func(string, []byte) error { n++; return nil })
		return n, err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, next(t, s).Data)

	put(t, store, "p:1", "x")
	assert.Equal(t, 1, next(t, s).Data)
}

func TestLatestResultWins(t *testing.T) {
	store, e := setup(t, Options{})
	s, err := e.Subscribe(readKey("a"))
	require.NoError(t, err)
	next(t, s)

	for _, v := range []string{"1", "2", "3", "4"} {
		put(t, store, "a", v)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-s.Updates():
			if u.Data == "4" {
				return
			}
		case <-deadline:
			t.Fatal("final value never delivered")
		}
	}
}

func TestQueryErrorsAreDelivered(t *testing.T) {
	_, e := setup(t, Options{})
	boom := errors.New("boom")
	s, err := e.Subscribe(func(*db.Txn) (any, error) { return nil, boom })
	require.NoError(t, err)
	assert.ErrorIs(t, next(t, s).Err, boom)
}

func TestRefreshReevaluates(t *testing.T) {
	_, e := setup(t, Options{RefreshInterval: 20 * time.Millisecond})
	var calls atomic.Int64
	s, err := e.Subscribe(func(*db.Txn) (any, error) {
		return calls.Add(1), nil
	}, WithRefresh())
	require.NoError(t, err)
	first := next(t, s).Data.(int64)
	second := next(t, s).Data.(int64)
	assert.Greater(t, second, first)
}

func TestCloseAndLimits(t *testing.T) {
	_, e := setup(t, Options{MaxSubscriptions: 1})
	s, err := e.Subscribe(readKey("a"))
	require.NoError(t, err)
	_, err = e.Subscribe(readKey("b"))
	assert.ErrorIs(t, err, ErrTooManySubscriptions)

	s.Close()
	s.Close()
	<-s.Done()
	assert.Equal(t, 0, e.Len())

	_, err = e.Subscribe(readKey("b"))
	assert.NoError(t, err)
}

func TestRunIsOneShot(t *testing.T) {
	store, e := setup(t, Options{})
	put(t, store, "a", "v")
	out, err := e.Run(readKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "v", out)
	assert.Equal(t, 0, e.Len())
}
