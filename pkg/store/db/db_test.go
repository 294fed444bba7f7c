package db

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(Options{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func put(t *testing.T, d *DB, key, value string) {
	t.Helper()
	require.NoError(t, d.Update(context.Background(), func(txn *Txn) error {
		return txn.Set(key, []byte(value))
	}))
}

func TestUpdateAndView(t *testing.T) {
	d := openTest(t)
	put(t, d, "a", "1")

	var got string
	require.NoError(t, d.View(func(txn *Txn) error {
		v, err := txn.Get("a")
		got = string(v)
		return err
	}))
	assert.Equal(t, "1", got)
	assert.Equal(t, uint64(1), d.Seq())

	err := d.View(func(txn *Txn) error {
		_, err := txn.Get("missing")
		return err
	})
	assert.True(t, IsNotFound(err))
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	d := openTest(t)
	err := d.View(func(txn *Txn) error { return txn.Set("a", nil) })
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestConflictOnReadKey(t *testing.T) {
	d := openTest(t)
	put(t, d, "k", "0")

	a, err := d.Begin()
	require.NoError(t, err)
	_, err = a.Get("k")
	require.NoError(t, err)

	put(t, d, "k", "1")

	require.NoError(t, a.Set("other", []byte("x")))
	assert.ErrorIs(t, a.Commit(), ErrConflict)
}

func TestConflictOnAbsentKey(t *testing.T) {
	d := openTest(t)

	a, err := d.Begin()
	require.NoError(t, err)
	_, err = a.Get("idx:unique")
	require.ErrorIs(t, err, ErrNotFound)

	put(t, d, "idx:unique", "winner")

	require.NoError(t, a.Set("idx:unique", []byte("loser")))
	assert.ErrorIs(t, a.Commit(), ErrConflict)
}

func TestConflictOnScannedPrefix(t *testing.T) {
	d := openTest(t)
	put(t, d, "p:1", "x")

	a, err := d.Begin()
	require.NoError(t, err)
	n := 0
	require.NoError(t, a.Scan("p:", func(string, []byte) error { n++; return nil }))
	assert.Equal(t, 1, n)

	put(t, d, "p:2", "y")

	require.NoError(t, a.Set("q", []byte("z")))
	assert.ErrorIs(t, a.Commit(), ErrConflict)
}

func TestDisjointTransactionsCommit(t *testing.T) {
	d := openTest(t)
	a, err := d.Begin()
	require.NoError(t, err)
	_, _ = a.Get("a")
	put(t, d, "b", "1")
	require.NoError(t, a.Set("a", []byte("1")))
	assert.NoError(t, a.Commit())
}

func TestScanSeesOwnWrites(t *testing.T) {
	d := openTest(t)
	put(t, d, "p:1", "x")
	require.NoError(t, d.Update(context.Background(), func(txn *Txn) error {
		if err := txn.Set("p:2", []byte("y")); err != nil {
			return err
		}
		var seen []string
		err := txn.Scan("p:", func(k string, _ []byte) error {
			seen = append(seen, k)
			return nil
		})
		assert.Equal(t, []string{"p:1", "p:2"}, seen)
		return err
	}))
}

func TestConcurrentIncrementsAreSerialized(t *testing.T) {
	d := openTest(t)
	d.opts.MaxRetries = 1000
	put(t, d, "counter", "0")

	const workers, each = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				err := d.Update(context.Background(), func(txn *Txn) error {
					v, err := txn.Get("counter")
					if err != nil {
						return err
					}
					n, _ := strconv.Atoi(string(v))
					return txn.Set("counter", []byte(strconv.Itoa(n+1)))
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := d.GetKey("counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers*each), string(v))
}

func TestUpdateReturnsCallbackError(t *testing.T) {
	d := openTest(t)
	boom := errors.New("boom")
	calls := 0
	err := d.Update(context.Background(), func(txn *Txn) error {
		calls++
		_ = txn.Set("x", []byte("1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	_, err = d.GetKey("x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateHonoursCancelledContext(t *testing.T) {
	d := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Update(ctx, func(txn *Txn) error { return txn.Set("x", nil) })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOnCommitAndChangedSince(t *testing.T) {
	d := openTest(t)
	var mu sync.Mutex
	var commits []Commit
	cancel := d.OnCommit(func(c Commit) {
		mu.Lock()
		commits = append(commits, c)
		mu.Unlock()
	})

	view, err := d.BeginView()
	require.NoError(t, err)
	_, _ = view.Get("watched")
	rs, seq := view.ReadSet(), view.Seq()
	view.Discard()

	put(t, d, "unrelated", "1")
	assert.False(t, d.ChangedSince(seq, rs))
	put(t, d, "watched", "1")
	assert.True(t, d.ChangedSince(seq, rs))

	cancel()
	put(t, d, "after", "1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, commits, 2)
	assert.Equal(t, []string{"unrelated"}, commits[0].Keys)
	assert.Equal(t, commits[0].Seq+1, commits[1].Seq)
}

func TestChangedSinceBeyondHistoryIsConservative(t *testing.T) {
	d := openTest(t)
	d.opts.HistorySize = 2
	rs := NewReadSet()
	rs.AddKey("never-written")
	for i := 0; i < 4; i++ {
		put(t, d, "k"+strconv.Itoa(i), "v")
	}
	assert.True(t, d.ChangedSince(0, rs))
	assert.False(t, d.ChangedSince(d.Seq()-1, rs))
}

func TestSnapshotIsolation(t *testing.T) {
	d := openTest(t)
	put(t, d, "a", "old")
	view, err := d.BeginView()
	require.NoError(t, err)
	defer view.Discard()
	put(t, d, "a", "new")

	v, err := view.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "old", string(v))
}

func TestListKeysAndFamilies(t *testing.T) {
	d := openTest(t)
	put(t, d, "m:1", "{}")
	put(t, d, "m:2", "{}")
	put(t, d, "idx:c:1:m:0:1", "")

	ks, err := d.ListKeys("m:")
	require.NoError(t, err)
	assert.Equal(t, []string{"m:1", "m:2"}, ks)

	fam, err := d.CountFamilies()
	require.NoError(t, err)
	assert.Equal(t, 2, fam["m"])
	assert.Equal(t, 1, fam["idx:c"])
	assert.Equal(t, 1, fam["system"])
}

func TestListKeysPage(t *testing.T) {
	d := openTest(t)
	for _, k := range []string{"m:1", "m:2", "m:3", "m:4", "n:1"} {
		put(t, d, k, "{}")
	}

	page, next, err := d.ListKeysPage("m:", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m:1", "m:2"}, page)
	assert.Equal(t, "m:2", next)

	page, next, err = d.ListKeysPage("m:", next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m:3", "m:4"}, page)
	assert.Empty(t, next)

	// a cursor that is not itself a key resumes at the next one
	page, _, err = d.ListKeysPage("m:", "m:25", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m:3", "m:4"}, page)

	page, next, err = d.ListKeysPage("m:", "m:4", 10)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, next)

	_, _, err = d.ListKeysPage("m:", "", 0)
	assert.Error(t, err)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("p;"), prefixUpperBound([]byte("p:")))
	assert.Equal(t, []byte("b"), prefixUpperBound([]byte{'a', 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff}))
}

func TestClosedStoreRejectsWork(t *testing.T) {
	d, err := Open(Options{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	assert.ErrorIs(t, d.Update(context.Background(), func(txn *Txn) error {
		return txn.Set("a", nil)
	}), ErrClosed)
	assert.ErrorIs(t, d.View(func(*Txn) error { return nil }), ErrClosed)
	_, err = d.ListKeys("")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.GetKey("a")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.CountFamilies()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWaitsForOpenTransaction(t *testing.T) {
	d, err := Open(Options{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)

	txn, err := d.Begin()
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()

	select {
	case <-closed:
		t.Fatal("close returned while a transaction was open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, txn.Set("a", []byte("1")))
	require.NoError(t, txn.Commit())
	require.NoError(t, <-closed)
}

func TestCloseDuringUpdates(t *testing.T) {
	d, err := Open(Options{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := d.Update(context.Background(), func(txn *Txn) error {
					return txn.Set("w:"+strconv.Itoa(i), []byte(strconv.Itoa(j)))
				})
				if errors.Is(err, ErrClosed) {
					return
				}
				assert.NoError(t, err)
			}
		}(i)
	}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, d.Close())
	wg.Wait()
}
