package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"convodb/pkg/live"
	"convodb/pkg/models"
	"convodb/pkg/store/db"
	"convodb/pkg/timeutil"

	"github.com/stretchr/testify/require"
)

type fixedResolver struct{}

func (fixedResolver) ResolveURL(h string) string { return "https://blobs.test/" + h }

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *db.DB
	live  *live.Engine
	svc   *Service
	clock *timeutil.Fake
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, time.Hour, func(*timeutil.Fake) URLResolver { return fixedResolver{} })
}

// newHarnessWith builds a harness whose engine refreshes every refresh and
// whose resolver is built from the harness clock.
func newHarnessWith(t *testing.T, refresh time.Duration, resolver func(*timeutil.Fake) URLResolver) *harness {
	t.Helper()
	store, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "store"), MaxRetries: 200})
	require.NoError(t, err)
	engine := live.New(store, live.Options{Workers: 2, RefreshInterval: refresh})
	clock := timeutil.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	svc := New(store, engine, Options{Clock: clock, Resolver: resolver(clock)})
	t.Cleanup(func() {
		engine.Close()
		_ = store.Close()
	})
	return &harness{t: t, ctx: context.Background(), store: store, live: engine, svc: svc, clock: clock}
}

// user registers externalID and returns its session.
func (h *harness) user(externalID string) Session {
	h.t.Helper()
	_, err := h.svc.UpsertUser(h.ctx, UpsertUserParams{ExternalID: externalID, Name: externalID})
	require.NoError(h.t, err)
	sess, err := h.svc.Authenticate(externalID)
	require.NoError(h.t, err)
	return sess
}

func (h *harness) direct(a, b Session) string {
	h.t.Helper()
	id, err := h.svc.CreateDirect(h.ctx, a, b.UserID)
	require.NoError(h.t, err)
	return id
}

func (h *harness) send(sess Session, convID, body string) string {
	h.t.Helper()
	id, err := h.svc.Send(h.ctx, sess, SendParams{ConversationID: convID, Body: body})
	require.NoError(h.t, err)
	return id
}

func (h *harness) listOnline(threshold time.Duration) func(*db.Txn) ([]models.UserView, error) {
	return func(txn *db.Txn) ([]models.UserView, error) { return h.svc.ListOnline(txn, threshold) }
}

func read[T any](h *harness, fn func(txn *db.Txn) (T, error)) T {
	h.t.Helper()
	v, err := view(h.svc, fn)
	require.NoError(h.t, err)
	return v
}
