package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"convodb/pkg/chat"
	"convodb/pkg/config"
	"convodb/pkg/timeutil"
)

type fakeAuth map[string]chat.Session

func (f fakeAuth) Authenticate(ext string) (chat.Session, error) {
	if s, ok := f[ext]; ok {
		return s, nil
	}
	return chat.Session{}, chat.ErrNotFound
}

func newCtx(method, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	return ctx
}

func testGateway(sessions *Sessions) *Gateway {
	return NewGateway(SecConfig{
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
		AdminKeys:    map[string]struct{}{"ak": {}},
		RPS:          1000,
		Burst:        1000,
	}, sessions)
}

func run(g *Gateway, ctx *fasthttp.RequestCtx) bool {
	called := false
	g.Wrap(func(*fasthttp.RequestCtx) { called = true })(ctx)
	return called
}

func TestGatewayRoles(t *testing.T) {
	g := testGateway(nil)
	defer g.Close()

	cases := []struct {
		name   string
		method string
		path   string
		key    string
		ok     bool
		status int
	}{
		{"public health", "GET", "/healthz", "", true, 0},
		{"missing key", "GET", "/v1/users", "", false, fasthttp.StatusUnauthorized},
		{"unknown key", "GET", "/v1/users", "nope", false, fasthttp.StatusUnauthorized},
		{"frontend read", "GET", "/v1/conversations", "fk", true, 0},
		{"frontend sign", "POST", "/v1/_sign", "fk", false, fasthttp.StatusForbidden},
		{"frontend upsert", "POST", "/v1/users", "fk", false, fasthttp.StatusForbidden},
		{"backend sign", "POST", "/v1/_sign", "bk", true, 0},
		{"backend admin", "GET", "/admin/stats", "bk", false, fasthttp.StatusForbidden},
		{"admin stats", "GET", "/admin/stats", "ak", true, 0},
		{"admin api", "GET", "/v1/users", "ak", false, fasthttp.StatusForbidden},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := newCtx(c.method, c.path)
			if c.key != "" {
				ctx.Request.Header.Set("X-API-Key", c.key)
			}
			assert.Equal(t, c.ok, run(g, ctx))
			if !c.ok {
				assert.Equal(t, c.status, ctx.Response.StatusCode())
			}
		})
	}
}

func TestGatewayLiveQueryKey(t *testing.T) {
	g := testGateway(nil)
	defer g.Close()
	assert.True(t, run(g, newCtx("GET", "/v1/live?api_key=fk")))
	assert.False(t, run(g, newCtx("GET", "/v1/users?api_key=fk")))
}

func TestSignedIdentity(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"bk": {}}})
	defer config.SetRuntime(nil)

	g := testGateway(nil)
	defer g.Close()
	a := fakeAuth{"alice": {UserID: "u1", ExternalID: "alice"}}

	ctx := newCtx("GET", "/v1/conversations")
	ctx.Request.Header.Set("X-API-Key", "fk")
	ctx.Request.Header.Set("X-User-ID", "alice")
	ctx.Request.Header.Set("X-User-Signature", CreateHMACSignature("alice", "bk"))
	require.True(t, run(g, ctx))
	sess, err := Identity(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)

	ctx = newCtx("GET", "/v1/conversations")
	ctx.Request.Header.Set("X-API-Key", "fk")
	ctx.Request.Header.Set("X-User-ID", "alice")
	ctx.Request.Header.Set("X-User-Signature", CreateHMACSignature("alice", "other"))
	assert.False(t, run(g, ctx))
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	// frontends cannot assert an unsigned identity
	ctx = newCtx("GET", "/v1/conversations")
	ctx.Request.Header.Set("X-API-Key", "fk")
	ctx.Request.Header.Set("X-User-ID", "alice")
	require.True(t, run(g, ctx))
	_, ok := SessionOrFail(ctx, a)
	assert.False(t, ok)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	// backends can
	ctx = newCtx("GET", "/v1/conversations")
	ctx.Request.Header.Set("X-API-Key", "bk")
	ctx.Request.Header.Set("X-User-ID", "alice")
	require.True(t, run(g, ctx))
	sess, ok = SessionOrFail(ctx, a)
	require.True(t, ok)
	assert.Equal(t, "alice", sess.ExternalID)
}

func TestSessions(t *testing.T) {
	clock := timeutil.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s := NewSessions("0123456789abcdef0123456789abcdef", time.Hour, clock)

	tok, exp, err := s.Issue(chat.Session{UserID: "u1", ExternalID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), exp)

	sess, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, chat.Session{UserID: "u1", ExternalID: "alice"}, sess)

	other := NewSessions("fedcba9876543210fedcba9876543210", time.Hour, clock)
	_, err = other.Parse(tok)
	assert.Error(t, err)

	clock.Advance(time.Hour)
	_, err = s.Parse(tok)
	assert.Error(t, err)

	assert.Nil(t, NewSessions("", time.Hour, clock))
	_, _, err = (*Sessions)(nil).Issue(sess)
	assert.ErrorIs(t, err, ErrSessionsDisabled)
}

func TestSessionTokenIdentity(t *testing.T) {
	s := NewSessions("0123456789abcdef0123456789abcdef", time.Hour, nil)
	tok, _, err := s.Issue(chat.Session{UserID: "u9", ExternalID: "zed"})
	require.NoError(t, err)

	g := testGateway(s)
	defer g.Close()

	ctx := newCtx("GET", "/v1/live?api_key=fk&token="+tok)
	require.True(t, run(g, ctx))
	sess, err := Identity(ctx, fakeAuth{})
	require.NoError(t, err)
	assert.Equal(t, "u9", sess.UserID)

	ctx = newCtx("GET", "/v1/users")
	ctx.Request.Header.Set("X-API-Key", "fk")
	ctx.Request.Header.Set("X-Session-Token", "garbage")
	assert.False(t, run(g, ctx))
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestLimiter(t *testing.T) {
	p := newLimiterPool(1, 2)
	defer p.Shutdown()
	assert.True(t, p.Allow("k"))
	assert.True(t, p.Allow("k"))
	assert.False(t, p.Allow("k"))
	assert.True(t, p.Allow("other"))

	p.evictIdle(timeutil.Now().Add(time.Hour))
	assert.True(t, p.Allow("k"))
}
