package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"gopkg.in/yaml.v3"

	"convodb/pkg/api/auth"
	apilive "convodb/pkg/api/live"
	"convodb/pkg/chat"
	"convodb/pkg/config"
	"convodb/pkg/live"
	"convodb/pkg/models"
	"convodb/pkg/store/db"
)

const (
	backendKey  = "bk_test"
	frontendKey = "fk_test"
	adminKey    = "ak_test"
)

type server struct {
	t       *testing.T
	handler fasthttp.RequestHandler
	svc     *chat.Service
	live    *apilive.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	store, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "store"), MaxRetries: 200})
	require.NoError(t, err)
	engine := live.New(store, live.Options{Workers: 2, RefreshInterval: time.Hour})
	svc := chat.New(store, engine, chat.Options{})

	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{backendKey: {}},
		SigningKeys: map[string]struct{}{backendKey: {}},
	})
	gw := auth.NewGateway(auth.SecConfig{
		BackendKeys:  map[string]struct{}{backendKey: {}},
		FrontendKeys: map[string]struct{}{frontendKey: {}},
		AdminKeys:    map[string]struct{}{adminKey: {}},
		RPS:          10000,
		Burst:        10000,
	}, nil)
	ws := apilive.New(svc, apilive.Options{PingInterval: time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ws.Close(ctx)
		gw.Close()
		engine.Close()
		_ = store.Close()
		config.SetRuntime(nil)
	})
	h := gw.Wrap(Handler(Deps{Chat: svc, Live: ws}))
	return &server{t: t, handler: h, svc: svc, live: ws}
}

type call struct {
	method string
	uri    string
	key    string
	user   string
	body   any
}

func (s *server) do(c call) (int, []byte) {
	s.t.Helper()
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(c.method)
	ctx.Request.SetRequestURI(c.uri)
	if c.key != "" {
		ctx.Request.Header.Set("X-API-Key", c.key)
	}
	if c.user != "" {
		ctx.Request.Header.Set("X-User-ID", c.user)
		ctx.Request.Header.Set("X-User-Signature", auth.CreateHMACSignature(c.user, backendKey))
	}
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(s.t, err)
		ctx.Request.SetBody(b)
	}
	s.handler(ctx)
	return ctx.Response.StatusCode(), append([]byte(nil), ctx.Response.Body()...)
}

func (s *server) register(ext string) models.User {
	s.t.Helper()
	code, body := s.do(call{method: "POST", uri: "/v1/users", key: backendKey, body: chat.UpsertUserParams{ExternalID: ext, Name: ext}})
	require.Equal(s.t, fasthttp.StatusOK, code, string(body))
	var u models.User
	require.NoError(s.t, json.Unmarshal(body, &u))
	return u
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func TestConversationFlow(t *testing.T) {
	s := newServer(t)
	s.register("alice")
	bob := s.register("bob")
	s.register("carol")

	code, body := s.do(call{method: "POST", uri: "/v1/conversations", key: frontendKey, user: "alice", body: map[string]string{"user_id": bob.ID}})
	require.Equal(t, fasthttp.StatusOK, code, string(body))
	convID := decode[map[string]string](t, body)["id"]
	require.NotEmpty(t, convID)

	code, body = s.do(call{method: "POST", uri: "/v1/conversations/" + convID + "/messages", key: frontendKey, user: "alice", body: map[string]string{"body": "hello"}})
	require.Equal(t, fasthttp.StatusCreated, code, string(body))
	msgID := decode[map[string]string](t, body)["id"]

	code, body = s.do(call{method: "GET", uri: "/v1/conversations/" + convID + "/messages", key: frontendKey, user: "bob"})
	require.Equal(t, fasthttp.StatusOK, code, string(body))
	msgs := decode[[]models.MessageView](t, body)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, "alice", msgs[0].SenderName)

	// non-member
	code, _ = s.do(call{method: "GET", uri: "/v1/conversations/" + convID + "/messages", key: frontendKey, user: "carol"})
	assert.Equal(t, fasthttp.StatusForbidden, code)

	// only the sender edits
	code, _ = s.do(call{method: "PUT", uri: "/v1/messages/" + msgID, key: frontendKey, user: "bob", body: map[string]string{"body": "x"}})
	assert.Equal(t, fasthttp.StatusForbidden, code)
	code, _ = s.do(call{method: "PUT", uri: "/v1/messages/" + msgID, key: frontendKey, user: "alice", body: map[string]string{"body": "hello!"}})
	assert.Equal(t, fasthttp.StatusNoContent, code)

	code, body = s.do(call{method: "POST", uri: "/v1/messages/" + msgID + "/reactions", key: frontendKey, user: "bob", body: map[string]string{"kind": "👍"}})
	require.Equal(t, fasthttp.StatusOK, code, string(body))
	assert.True(t, decode[map[string]bool](t, body)["added"])

	code, body = s.do(call{method: "GET", uri: "/v1/messages/" + msgID + "/reactions?summary=1", key: frontendKey, user: "alice"})
	require.Equal(t, fasthttp.StatusOK, code)
	groups := decode[[]models.ReactionGroup](t, body)
	require.Len(t, groups, 1)
	assert.Equal(t, 1, groups[0].Count)

	code, _ = s.do(call{method: "DELETE", uri: "/v1/messages/" + msgID, key: frontendKey, user: "alice"})
	assert.Equal(t, fasthttp.StatusNoContent, code)
	code, _ = s.do(call{method: "DELETE", uri: "/v1/messages/" + msgID, key: frontendKey, user: "alice"})
	assert.Equal(t, fasthttp.StatusConflict, code)

	code, body = s.do(call{method: "GET", uri: "/v1/conversations", key: frontendKey, user: "bob"})
	require.Equal(t, fasthttp.StatusOK, code)
	convs := decode[[]models.ConversationView](t, body)
	require.Len(t, convs, 1)
	assert.True(t, convs[0].Unread)

	code, _ = s.do(call{method: "POST", uri: "/v1/conversations/" + convID + "/read", key: frontendKey, user: "bob"})
	assert.Equal(t, fasthttp.StatusNoContent, code)
	_, body = s.do(call{method: "GET", uri: "/v1/conversations", key: frontendKey, user: "bob"})
	assert.False(t, decode[[]models.ConversationView](t, body)[0].Unread)
}

func TestRequestErrors(t *testing.T) {
	s := newServer(t)
	s.register("alice")

	code, _ := s.do(call{method: "GET", uri: "/v1/users", key: frontendKey})
	assert.Equal(t, fasthttp.StatusUnauthorized, code)

	code, _ = s.do(call{method: "GET", uri: "/v1/users", key: frontendKey, user: "ghost"})
	assert.Equal(t, fasthttp.StatusUnauthorized, code)

	code, _ = s.do(call{method: "GET", uri: "/v1/users/nobody", key: frontendKey, user: "alice"})
	assert.Equal(t, fasthttp.StatusNotFound, code)

	code, _ = s.do(call{method: "GET", uri: "/v1/conversations/nope/messages", key: frontendKey, user: "alice"})
	assert.Equal(t, fasthttp.StatusOK, code)

	code, _ = s.do(call{method: "POST", uri: "/v1/conversations/group", key: frontendKey, user: "alice", body: map[string]any{"name": "", "member_ids": []string{}}})
	assert.Equal(t, fasthttp.StatusBadRequest, code)

	code, _ = s.do(call{method: "POST", uri: "/v1/uploads", key: frontendKey, user: "alice"})
	assert.Equal(t, fasthttp.StatusNotImplemented, code)

	code, _ = s.do(call{method: "POST", uri: "/v1/session", key: frontendKey, user: "alice"})
	assert.Equal(t, fasthttp.StatusNotImplemented, code)

	code, _ = s.do(call{method: "GET", uri: "/v1/users/online?threshold=-1", key: frontendKey, user: "alice"})
	assert.Equal(t, fasthttp.StatusBadRequest, code)

	code, body := s.do(call{method: "GET", uri: "/v1/users/online?threshold=300", key: frontendKey, user: "alice"})
	require.Equal(t, fasthttp.StatusOK, code, string(body))
	assert.Empty(t, decode[[]models.UserView](t, body))

	code, _ = s.do(call{method: "GET", uri: "/healthz"})
	assert.Equal(t, fasthttp.StatusOK, code)
}

func TestSignAndAdmin(t *testing.T) {
	s := newServer(t)
	s.register("alice")

	code, body := s.do(call{method: "POST", uri: "/v1/_sign", key: backendKey, body: map[string]string{"user_id": "alice"}})
	require.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, auth.CreateHMACSignature("alice", backendKey), decode[map[string]string](t, body)["signature"])

	code, body = s.do(call{method: "GET", uri: "/admin/stats", key: adminKey})
	require.Equal(t, fasthttp.StatusOK, code, string(body))
	stats := decode[map[string]any](t, body)
	assert.EqualValues(t, 1, stats["users"])

	code, body = s.do(call{method: "GET", uri: "/admin/keys?prefix=u:", key: adminKey})
	require.Equal(t, fasthttp.StatusOK, code)
	ks := decode[map[string][]string](t, body)["keys"]
	require.Len(t, ks, 1)

	code, body = s.do(call{method: "GET", uri: "/admin/keys/" + ks[0], key: adminKey})
	require.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, "alice", decode[models.User](t, body).ExternalID)

	code, body = s.do(call{method: "POST", uri: "/admin/jobs/presence-sweep", key: adminKey})
	require.Equal(t, fasthttp.StatusOK, code)
	assert.EqualValues(t, 0, decode[map[string]int](t, body)["cleared"])
}

func TestAdminKeysPaging(t *testing.T) {
	s := newServer(t)
	for _, ext := range []string{"alice", "bob", "carol"} {
		s.register(ext)
	}
	want, err := s.svc.Store().ListKeys("u:")
	require.NoError(t, err)
	require.NotEmpty(t, want)

	var got []string
	cursor := ""
	for i := 0; i <= len(want); i++ {
		code, body := s.do(call{method: "GET", uri: "/admin/keys?prefix=u:&limit=1&cursor=" + url.QueryEscape(cursor), key: adminKey})
		require.Equal(t, fasthttp.StatusOK, code, string(body))
		page := decode[struct {
			Keys       []string `json:"keys"`
			NextCursor string   `json:"next_cursor"`
		}](t, body)
		require.LessOrEqual(t, len(page.Keys), 1)
		got = append(got, page.Keys...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, want, got)
}

func TestAPIDocs(t *testing.T) {
	s := newServer(t)

	code, body := s.do(call{method: "GET", uri: "/openapi.yaml"})
	require.Equal(t, fasthttp.StatusOK, code)
	var doc struct {
		OpenAPI string                    `yaml:"openapi"`
		Paths   map[string]map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(body, &doc))
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	assert.Contains(t, doc.Paths["/v1/conversations/{id}/messages"], "post")
	assert.Contains(t, doc.Paths["/v1/users/online"], "get")

	code, _ = s.do(call{method: "GET", uri: "/docs/"})
	assert.Equal(t, fasthttp.StatusMovedPermanently, code)

	code, body = s.do(call{method: "GET", uri: "/docs/index.html"})
	require.Equal(t, fasthttp.StatusOK, code)
	assert.Contains(t, string(body), "/openapi.yaml")

	// only reads of the docs are public
	code, _ = s.do(call{method: "POST", uri: "/openapi.yaml"})
	assert.Equal(t, fasthttp.StatusUnauthorized, code)
}

func TestLiveWebsocket(t *testing.T) {
	s := newServer(t)
	s.register("alice")
	bob := s.register("bob")
	_, body := s.do(call{method: "POST", uri: "/v1/conversations", key: frontendKey, user: "alice", body: map[string]string{"user_id": bob.ID}})
	convID := decode[map[string]string](t, body)["id"]

	ws := s.dialLive("bob")
	defer ws.Close()

	type frame struct {
		ID    string          `json:"id"`
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	next := func() frame {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f frame
		require.NoError(t, ws.ReadJSON(&f))
		return f
	}

	require.NoError(t, ws.WriteJSON(map[string]any{"id": "bad", "op": "subscribe", "query": "nope"}))
	f := next()
	assert.Equal(t, "bad", f.ID)
	assert.Equal(t, "error", f.Type)

	require.NoError(t, ws.WriteJSON(map[string]any{"id": "m", "op": "subscribe", "query": "messages.list", "args": map[string]string{"conversation_id": convID}}))
	f = next()
	assert.Equal(t, "m", f.ID)
	require.Equal(t, "result", f.Type)

	code, _ := s.do(call{method: "POST", uri: "/v1/conversations/" + convID + "/messages", key: frontendKey, user: "alice", body: map[string]string{"body": "live hello"}})
	require.Equal(t, fasthttp.StatusCreated, code)

	for {
		f = next()
		require.Equal(t, "result", f.Type)
		var msgs []models.MessageView
		require.NoError(t, json.Unmarshal(f.Data, &msgs))
		if len(msgs) == 1 {
			assert.Equal(t, "live hello", msgs[0].Body)
			break
		}
	}

	require.NoError(t, ws.WriteJSON(map[string]any{"id": "m", "op": "unsubscribe"}))
	require.Equal(t, 1, s.live.Active())

	// once the client leaves no server goroutine may still hold the connection
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return s.live.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveCloseEndsConnections(t *testing.T) {
	s := newServer(t)
	s.register("alice")
	ws := s.dialLive("alice")
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]any{"id": "u", "op": "subscribe", "query": "users.list"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.live.Active() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.live.Close(ctx))
	assert.Equal(t, 0, s.live.Active())

	for {
		if _, _, err = ws.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

// dialLive opens /v1/live as ext over an in-memory listener.
func (s *server) dialLive(ext string) *websocket.Conn {
	s.t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = (&fasthttp.Server{Handler: s.handler}).Serve(ln) }()
	s.t.Cleanup(func() { _ = ln.Close() })

	d := websocket.Dialer{NetDial: func(_, _ string) (net.Conn, error) { return ln.Dial() }}
	hdr := http.Header{}
	hdr.Set("X-User-ID", ext)
	hdr.Set("X-User-Signature", auth.CreateHMACSignature(ext, backendKey))
	ws, _, err := d.Dial("ws://convodb.test/v1/live?api_key="+frontendKey, hdr)
	require.NoError(s.t, err)
	return ws
}
