package live

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"convodb/pkg/api/auth"
	"convodb/pkg/chat"
	"convodb/pkg/state/logger"
)

type Options struct {
	PingInterval     time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64
	MaxPerConnection int
	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int
	// CheckOrigin vets the upgrade's Origin header; nil allows any origin the
	// gateway let through.
	CheckOrigin func(ctx *fasthttp.RequestCtx) bool
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.MaxPerConnection <= 0 {
		o.MaxPerConnection = 64
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

// pongWait must exceed the ping interval so one late pong is tolerated.
func (o Options) pongWait() time.Duration { return o.PingInterval * 10 / 9 }

// Handler upgrades GET /v1/live to a websocket carrying live query
// subscriptions for the authenticated caller.
type Handler struct {
	chat     *chat.Service
	opts     Options
	upgrader websocket.FastHTTPUpgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(svc *chat.Service, opts Options) *Handler {
	opts.withDefaults()
	h := &Handler{chat: svc, opts: opts, conns: make(map[*conn]struct{})}
	h.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
			if opts.CheckOrigin == nil {
				return true
			}
			return opts.CheckOrigin(ctx)
		},
	}
	return h
}

func (h *Handler) Serve(ctx *fasthttp.RequestCtx) {
	sess, ok := auth.SessionOrFail(ctx, h.chat)
	if !ok {
		return
	}
	remote := ctx.RemoteAddr().String()
	err := h.upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		c := newConn(h, ws, sess, remote)
		if !h.track(c) {
			return
		}
		defer h.untrack(c)
		c.run()
	})
	if err != nil {
		logger.Warn("live_upgrade_failed", "remote", remote, "error", err)
	}
}

func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Active returns the number of connections whose goroutines are still running.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close ends every connection with a close frame, refuses new ones and
// waits until all connection goroutines have returned or ctx is done.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.conns {
		c.close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
