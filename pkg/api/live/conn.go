package live

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/bytebufferpool"

	"convodb/pkg/chat"
	engine "convodb/pkg/live"
	"convodb/pkg/state/logger"
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"

	typeResult = "result"
	typeError  = "error"
)

type clientFrame struct {
	ID    string          `json:"id"`
	Op    string          `json:"op"`
	Query string          `json:"query,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
}

type serverFrame struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// conn is one websocket client. The read loop owns subscription changes;
// one forwarder per subscription feeds the write loop through out.
type conn struct {
	h      *Handler
	ws     *websocket.Conn
	sess   chat.Session
	remote string

	out  chan serverFrame
	done chan struct{}
	once sync.Once
	// wrote is closed when the write loop has returned; ws must not be
	// touched after run returns.
	wrote chan struct{}

	mu   sync.Mutex
	subs map[string]*engine.Subscription
	wg   sync.WaitGroup
}

func newConn(h *Handler, ws *websocket.Conn, sess chat.Session, remote string) *conn {
	return &conn{
		h:      h,
		ws:     ws,
		sess:   sess,
		remote: remote,
		out:    make(chan serverFrame, h.opts.SendBuffer),
		done:   make(chan struct{}),
		wrote:  make(chan struct{}),
		subs:   make(map[string]*engine.Subscription),
	}
}

// run blocks until the connection ends; the upgrader closes ws afterwards.
func (c *conn) run() {
	connectionsGauge.Inc()
	defer connectionsGauge.Dec()
	logger.Info("live_connected", "user_id", c.sess.UserID, "remote", c.remote)

	c.touch()
	go c.writeLoop()
	c.readLoop()

	c.close()
	<-c.wrote
	c.mu.Lock()
	for id, s := range c.subs {
		s.Close()
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
	logger.Info("live_disconnected", "user_id", c.sess.UserID, "remote", c.remote)
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) readLoop() {
	pongWait := c.h.opts.pongWait()
	c.ws.SetReadLimit(c.h.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadErr(err)
			return
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.send(serverFrame{Type: typeError, Error: "invalid frame"})
			continue
		}
		switch f.Op {
		case opSubscribe:
			c.subscribe(f)
		case opUnsubscribe:
			c.unsubscribe(f.ID)
		default:
			c.send(serverFrame{ID: f.ID, Type: typeError, Error: "unknown op " + f.Op})
		}
	}
}

func (c *conn) logReadErr(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logger.Debug("live_timeout", "user_id", c.sess.UserID, "remote", c.remote)
		return
	}
	logger.Debug("live_read_failed", "user_id", c.sess.UserID, "error", err)
}

func (c *conn) subscribe(f clientFrame) {
	if f.ID == "" {
		c.send(serverFrame{Type: typeError, Error: "subscription id is required"})
		return
	}
	c.mu.Lock()
	_, dup := c.subs[f.ID]
	full := len(c.subs) >= c.h.opts.MaxPerConnection
	c.mu.Unlock()
	if dup {
		c.send(serverFrame{ID: f.ID, Type: typeError, Error: "subscription id already in use"})
		return
	}
	if full {
		c.send(serverFrame{ID: f.ID, Type: typeError, Error: engine.ErrTooManySubscriptions.Error()})
		return
	}

	sub, err := c.h.chat.Subscribe(c.sess, f.Query, f.Args)
	if err != nil {
		c.send(serverFrame{ID: f.ID, Type: typeError, Error: errorText(err)})
		return
	}
	c.mu.Lock()
	c.subs[f.ID] = sub
	c.mu.Unlock()
	subscribesTotal.WithLabelValues(f.Query).Inc()

	c.wg.Add(1)
	go c.forward(f.ID, sub)
}

func (c *conn) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// forward relays a subscription's updates until it or the connection ends.
func (c *conn) forward(id string, sub *engine.Subscription) {
	defer c.wg.Done()
	for {
		select {
		case u := <-sub.Updates():
			c.send(frameFor(id, u))
		case <-sub.Done():
			return
		case <-c.done:
			return
		}
	}
}

func frameFor(id string, u engine.Update) serverFrame {
	if u.Err != nil {
		return serverFrame{ID: id, Type: typeError, Error: errorText(u.Err)}
	}
	data, err := json.Marshal(u.Data)
	if err != nil {
		logger.Error("live_encode_failed", "id", id, "error", err)
		return serverFrame{ID: id, Type: typeError, Error: "internal error"}
	}
	return serverFrame{ID: id, Type: typeResult, Data: data}
}

// errorText exposes domain errors verbatim and hides internal ones.
func errorText(err error) string {
	if chat.KindOf(err) != nil {
		return err.Error()
	}
	if errors.Is(err, engine.ErrTooManySubscriptions) || errors.Is(err, engine.ErrClosed) {
		return err.Error()
	}
	logger.Error("live_query_failed", "error", err)
	return "internal error"
}

func (c *conn) send(f serverFrame) {
	select {
	case c.out <- f:
	case <-c.done:
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		// unblock the read loop
		_ = c.ws.Close()
		close(c.wrote)
	}()

	for {
		select {
		case f := <-c.out:
			if err := c.write(f); err != nil {
				logger.Debug("live_write_failed", "user_id", c.sess.UserID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.touch()
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *conn) write(f serverFrame) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(f); err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
	framesTotal.WithLabelValues(f.Type).Inc()
	return c.ws.WriteMessage(websocket.TextMessage, buf.B)
}

// touch counts an open connection as a presence heartbeat.
func (c *conn) touch() {
	ctx, cancel := context.WithTimeout(context.Background(), c.h.opts.WriteWait)
	defer cancel()
	if err := c.h.chat.TouchPresence(ctx, c.sess.ExternalID); err != nil {
		logger.Debug("live_presence_failed", "user_id", c.sess.UserID, "error", err)
	}
}
