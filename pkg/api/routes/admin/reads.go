package admin

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"convodb/pkg/api/router"
	"convodb/pkg/store/db"
	"convodb/pkg/store/keys"
)

const (
	defaultKeyLimit = 100
	maxKeyLimit     = 1000
)

func (h *Handlers) Health(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Type", "application/json")
	_, _ = ctx.WriteString(`{"status":"ok","service":"convodb"}`)
}

func (h *Handlers) Stats(ctx *fasthttp.RequestCtx) {
	store := h.Chat.Store()
	fams, err := store.CountFamilies()
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, statsResponse{
		Seq:           store.Seq(),
		Families:      fams,
		Users:         fams[keys.Family(keys.UserPrefix)],
		Conversations: fams[keys.Family(keys.ConversationPrefix)],
		Messages:      fams[keys.Family(keys.MessagePrefix)],
		Subscriptions: h.Chat.Live().Len(),
		Uptime:        strings.TrimSpace(humanize.RelTime(h.Started, timeNow(), "", "")),
		Started:       humanize.Time(h.Started),
	})
}

// ListKeys pages through raw keys under ?prefix, resuming after ?cursor.
func (h *Handlers) ListKeys(ctx *fasthttp.RequestCtx) {
	prefix := router.GetQuery(ctx, "prefix")
	cursor := router.GetQuery(ctx, "cursor")
	limit := router.GetQueryInt(ctx, "limit", defaultKeyLimit)
	if limit <= 0 || limit > maxKeyLimit {
		limit = defaultKeyLimit
	}

	page, next, err := h.Chat.Store().ListKeysPage(prefix, cursor, limit)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	resp := keysResponse{Keys: page, NextCursor: next}
	if resp.Keys == nil {
		resp.Keys = []string{}
	}
	_ = router.WriteJSON(ctx, resp)
}

func (h *Handlers) GetKey(ctx *fasthttp.RequestCtx) {
	enc, ok := router.ValidatePathParam(ctx, "key")
	if !ok {
		return
	}
	key, err := url.PathUnescape(enc)
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid key encoding")
		return
	}
	v, err := h.Chat.Store().GetKey(key)
	if db.IsNotFound(err) {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	ctx.Response.Header.Set("Content-Type", "application/json")
	if json.Valid(v) {
		_, _ = ctx.Write(v)
		return
	}
	_ = router.WriteJSON(ctx, map[string]string{"key": key, "value": string(v)})
}
