package frontend

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"convodb/pkg/api/auth"
	"convodb/pkg/api/router"
	"convodb/pkg/chat"
	"convodb/pkg/models"
	"convodb/pkg/telemetry"
)

// read evaluates a named live query once and writes its result, so plain
// GETs return exactly what a subscription would deliver.
func (h *Handlers) read(ctx *fasthttp.RequestCtx, name string, args chat.QueryArgs) {
	tr := telemetry.Track("api." + name)
	defer tr.Finish()

	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	raw, err := json.Marshal(args)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	tr.Mark("query")
	out, err := h.Chat.Run(sess, name, raw)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, out)
}

func (h *Handlers) ListUsers(ctx *fasthttp.RequestCtx) {
	h.read(ctx, "users.list", chat.QueryArgs{})
}

// ListOnline accepts ?threshold=<seconds> to override the online window.
func (h *Handlers) ListOnline(ctx *fasthttp.RequestCtx) {
	threshold := router.GetQueryInt(ctx, "threshold", 0)
	if threshold < 0 {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "threshold must not be negative")
		return
	}
	h.read(ctx, "users.online", chat.QueryArgs{ThresholdSeconds: threshold})
}

func (h *Handlers) GetUser(ctx *fasthttp.RequestCtx) {
	ext, ok := router.ValidatePathParam(ctx, "externalId")
	if !ok {
		return
	}
	tr := telemetry.Track("api.users.get")
	defer tr.Finish()

	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	raw, _ := json.Marshal(chat.QueryArgs{ExternalID: ext})
	out, err := h.Chat.Run(sess, "users.get", raw)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	if u, _ := out.(*models.UserView); u == nil {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "user not found")
		return
	}
	_ = router.WriteJSON(ctx, out)
}

func (h *Handlers) ListConversations(ctx *fasthttp.RequestCtx) {
	h.read(ctx, "conversations.list", chat.QueryArgs{})
}

func (h *Handlers) GetConversation(ctx *fasthttp.RequestCtx) {
	if id, ok := router.ValidatePathParam(ctx, "id"); ok {
		h.read(ctx, "conversations.get", chat.QueryArgs{ConversationID: id})
	}
}

func (h *Handlers) ListMembers(ctx *fasthttp.RequestCtx) {
	if id, ok := router.ValidatePathParam(ctx, "id"); ok {
		h.read(ctx, "conversations.members", chat.QueryArgs{ConversationID: id})
	}
}

func (h *Handlers) ListTyping(ctx *fasthttp.RequestCtx) {
	if id, ok := router.ValidatePathParam(ctx, "id"); ok {
		h.read(ctx, "conversations.typing", chat.QueryArgs{ConversationID: id})
	}
}

func (h *Handlers) ListMessages(ctx *fasthttp.RequestCtx) {
	if id, ok := router.ValidatePathParam(ctx, "id"); ok {
		h.read(ctx, "messages.list", chat.QueryArgs{ConversationID: id})
	}
}

// ListReactions returns raw reactions, or grouped counts with ?summary=1.
func (h *Handlers) ListReactions(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	name := "reactions.list"
	if s := router.GetQuery(ctx, "summary"); s == "1" || s == "true" {
		name = "reactions.summary"
	}
	h.read(ctx, name, chat.QueryArgs{MessageID: id})
}
