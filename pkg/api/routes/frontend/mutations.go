package frontend

import (
	"github.com/valyala/fasthttp"

	"convodb/pkg/api/auth"
	"convodb/pkg/api/router"
	"convodb/pkg/chat"
	"convodb/pkg/state/logger"
	"convodb/pkg/telemetry"
)

// Heartbeat records the caller as online; unknown users are ignored.
func (h *Handlers) Heartbeat(ctx *fasthttp.RequestCtx) {
	tr := telemetry.Track("api.presence.heartbeat")
	defer tr.Finish()

	ext := auth.AuthorOf(ctx)
	if ext == "" {
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "user identity required")
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	if err := h.Chat.TouchPresence(opCtx, ext); err != nil {
		logger.Warn("heartbeat_failed", "external_id", ext, "error", err)
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// CreateSession exchanges a signed identity for a session token.
func (h *Handlers) CreateSession(ctx *fasthttp.RequestCtx) {
	if h.Sessions == nil {
		router.WriteJSONError(ctx, fasthttp.StatusNotImplemented, auth.ErrSessionsDisabled.Error())
		return
	}
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	tok, exp, err := h.Sessions.Issue(sess)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSONStatus(ctx, fasthttp.StatusCreated, sessionResponse{Token: tok, UserID: sess.UserID, ExpiresAt: exp.UnixNano()})
}

func (h *Handlers) CreateDirect(ctx *fasthttp.RequestCtx) {
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	var req createDirectRequest
	if !router.DecodeBody(ctx, &req) {
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	id, err := h.Chat.CreateDirect(opCtx, sess, req.UserID)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSONStatus(ctx, fasthttp.StatusOK, idResponse{ID: id})
}

func (h *Handlers) CreateGroup(ctx *fasthttp.RequestCtx) {
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	var req chat.CreateGroupParams
	if !router.DecodeBody(ctx, &req) {
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	id, err := h.Chat.CreateGroup(opCtx, sess, req)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSONStatus(ctx, fasthttp.StatusCreated, idResponse{ID: id})
}

func (h *Handlers) SetTyping(ctx *fasthttp.RequestCtx) {
	convID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	var req typingRequest
	if !router.DecodeBody(ctx, &req) {
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	if err := h.Chat.SetTyping(opCtx, sess, convID, req.IsTyping); err != nil {
		router.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handlers) MarkRead(ctx *fasthttp.RequestCtx) {
	convID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	if err := h.Chat.MarkRead(opCtx, sess, convID); err != nil {
		router.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handlers) SendMessage(ctx *fasthttp.RequestCtx) {
	convID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	var req chat.SendParams
	if !router.DecodeBody(ctx, &req) {
		return
	}
	req.ConversationID = convID
	opCtx, cancel := router.OpContext()
	defer cancel()
	id, err := h.Chat.Send(opCtx, sess, req)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSONStatus(ctx, fasthttp.StatusCreated, idResponse{ID: id})
}

func (h *Handlers) EditMessage(ctx *fasthttp.RequestCtx) {
	msgID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	var req editRequest
	if !router.DecodeBody(ctx, &req) {
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	if err := h.Chat.Edit(opCtx, sess, msgID, req.Body); err != nil {
		router.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handlers) DeleteMessage(ctx *fasthttp.RequestCtx) {
	msgID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	if err := h.Chat.Delete(opCtx, sess, msgID); err != nil {
		router.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handlers) ToggleReaction(ctx *fasthttp.RequestCtx) {
	msgID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	sess, ok := auth.SessionOrFail(ctx, h.Chat)
	if !ok {
		return
	}
	var req reactionRequest
	if !router.DecodeBody(ctx, &req) {
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	added, err := h.Chat.ToggleReaction(opCtx, sess, msgID, req.Kind)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]bool{"added": added})
}

// CreateUpload hands out a fresh attachment handle and a signed upload URL.
func (h *Handlers) CreateUpload(ctx *fasthttp.RequestCtx) {
	if h.Blobs == nil {
		router.WriteJSONError(ctx, fasthttp.StatusNotImplemented, "blob store is not configured")
		return
	}
	if _, ok := auth.SessionOrFail(ctx, h.Chat); !ok {
		return
	}
	router.WriteJSONStatus(ctx, fasthttp.StatusCreated, h.Blobs.UploadURL())
}
