package router

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"convodb/pkg/chat"
	"convodb/pkg/state/logger"
)

// WriteJSON writes a JSON response.
func WriteJSON(ctx *fasthttp.RequestCtx, data any) error {
	ctx.Response.Header.Set("Content-Type", "application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONStatus writes a JSON response with the given status.
func WriteJSONStatus(ctx *fasthttp.RequestCtx, status int, data any) {
	ctx.SetStatusCode(status)
	_ = WriteJSON(ctx, data)
}

// WriteJSONError writes {"error": message}.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}

// StatusFor maps a domain error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, chat.ErrUnauthorized):
		return fasthttp.StatusForbidden
	case errors.Is(err, chat.ErrInvalidState):
		return fasthttp.StatusConflict
	case errors.Is(err, chat.ErrExpired):
		return fasthttp.StatusGone
	case errors.Is(err, chat.ErrInvalidArgument):
		return fasthttp.StatusBadRequest
	default:
		return fasthttp.StatusInternalServerError
	}
}

// WriteError writes a domain error; anything unclassified is logged and
// reported as an internal error.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	status := StatusFor(err)
	if status == fasthttp.StatusInternalServerError {
		logger.Error("request_failed", "path", string(ctx.Path()), "error", err)
		WriteJSONError(ctx, status, "internal error")
		return
	}
	WriteJSONError(ctx, status, err.Error())
}
