package logger

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fasthttp"
)

var sensitiveHeaders = map[string]bool{
	"authorization":    true,
	"x-api-key":        true,
	"x-user-signature": true,
	"x-session-token":  true,
	"cookie":           true,
}

// sensitiveQuery are query args that carry credentials on websocket upgrades.
var sensitiveQuery = map[string]bool{
	"api_key": true,
	"token":   true,
}

func maskedValue(v string) string {
	if v == "" {
		return ""
	}
	l := utf8.RuneCountInString(v)
	if l <= 2 {
		return "<redacted>"
	}
	first, _ := utf8.DecodeRuneInString(v)
	last, _ := utf8.DecodeLastRuneInString(v)
	return string(first) + "*****" + string(last)
}

func redactHeaderValue(k, v string) string {
	if v == "" || !sensitiveHeaders[strings.ToLower(k)] {
		return v
	}
	return maskedValue(v)
}

// SafeHeadersFast renders request headers with credentials masked.
func SafeHeadersFast(ctx *fasthttp.RequestCtx) string {
	parts := make([]string, 0)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		parts = append(parts, key+"="+redactHeaderValue(key, string(v)))
	})
	return strings.Join(parts, "; ")
}

// SafeQueryFast renders query args with credentials masked.
func SafeQueryFast(ctx *fasthttp.RequestCtx) string {
	var parts []string
	ctx.QueryArgs().VisitAll(func(k, v []byte) {
		key := string(k)
		val := string(v)
		if sensitiveQuery[strings.ToLower(key)] {
			val = maskedValue(val)
		}
		parts = append(parts, key+"="+val)
	})
	return strings.Join(parts, "&")
}

func LogRequestFast(ctx *fasthttp.RequestCtx) {
	if Log == nil || !Log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	Debug("incoming_request",
		"method", string(ctx.Method()),
		"path", string(ctx.Path()),
		"query", SafeQueryFast(ctx),
		"remote", ctx.RemoteAddr().String(),
		"headers", SafeHeadersFast(ctx),
	)
}
