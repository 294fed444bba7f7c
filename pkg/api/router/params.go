package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

func PathParam(ctx *fasthttp.RequestCtx, param string) string {
	if v := ctx.UserValue(param); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// ValidatePathParam writes a 400 when the parameter is missing.
func ValidatePathParam(ctx *fasthttp.RequestCtx, name string) (string, bool) {
	v := PathParam(ctx, name)
	if v == "" {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, name+" missing")
		return "", false
	}
	return v, true
}

func GetHeader(ctx *fasthttp.RequestCtx, key string) string {
	return strings.TrimSpace(string(ctx.Request.Header.Peek(key)))
}

func GetQuery(ctx *fasthttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func GetQueryInt(ctx *fasthttp.RequestCtx, key string, def int) int {
	v := GetQuery(ctx, key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// DecodeBody unmarshals the request body into dst, writing a 400 on failure.
// An empty body leaves dst untouched.
func DecodeBody(ctx *fasthttp.RequestCtx, dst any) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// OpTimeout bounds one request's store work, retries included.
const OpTimeout = 10 * time.Second

// OpContext returns the context store operations run under. The request
// context itself is not used since fasthttp reuses it after the handler.
func OpContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), OpTimeout)
}
