package auth

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"convodb/pkg/api/router"
	"convodb/pkg/state/logger"
)

// Gateway applies CORS, IP allow-listing, API key roles, rate limiting and
// caller identity before a request reaches the router.
type Gateway struct {
	cfg      SecConfig
	sessions *Sessions
	limiters *limiterPool
}

func NewGateway(cfg SecConfig, sessions *Sessions) *Gateway {
	return &Gateway{cfg: cfg, sessions: sessions, limiters: newLimiterPool(cfg.RPS, cfg.Burst)}
}

// Close stops the limiter janitor.
func (g *Gateway) Close() {
	g.limiters.Shutdown()
}

func (g *Gateway) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	cfg := g.cfg
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)

		origin := router.GetHeader(ctx, "Origin")
		if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			h.Set("Access-Control-Max-Age", "600")
			h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Signature,X-Session-Token")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		path := string(ctx.Path())

		if len(cfg.IPWhitelist) > 0 {
			ip := clientIP(ctx)
			if !ipWhitelisted(ip, cfg.IPWhitelist) {
				router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
				logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", path)
				return
			}
		}

		if publicPath(ctx) {
			next(ctx)
			return
		}

		role, key := g.role(ctx)
		if role == RoleUnauth {
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
			logger.Warn("request_unauthorized", "path", path, "remote", ctx.RemoteAddr().String())
			return
		}
		ctx.SetUserValue(userRole, role)
		ctx.SetUserValue(userAPIKey, key)

		if reason := routeDenied(role, string(ctx.Method()), path); reason != "" {
			router.WriteJSONError(ctx, fasthttp.StatusForbidden, reason)
			logger.Warn("request_forbidden", "role", role.String(), "path", path, "reason", reason)
			return
		}

		if !g.limiters.Allow(key) {
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			logger.Warn("rate_limited", "role", role.String(), "path", path)
			return
		}

		if role != RoleAdmin && !identify(ctx, role, g.sessions) {
			return
		}
		next(ctx)
	}
}

func (g *Gateway) role(ctx *fasthttp.RequestCtx) (Role, string) {
	key := extractAPIKey(ctx)
	if key == "" {
		return RoleUnauth, clientIP(ctx)
	}
	if _, ok := g.cfg.AdminKeys[key]; ok {
		return RoleAdmin, key
	}
	if _, ok := g.cfg.BackendKeys[key]; ok {
		return RoleBackend, key
	}
	if _, ok := g.cfg.FrontendKeys[key]; ok {
		return RoleFrontend, key
	}
	return RoleUnauth, key
}

// routeDenied returns a non-empty reason when role may not call the route.
func routeDenied(role Role, method, path string) string {
	admin := strings.HasPrefix(path, "/admin")
	switch role {
	case RoleAdmin:
		if !admin {
			return "admin api keys may only access /admin routes"
		}
	case RoleBackend:
		if admin {
			return "backend api keys cannot access admin routes"
		}
	case RoleFrontend:
		if admin {
			return "frontend api keys cannot access admin routes"
		}
		if backendOnly(method, path) {
			return "route requires a backend api key"
		}
	}
	return ""
}

func backendOnly(method, path string) bool {
	switch {
	case path == "/v1/_sign":
		return true
	case path == "/v1/users" && method == fasthttp.MethodPost:
		return true
	}
	return false
}

// extractAPIKey reads Authorization: Bearer, X-API-Key, or for the live
// endpoint the api_key query parameter.
func extractAPIKey(ctx *fasthttp.RequestCtx) string {
	if auth := router.GetHeader(ctx, "Authorization"); auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	if k := router.GetHeader(ctx, "X-API-Key"); k != "" {
		return k
	}
	if string(ctx.Path()) == "/v1/live" {
		return router.GetQuery(ctx, "api_key")
	}
	return ""
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

func publicPath(ctx *fasthttp.RequestCtx) bool {
	if string(ctx.Method()) != fasthttp.MethodGet {
		return false
	}
	switch path := string(ctx.Path()); {
	case path == "/healthz", path == "/readyz", path == "/openapi.yaml":
		return true
	default:
		return path == "/docs" || strings.HasPrefix(path, "/docs/")
	}
}
