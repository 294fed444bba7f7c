package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"convodb/pkg/api/auth"
	"convodb/pkg/api/docs"
	"convodb/pkg/api/live"
	"convodb/pkg/api/router"
	adminRoutes "convodb/pkg/api/routes/admin"
	backendRoutes "convodb/pkg/api/routes/backend"
	frontendRoutes "convodb/pkg/api/routes/frontend"
	"convodb/pkg/blob"
	"convodb/pkg/chat"
)

var (
	gcPauseTotal = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "convodb_gc_pause_total_ns",
			Help: "Total GC pause time in nanoseconds.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.PauseTotalNs)
		},
	)

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "convodb_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)
)

func init() {
	prometheus.MustRegister(gcPauseTotal, heapAlloc)
}

// Deps are the services the API is wired to.
type Deps struct {
	Chat     *chat.Service
	Sessions *auth.Sessions
	Blobs    *blob.Signer
	// Live serves GET /v1/live; nil builds one with default options.
	Live *live.Handler
	// Ready reports whether the server should receive traffic.
	Ready func() bool
}

func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// RegisterRoutes wires all API routes onto r.
func RegisterRoutes(r *router.Router, d Deps) {
	fe := &frontendRoutes.Handlers{Chat: d.Chat, Sessions: d.Sessions, Blobs: d.Blobs}
	be := &backendRoutes.Handlers{Chat: d.Chat}
	ad := &adminRoutes.Handlers{Chat: d.Chat, Started: time.Now()}
	ws := d.Live
	if ws == nil {
		ws = live.New(d.Chat, live.Options{})
	}

	r.GET("/healthz", ad.Health)
	r.GET("/readyz", func(ctx *fasthttp.RequestCtx) {
		if d.Ready != nil && !d.Ready() {
			router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "not ready")
			return
		}
		ad.Health(ctx)
	})

	// api docs
	r.GET("/openapi.yaml", func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/yaml")
		ctx.SetBody(docs.OpenAPI)
	})
	r.GET("/docs/", func(ctx *fasthttp.RequestCtx) {
		ctx.Redirect("/docs/index.html", fasthttp.StatusMovedPermanently)
	})
	r.GET("/docs/{file}", wrapHTTPHandler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml"))))

	// backend
	r.POST("/v1/_sign", be.Sign)
	r.POST("/v1/users", be.UpsertUser)

	// identity and presence
	r.POST("/v1/session", fe.CreateSession)
	r.POST("/v1/presence", fe.Heartbeat)
	r.GET("/v1/users", fe.ListUsers)
	r.GET("/v1/users/online", fe.ListOnline)
	r.GET("/v1/users/{externalId}", fe.GetUser)

	// conversations
	r.GET("/v1/conversations", fe.ListConversations)
	r.POST("/v1/conversations", fe.CreateDirect)
	r.POST("/v1/conversations/group", fe.CreateGroup)
	r.GET("/v1/conversations/{id}", fe.GetConversation)
	r.GET("/v1/conversations/{id}/members", fe.ListMembers)
	r.GET("/v1/conversations/{id}/typing", fe.ListTyping)
	r.PUT("/v1/conversations/{id}/typing", fe.SetTyping)
	r.POST("/v1/conversations/{id}/read", fe.MarkRead)

	// messages
	r.GET("/v1/conversations/{id}/messages", fe.ListMessages)
	r.POST("/v1/conversations/{id}/messages", fe.SendMessage)
	r.PUT("/v1/messages/{id}", fe.EditMessage)
	r.DELETE("/v1/messages/{id}", fe.DeleteMessage)
	r.GET("/v1/messages/{id}/reactions", fe.ListReactions)
	r.POST("/v1/messages/{id}/reactions", fe.ToggleReaction)

	r.POST("/v1/uploads", fe.CreateUpload)
	r.GET("/v1/live", ws.Serve)

	// admin
	r.GET("/admin/health", ad.Health)
	r.GET("/admin/stats", ad.Stats)
	r.GET("/admin/keys", ad.ListKeys)
	r.GET("/admin/keys/{key}", ad.GetKey)
	r.POST("/admin/jobs/presence-sweep", ad.RunPresenceSweep)

	r.GET("/admin/debug/prometheus", wrapHTTPHandler(promhttp.Handler()))
	r.GET("/admin/debug/pprof/", wrapHTTPHandler(http.HandlerFunc(pprof.Index)))
	r.GET("/admin/debug/pprof/profile", wrapHTTPHandler(http.HandlerFunc(pprof.Profile)))
	r.GET("/admin/debug/pprof/trace", wrapHTTPHandler(http.HandlerFunc(pprof.Trace)))
}

// Handler returns the router for d.
func Handler(d Deps) fasthttp.RequestHandler {
	r := router.New()
	RegisterRoutes(r, d)
	return r.Handler
}
