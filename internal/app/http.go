package app

import (
	"os"
	"time"

	"github.com/valyala/fasthttp"

	"convodb/pkg/api"
	"convodb/pkg/api/auth"
	apilive "convodb/pkg/api/live"
	"convodb/pkg/config/banner"
	"convodb/pkg/state/logger"
)

func (a *App) printBanner() {
	ver := a.version
	if a.commit != "" && a.commit != "none" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		ver += " @ " + a.buildDate
	}
	banner.Print(os.Stdout, a.eff, ver)
}

func keySet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// startHTTP builds and starts the fasthttp server, returning a channel that delivers errors.
func (a *App) startHTTP() <-chan error {
	cfg := a.eff.Config
	a.gateway = auth.NewGateway(auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Server.CORS.AllowedOrigins...),
		RPS:            cfg.Server.RateLimit.RPS,
		Burst:          cfg.Server.RateLimit.Burst,
		IPWhitelist:    append([]string{}, cfg.Server.IPWhitelist...),
		BackendKeys:    keySet(cfg.Server.APIKeys.Backend),
		FrontendKeys:   keySet(cfg.Server.APIKeys.Frontend),
		AdminKeys:      keySet(cfg.Server.APIKeys.Admin),
	}, a.sessions)

	a.sockets = apilive.New(a.chat, apilive.Options{
		PingInterval:     cfg.Live.PingInterval.Duration(),
		MaxMessageSize:   cfg.Live.MaxMessageSize.Int64(),
		MaxPerConnection: cfg.Live.MaxPerConnection,
		SendBuffer:       cfg.Live.SendBuffer,
	})
	handler := api.Handler(api.Deps{
		Chat:     a.chat,
		Sessions: a.sessions,
		Blobs:    a.blobs,
		Live:     a.sockets,
		Ready:    a.ready.Load,
	})

	const (
		readBufferSize       = 64 * 1024
		idleTimeout          = 30 * time.Second
		maxKeepaliveDuration = 2 * time.Minute
	)
	a.srvFast = &fasthttp.Server{
		Name:                 "convodb",
		Handler:              a.gateway.Wrap(handler),
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   int(cfg.Server.MaxRequestBody.Int64()),
		ReadTimeout:          cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:         cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:          idleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}

	addr := a.eff.Addr
	if addr == "" {
		addr = cfg.Addr()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", addr, "tls", cfg.Server.TLS.CertFile != "")
		if cfg.Server.TLS.CertFile != "" {
			errCh <- a.srvFast.ListenAndServeTLS(addr, cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- a.srvFast.ListenAndServe(addr)
	}()
	return errCh
}
