package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"convodb/internal/presence"
	"convodb/pkg/api/auth"
	apilive "convodb/pkg/api/live"
	"convodb/pkg/blob"
	"convodb/pkg/chat"
	"convodb/pkg/config"
	"convodb/pkg/live"
	"convodb/pkg/state"
	"convodb/pkg/state/logger"
	"convodb/pkg/store/db"
	"convodb/pkg/telemetry"
	"convodb/pkg/timeutil"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	store    *db.DB
	engine   *live.Engine
	chat     *chat.Service
	blobs    *blob.Signer
	sessions *auth.Sessions
	sweeper  *presence.Sweeper
	gateway  *auth.Gateway
	sockets  *apilive.Handler
	srvFast  *fasthttp.Server

	ready atomic.Bool
}

// New opens the store and builds every component that does not need a
// running context. Run starts the background loops and the HTTP server.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	cfg := eff.Config
	if cfg == nil {
		return nil, fmt.Errorf("effective config is nil")
	}
	if state.PathsVar.Store == "" {
		return nil, fmt.Errorf("state paths not initialized")
	}

	config.SetRuntime(config.RuntimeFrom(cfg))

	if err := telemetry.Init(telemetry.Options{
		Dir:           telemetryDir(cfg),
		SlowThreshold: cfg.Telemetry.SlowThreshold.Duration(),
		BufferSize:    int(cfg.Telemetry.BufferSize.Int64()),
		QueueCapacity: cfg.Telemetry.QueueCapacity,
		FlushInterval: cfg.Telemetry.FlushInterval.Duration(),
		MaxFileSize:   cfg.Telemetry.FileMaxSize.Int64(),
	}); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	if cfg.Store.DisableWAL {
		logger.Warn("store_wal_disabled", "msg", "committed writes may be lost on crash")
	}
	store, err := db.Open(db.Options{
		Path:        state.PathsVar.Store,
		DisableWAL:  cfg.Store.DisableWAL,
		Sync:        cfg.Store.Sync,
		MaxRetries:  cfg.Store.MaxTxnRetries,
		HistorySize: cfg.Store.CommitHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, store: store}

	if cfg.Logging.Audit {
		if err := logger.AttachAudit(state.PathsVar.Logs); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	if cfg.Blob.BaseURL != "" {
		a.blobs, err = blob.NewSigner(cfg.Blob.BaseURL, cfg.Blob.SigningKey, cfg.Blob.URLTTL.Duration(), timeutil.System)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	a.engine = live.New(store, live.Options{
		Workers:          cfg.Live.Workers,
		RefreshInterval:  cfg.Live.RefreshInterval.Duration(),
		MaxSubscriptions: cfg.Live.MaxSubscriptions,
	})

	opts := chat.Options{
		EditWindow:      cfg.Chat.EditWindow.Duration(),
		OnlineThreshold: cfg.Presence.OnlineThreshold.Duration(),
	}
	// a nil *blob.Signer must not become a non-nil interface
	if a.blobs != nil {
		opts.Resolver = a.blobs
	}
	a.chat = chat.New(store, a.engine, opts)
	a.sessions = auth.NewSessions(cfg.Session.Secret, cfg.Session.TTL.Duration(), timeutil.System)

	if cfg.Presence.SweepEnabled {
		a.sweeper, err = presence.New(a.chat, cfg.Presence.SweepCron, timeutil.System)
		if err != nil {
			a.engine.Close()
			_ = store.Close()
			return nil, err
		}
	}

	logger.Info("app_initialized",
		"store", state.PathsVar.Store,
		"live_workers", cfg.Live.Workers,
		"max_request_body", humanize.IBytes(uint64(cfg.Server.MaxRequestBody.Int64())),
		"sessions", a.sessions != nil,
		"blobs", a.blobs != nil,
	)
	return a, nil
}

func telemetryDir(cfg *config.Config) string {
	if cfg.Telemetry.Dir != "" {
		return cfg.Telemetry.Dir
	}
	return state.PathsVar.Tel
}

// Run starts the sweeper and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	if a.sweeper != nil {
		a.sweeper.Start(ctx)
	}

	errCh := a.startHTTP()
	a.ready.Store(true)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
