package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"convodb/pkg/config"
	"convodb/pkg/state"
)

func testEffective(t *testing.T) config.EffectiveConfigResult {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, state.EnsureStateDirs(dir))
	state.PathsVar = state.PathsFor(dir)

	cfg := &config.Config{}
	cfg.Server.APIKeys.Backend = []string{"bk_app"}
	cfg.Presence.SweepEnabled = true
	cfg.Session.Secret = "0123456789abcdef0123456789abcdef"
	cfg.ApplyDefaults()
	return config.EffectiveConfigResult{Config: cfg, Addr: "127.0.0.1:0", DBPath: dir, Source: "test"}
}

func TestNewAndShutdown(t *testing.T) {
	a, err := New(testEffective(t), "test", "none", "unknown")
	require.NoError(t, err)
	require.NotNil(t, a.chat)
	require.NotNil(t, a.sessions)
	require.NotNil(t, a.sweeper)
	require.Nil(t, a.blobs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, a.ready.Load, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	require.NoError(t, a.Shutdown(sctx))
	require.False(t, a.ready.Load())
}

func TestNewRejectsMissingConfig(t *testing.T) {
	_, err := New(config.EffectiveConfigResult{}, "test", "", "")
	require.Error(t, err)
}
