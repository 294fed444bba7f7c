package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	defaultRateRPS            = 1000
	defaultRateBurst          = 1000
	defaultMaxRequestBody     = 4 * 1024 * 1024 // 4 MiB
	defaultReadTimeout        = 30 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultMaxTxnRetries      = 16
	defaultCommitHistory      = 4096
	defaultLiveWorkers        = 8
	defaultLiveRefresh        = 15 * time.Second
	defaultLiveMaxSubs        = 100000
	defaultLiveMaxPerConn     = 64
	defaultLivePingInterval   = 30 * time.Second
	defaultLiveMaxMessageSize = 64 * 1024
	defaultLiveSendBuffer     = 64
	defaultOnlineThreshold    = 60 * time.Second
	defaultSweepCron          = "* * * * *"
	defaultEditWindow         = 10 * time.Minute
	defaultSessionTTL         = 24 * time.Hour
	defaultBlobURLTTL         = time.Hour
	defaultTelemetrySlow      = 200 * time.Millisecond
	defaultTelemetryBuffer    = 256 * 1024
	defaultTelemetryFileMax   = 40 * 1024 * 1024
	defaultTelemetryFlush     = 2 * time.Second
	defaultTelemetryQueue     = 2048
)

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	s := &c.Server
	if s.RateLimit.RPS <= 0 {
		s.RateLimit.RPS = defaultRateRPS
	}
	if s.RateLimit.Burst <= 0 {
		s.RateLimit.Burst = defaultRateBurst
	}
	if s.MaxRequestBody <= 0 {
		s.MaxRequestBody = defaultMaxRequestBody
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = Duration(defaultReadTimeout)
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = Duration(defaultWriteTimeout)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}

	if c.Store.MaxTxnRetries <= 0 {
		c.Store.MaxTxnRetries = defaultMaxTxnRetries
	}
	if c.Store.CommitHistory <= 0 {
		c.Store.CommitHistory = defaultCommitHistory
	}

	l := &c.Live
	if l.Workers <= 0 {
		l.Workers = defaultLiveWorkers
	}
	if l.RefreshInterval <= 0 {
		l.RefreshInterval = Duration(defaultLiveRefresh)
	}
	if l.MaxSubscriptions <= 0 {
		l.MaxSubscriptions = defaultLiveMaxSubs
	}
	if l.MaxPerConnection <= 0 {
		l.MaxPerConnection = defaultLiveMaxPerConn
	}
	if l.PingInterval <= 0 {
		l.PingInterval = Duration(defaultLivePingInterval)
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = defaultLiveMaxMessageSize
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = defaultLiveSendBuffer
	}

	if c.Presence.OnlineThreshold <= 0 {
		c.Presence.OnlineThreshold = Duration(defaultOnlineThreshold)
	}
	if c.Presence.SweepCron == "" {
		c.Presence.SweepCron = defaultSweepCron
	}
	if c.Chat.EditWindow <= 0 {
		c.Chat.EditWindow = Duration(defaultEditWindow)
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = Duration(defaultSessionTTL)
	}
	if c.Blob.URLTTL <= 0 {
		c.Blob.URLTTL = Duration(defaultBlobURLTTL)
	}

	t := &c.Telemetry
	if t.SlowThreshold <= 0 {
		t.SlowThreshold = Duration(defaultTelemetrySlow)
	}
	if t.BufferSize <= 0 {
		t.BufferSize = defaultTelemetryBuffer
	}
	if t.FileMaxSize <= 0 {
		t.FileMaxSize = defaultTelemetryFileMax
	}
	if t.FlushInterval <= 0 {
		t.FlushInterval = Duration(defaultTelemetryFlush)
	}
	if t.QueueCapacity <= 0 {
		t.QueueCapacity = defaultTelemetryQueue
	}
}

// ValidateConfig applies defaults and fails fast on invalid settings.
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	cfg.ApplyDefaults()

	if strings.TrimSpace(eff.DBPath) == "" {
		return fmt.Errorf("database path is empty: set --db flag, %sDB_PATH env, or server.db_path in config", envPrefix)
	}

	cert, key := cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	if (cert == "") != (key == "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q: want text or json", cfg.Logging.Format)
	}

	if cfg.Presence.SweepEnabled && !gronx.New().IsValid(cfg.Presence.SweepCron) {
		return fmt.Errorf("invalid presence.sweep_cron: %q is not a valid cron expression", cfg.Presence.SweepCron)
	}

	if cfg.Blob.BaseURL != "" && cfg.Blob.SigningKey == "" {
		return fmt.Errorf("blob.base_url is set but blob.signing_key is empty")
	}
	// live message lists re-sign attachment URLs on the refresh tick
	if cfg.Blob.BaseURL != "" && cfg.Live.RefreshInterval >= cfg.Blob.URLTTL {
		return fmt.Errorf("live.refresh_interval (%s) must be shorter than blob.url_ttl (%s)",
			cfg.Live.RefreshInterval.Duration(), cfg.Blob.URLTTL.Duration())
	}
	if cfg.Session.Secret != "" && len(cfg.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 bytes")
	}
	return nil
}
