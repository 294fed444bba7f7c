package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds key sets resolved at startup for other packages.
type RuntimeConfig struct {
	BackendKeys map[string]struct{}
	SigningKeys map[string]struct{}
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Live      LiveConfig      `yaml:"live"`
	Presence  PresenceConfig  `yaml:"presence"`
	Chat      ChatConfig      `yaml:"chat"`
	Session   SessionConfig   `yaml:"session"`
	Blob      BlobConfig      `yaml:"blob"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
	CORS    struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
		Admin    []string `yaml:"admin"`
	} `yaml:"api_keys"`
	MaxRequestBody SizeBytes `yaml:"max_request_body"`
	ReadTimeout    Duration  `yaml:"read_timeout"`
	WriteTimeout   Duration  `yaml:"write_timeout"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
	Audit  bool   `yaml:"audit"`
}

type StoreConfig struct {
	Sync          bool `yaml:"sync"`
	DisableWAL    bool `yaml:"disable_wal"`
	MaxTxnRetries int  `yaml:"max_txn_retries"`
	// CommitHistory is how many recent commits are kept for conflict checks.
	CommitHistory int `yaml:"commit_history"`
}

type LiveConfig struct {
	Workers          int      `yaml:"workers"`
	RefreshInterval  Duration `yaml:"refresh_interval"`
	MaxSubscriptions int      `yaml:"max_subscriptions"`
	// MaxPerConnection caps subscriptions on one websocket.
	MaxPerConnection int       `yaml:"max_per_connection"`
	PingInterval     Duration  `yaml:"ping_interval"`
	MaxMessageSize   SizeBytes `yaml:"max_message_size"`
	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int `yaml:"send_buffer"`
}

type PresenceConfig struct {
	OnlineThreshold Duration `yaml:"online_threshold"`
	SweepEnabled    bool     `yaml:"sweep_enabled"`
	SweepCron       string   `yaml:"sweep_cron"`
}

type ChatConfig struct {
	EditWindow Duration `yaml:"edit_window"`
}

type SessionConfig struct {
	Secret string   `yaml:"secret"`
	TTL    Duration `yaml:"ttl"`
}

type BlobConfig struct {
	BaseURL    string   `yaml:"base_url"`
	SigningKey string   `yaml:"signing_key"`
	URLTTL     Duration `yaml:"url_ttl"`
}

type TelemetryConfig struct {
	SlowThreshold Duration  `yaml:"slow_threshold"`
	Dir           string    `yaml:"dir"`
	BufferSize    SizeBytes `yaml:"buffer_size"`
	FileMaxSize   SizeBytes `yaml:"file_max_size"`
	FlushInterval Duration  `yaml:"flush_interval"`
	QueueCapacity int       `yaml:"queue_capacity"`
}

// SizeBytes is a byte count read from strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

// MarshalYAML writes the human form when it reads back exactly.
func (s SizeBytes) MarshalYAML() (any, error) {
	if v, err := parseSize(s.String()); err == nil && v == s {
		return s.String(), nil
	}
	return int64(s), nil
}

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration reads "100ms"-style strings or plain numbers of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
