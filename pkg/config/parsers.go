package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "CONVODB_"

// Flags holds parsed command-line values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EnvResult describes what the environment contributed.
type EnvResult struct {
	EnvUsed bool
	// Invalid lists variables whose values could not be parsed.
	Invalid []string
}

// EffectiveConfigResult is the single config source chosen at startup.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

func ParseConfigFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("convodb", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	db := fs.String("db", "./.database", "Pebble DB path")
	cfg := fs.String("config", "./config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addr, DB: *db, Config: *cfg, Set: set}, nil
}

// ParseConfigFile loads the config file; found is false when it is absent.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfg, err := LoadConfigFile(ResolveConfigPath(flags.Config, flags.Set["config"]))
	if err != nil {
		if errors.Is(err, errConfigNotFound) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads CONVODB_* variables into a fresh Config.
func ParseConfigEnvs() (*Config, EnvResult) {
	return parseEnvs(os.LookupEnv)
}

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func parseList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func setInt(dst *int) func(*Config, string) error {
	return func(_ *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

var envBindings = []envBinding{
	{"ADDR", func(c *Config, v string) error {
		h, p, err := net.SplitHostPort(v)
		if err != nil {
			c.Server.Address = v
			return nil
		}
		c.Server.Address = h
		if p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return err
			}
			c.Server.Port = port
		}
		return nil
	}},
	{"SERVER_ADDRESS", func(c *Config, v string) error { c.Server.Address = v; return nil }},
	{"SERVER_PORT", func(c *Config, v string) error { return setInt(&c.Server.Port)(c, v) }},
	{"DB_PATH", func(c *Config, v string) error { c.Server.DBPath = v; return nil }},
	{"TLS_CERT", func(c *Config, v string) error { c.Server.TLS.CertFile = v; return nil }},
	{"TLS_KEY", func(c *Config, v string) error { c.Server.TLS.KeyFile = v; return nil }},
	{"CORS_ORIGINS", func(c *Config, v string) error { c.Server.CORS.AllowedOrigins = parseList(v); return nil }},
	{"RATE_RPS", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		c.Server.RateLimit.RPS = f
		return err
	}},
	{"RATE_BURST", func(c *Config, v string) error { return setInt(&c.Server.RateLimit.Burst)(c, v) }},
	{"IP_WHITELIST", func(c *Config, v string) error { c.Server.IPWhitelist = parseList(v); return nil }},
	{"API_BACKEND_KEYS", func(c *Config, v string) error { c.Server.APIKeys.Backend = parseList(v); return nil }},
	{"API_FRONTEND_KEYS", func(c *Config, v string) error { c.Server.APIKeys.Frontend = parseList(v); return nil }},
	{"API_ADMIN_KEYS", func(c *Config, v string) error { c.Server.APIKeys.Admin = parseList(v); return nil }},
	{"MAX_REQUEST_BODY", func(c *Config, v string) (err error) { c.Server.MaxRequestBody, err = parseSize(v); return }},

	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = strings.TrimSpace(v); return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = strings.TrimSpace(v); return nil }},
	{"LOG_AUDIT", func(c *Config, v string) error { c.Logging.Audit = parseBool(v); return nil }},

	{"STORE_SYNC", func(c *Config, v string) error { c.Store.Sync = parseBool(v); return nil }},
	{"STORE_DISABLE_WAL", func(c *Config, v string) error { c.Store.DisableWAL = parseBool(v); return nil }},
	{"STORE_MAX_TXN_RETRIES", func(c *Config, v string) error { return setInt(&c.Store.MaxTxnRetries)(c, v) }},
	{"STORE_COMMIT_HISTORY", func(c *Config, v string) error { return setInt(&c.Store.CommitHistory)(c, v) }},

	{"LIVE_WORKERS", func(c *Config, v string) error { return setInt(&c.Live.Workers)(c, v) }},
	{"LIVE_REFRESH_INTERVAL", func(c *Config, v string) (err error) { c.Live.RefreshInterval, err = parseDuration(v); return }},
	{"LIVE_MAX_SUBSCRIPTIONS", func(c *Config, v string) error { return setInt(&c.Live.MaxSubscriptions)(c, v) }},
	{"LIVE_MAX_PER_CONNECTION", func(c *Config, v string) error { return setInt(&c.Live.MaxPerConnection)(c, v) }},
	{"LIVE_SEND_BUFFER", func(c *Config, v string) error { return setInt(&c.Live.SendBuffer)(c, v) }},
	{"LIVE_PING_INTERVAL", func(c *Config, v string) (err error) { c.Live.PingInterval, err = parseDuration(v); return }},

	{"PRESENCE_ONLINE_THRESHOLD", func(c *Config, v string) (err error) {
		c.Presence.OnlineThreshold, err = parseDuration(v)
		return
	}},
	{"PRESENCE_SWEEP_ENABLED", func(c *Config, v string) error { c.Presence.SweepEnabled = parseBool(v); return nil }},
	{"PRESENCE_SWEEP_CRON", func(c *Config, v string) error { c.Presence.SweepCron = v; return nil }},

	{"CHAT_EDIT_WINDOW", func(c *Config, v string) (err error) { c.Chat.EditWindow, err = parseDuration(v); return }},

	{"SESSION_SECRET", func(c *Config, v string) error { c.Session.Secret = v; return nil }},
	{"SESSION_TTL", func(c *Config, v string) (err error) { c.Session.TTL, err = parseDuration(v); return }},

	{"BLOB_BASE_URL", func(c *Config, v string) error { c.Blob.BaseURL = v; return nil }},
	{"BLOB_SIGNING_KEY", func(c *Config, v string) error { c.Blob.SigningKey = v; return nil }},
	{"BLOB_URL_TTL", func(c *Config, v string) (err error) { c.Blob.URLTTL, err = parseDuration(v); return }},

	{"TELEMETRY_SLOW_THRESHOLD", func(c *Config, v string) (err error) {
		c.Telemetry.SlowThreshold, err = parseDuration(v)
		return
	}},
	{"TELEMETRY_DIR", func(c *Config, v string) error { c.Telemetry.Dir = v; return nil }},
}

func parseEnvs(lookup func(string) (string, bool)) (*Config, EnvResult) {
	cfg := &Config{}
	var res EnvResult
	for _, b := range envBindings {
		v, ok := lookup(envPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		res.EnvUsed = true
		if err := b.apply(cfg, v); err != nil {
			res.Invalid = append(res.Invalid, fmt.Sprintf("%s%s: %v", envPrefix, b.name, err))
		}
	}
	return cfg, res
}

// LoadEffectiveConfig picks one source. An explicit --config wins; else
// --addr/--db flags; else the config file when present; else the environment.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, _ EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		return fromConfig(fileCfg, "config"), nil
	}

	if flags.Set["addr"] || flags.Set["db"] {
		base := envCfg
		if fileExists {
			base = fileCfg
		}
		out := *base
		if flags.Set["addr"] {
			host, port := splitAddr(flags.Addr)
			out.Server.Address = host
			out.Server.Port = port
		}
		if flags.Set["db"] {
			out.Server.DBPath = flags.DB
		} else if out.Server.DBPath == "" {
			out.Server.DBPath = flags.DB
		}
		res = fromConfig(&out, "flags")
		return res, nil
	}

	if fileExists {
		return fromConfig(fileCfg, "config"), nil
	}
	if envCfg.Server.DBPath == "" {
		envCfg.Server.DBPath = flags.DB
	}
	return fromConfig(envCfg, "env"), nil
}

func fromConfig(c *Config, source string) EffectiveConfigResult {
	return EffectiveConfigResult{Config: c, Addr: c.Addr(), DBPath: c.Server.DBPath, Source: source}
}

func splitAddr(a string) (string, int) {
	h, p, err := net.SplitHostPort(a)
	if err != nil {
		return a, 0
	}
	port, _ := strconv.Atoi(p)
	return h, port
}
