package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /tmp/convo
  max_request_body: 8MB
  api_keys:
    backend: [sk_one]
live:
  refresh_interval: 5s
presence:
  online_threshold: 90
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "/tmp/convo", cfg.Server.DBPath)
	assert.Equal(t, int64(8_000_000), cfg.Server.MaxRequestBody.Int64())
	assert.Equal(t, 5*time.Second, cfg.Live.RefreshInterval.Duration())
	assert.Equal(t, 90*time.Second, cfg.Presence.OnlineThreshold.Duration())

	rc := RuntimeFrom(cfg)
	assert.Contains(t, rc.BackendKeys, "sk_one")
	assert.Contains(t, rc.SigningKeys, "sk_one")
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, errConfigNotFound)

	cfg, found, err := ParseConfigFile(Flags{Config: filepath.Join(t.TempDir(), "nope.yaml"), Set: map[string]bool{"config": true}})
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotNil(t, cfg)
}

func TestParseEnvs(t *testing.T) {
	env := map[string]string{
		"CONVODB_ADDR":             "0.0.0.0:7000",
		"CONVODB_DB_PATH":          "/data",
		"CONVODB_API_BACKEND_KEYS": "a, b,,c",
		"CONVODB_LIVE_WORKERS":     "three",
		"CONVODB_CHAT_EDIT_WINDOW": "2m",
		"CONVODB_STORE_SYNC":       "yes",
		"CONVODB_LIVE_SEND_BUFFER": "256",
	}
	cfg, res := parseEnvs(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.True(t, res.EnvUsed)
	require.Len(t, res.Invalid, 1)
	assert.Contains(t, res.Invalid[0], "CONVODB_LIVE_WORKERS")
	assert.Equal(t, "0.0.0.0:7000", cfg.Addr())
	assert.Equal(t, "/data", cfg.Server.DBPath)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Chat.EditWindow.Duration())
	assert.True(t, cfg.Store.Sync)
	assert.Equal(t, 256, cfg.Live.SendBuffer)
}

func TestParseConfigFlags(t *testing.T) {
	f, err := ParseConfigFlags([]string{"-addr", ":9999"})
	require.NoError(t, err)
	assert.True(t, f.Set["addr"])
	assert.False(t, f.Set["db"])
	assert.Equal(t, "./.database", f.DB)
}

func TestLoadEffectiveConfigPrecedence(t *testing.T) {
	file := &Config{}
	file.Server.DBPath = "/file"
	file.Server.Port = 1000
	env := &Config{}
	env.Server.DBPath = "/env"

	eff, err := LoadEffectiveConfig(Flags{DB: "./.database", Set: map[string]bool{}}, file, true, env, EnvResult{})
	require.NoError(t, err)
	assert.Equal(t, "config", eff.Source)
	assert.Equal(t, "/file", eff.DBPath)

	eff, err = LoadEffectiveConfig(Flags{DB: "./.database", Set: map[string]bool{}}, &Config{}, false, env, EnvResult{})
	require.NoError(t, err)
	assert.Equal(t, "env", eff.Source)
	assert.Equal(t, "/env", eff.DBPath)

	eff, err = LoadEffectiveConfig(Flags{Addr: "127.0.0.1:5000", DB: "/flag", Set: map[string]bool{"addr": true, "db": true}}, file, true, env, EnvResult{})
	require.NoError(t, err)
	assert.Equal(t, "flags", eff.Source)
	assert.Equal(t, "127.0.0.1:5000", eff.Addr)
	assert.Equal(t, "/flag", eff.DBPath)
	assert.Equal(t, "/file", file.Server.DBPath)

	_, err = LoadEffectiveConfig(Flags{Config: "x.yaml", Set: map[string]bool{"config": true}}, &Config{}, false, env, EnvResult{})
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	cfg := &Config{}
	cfg.Server.DBPath = "/db"
	eff := EffectiveConfigResult{Config: cfg, DBPath: "/db"}
	require.NoError(t, ValidateConfig(eff))
	assert.Equal(t, defaultSweepCron, cfg.Presence.SweepCron)
	assert.Equal(t, defaultEditWindow, cfg.Chat.EditWindow.Duration())
	assert.Equal(t, defaultLiveWorkers, cfg.Live.Workers)
	assert.Equal(t, defaultLiveSendBuffer, cfg.Live.SendBuffer)

	cases := map[string]func(c *Config){
		"tls half":     func(c *Config) { c.Server.TLS.CertFile = "cert.pem" },
		"bad cron":     func(c *Config) { c.Presence.SweepEnabled = true; c.Presence.SweepCron = "every minute" },
		"bad format":   func(c *Config) { c.Logging.Format = "xml" },
		"blob no key":  func(c *Config) { c.Blob.BaseURL = "https://b" },
		"short secret": func(c *Config) { c.Session.Secret = "tiny" },
		"url ttl below refresh": func(c *Config) {
			c.Blob.BaseURL, c.Blob.SigningKey = "https://b", "k"
			c.Blob.URLTTL = Duration(10 * time.Second)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := &Config{}
			mutate(c)
			assert.Error(t, ValidateConfig(EffectiveConfigResult{Config: c, DBPath: "/db"}))
		})
	}

	assert.Error(t, ValidateConfig(EffectiveConfigResult{Config: &Config{}}))
}

func TestMarshalHumanValues(t *testing.T) {
	in := struct {
		Body SizeBytes `yaml:"body"`
		Odd  SizeBytes `yaml:"odd"`
		Wait Duration  `yaml:"wait"`
	}{Body: 4 << 20, Odd: 8_000_000, Wait: Duration(90 * time.Second)}
	b, err := yaml.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(b), "body: 4.0 MiB")
	require.Contains(t, string(b), "odd: 8000000")
	require.Contains(t, string(b), "wait: 1m30s")
}
