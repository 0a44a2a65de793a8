package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "monitor"
log_level = "debug"

[exchange]
base_url = "http://cmi.local:9000"
username = "team"
password = "hunter2"
request_timeout = "10s"

[stream]
reconnect_base_delay = "250ms"
reconnect_max_delay = "8s"

[strategy]
target = "IDX"
min_spread = 2.5
components = [
  { product = "X", weight = 2 },
  { product = "Y", weight = 1 },
]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "http://cmi.local:9000", cfg.Exchange.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Exchange.RequestTimeout.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.ReconnectBaseDelay.Duration)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Stream.StopTimeout.Duration)
	assert.Equal(t, 100, cfg.Strategy.MaxPosition)

	assert.Equal(t, []string{"IDX", "X", "Y"}, cfg.Strategy.Products())
	assert.Equal(t, 2, cfg.Strategy.Components[0].Weight)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CMIBOT_EXCHANGE_PASSWORD", "from-env")
	t.Setenv("CMIBOT_DISPATCH_MAX_CONCURRENCY", "3")
	t.Setenv("CMIBOT_STRATEGY_COMPONENTS", "P:3, Q")
	t.Setenv("CMIBOT_LEDGER_POLL_INTERVAL", "750ms")
	t.Setenv("CMIBOT_NOTIFY_EVENTS", "execution, ,stream_error")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Exchange.Password)
	assert.Equal(t, 3, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, []ComponentConfig{{Product: "P", Weight: 3}, {Product: "Q", Weight: 1}}, cfg.Strategy.Components)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.PollInterval.Duration)
	assert.Equal(t, []string{"execution", "stream_error"}, cfg.Notify.Events)
}

func TestLoad_MalformedComponentsIgnored(t *testing.T) {
	t.Setenv("CMIBOT_STRATEGY_COMPONENTS", "P:x")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Strategy.Components, cfg.Strategy.Components)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Defaults()
		c.Exchange.Username = "u"
		c.Exchange.Password = "p"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with credentials", func(*Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Mode = "backtest" }, "unknown mode"},
		{"missing credentials", func(c *Config) { c.Exchange.Password = "" }, "username and password"},
		{"duplicate product", func(c *Config) {
			c.Strategy.Components = append(c.Strategy.Components, ComponentConfig{Product: "A", Weight: 1})
		}, `product "A" listed twice`},
		{"target listed as component", func(c *Config) {
			c.Strategy.Components = []ComponentConfig{{Product: "ETF", Weight: 1}}
		}, "listed twice"},
		{"strategy ignored outside trade", func(c *Config) {
			c.Mode = "flatten"
			c.Strategy.Target = ""
		}, ""},
		{"backoff cap below base", func(c *Config) {
			c.Stream.ReconnectMaxDelay = duration{time.Millisecond}
		}, "reconnect_max_delay"},
		{"archive without bucket", func(c *Config) {
			c.Ledger.ArchiveInterval = duration{time.Hour}
			c.Postgres.Host = "db"
		}, "bucket is required"},
		{"archive without postgres", func(c *Config) {
			c.Ledger.ArchiveInterval = duration{time.Hour}
			c.S3.Bucket = "ledger"
		}, "postgres: dsn or host is required"},
		{"archive configured", func(c *Config) {
			c.Ledger.ArchiveInterval = duration{time.Hour}
			c.S3.Bucket = "ledger"
			c.Postgres.Host = "db"
		}, ""},
		{"postgres pool inverted", func(c *Config) {
			c.Postgres.Host = "db"
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed"},
		{"bad server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	c := Defaults()
	c.Exchange.Password = "secret"
	c.Postgres.DSN = "postgres://u:p@db/cmibot"
	c.Notify.TelegramToken = "tok"
	c.Server.APIKey = "key"

	out := RedactedConfig(&c)
	assert.Equal(t, "***", out.Exchange.Password)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Server.APIKey)
	// empty secrets stay empty
	assert.Equal(t, "", out.Redis.Password)
	// original untouched
	assert.Equal(t, "secret", c.Exchange.Password)

	out.Strategy.Components[0].Product = "mutated"
	assert.Equal(t, "A", c.Strategy.Components[0].Product)
}
