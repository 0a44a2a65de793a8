// Package config defines the top-level configuration for cmibot and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CMIBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Stream   StreamConfig   `toml:"stream"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Strategy StrategyConfig `toml:"strategy"`
	Close    CloseConfig    `toml:"close"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds the CMI venue endpoint and account credentials.
type ExchangeConfig struct {
	BaseURL           string   `toml:"base_url"`
	Username          string   `toml:"username"`
	Password          string   `toml:"password"`
	RequestTimeout    duration `toml:"request_timeout"`
	StreamIdleTimeout duration `toml:"stream_idle_timeout"`
}

// StreamConfig holds reconnect and shutdown timing for the market stream.
type StreamConfig struct {
	ReconnectBaseDelay duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  duration `toml:"reconnect_max_delay"`
	StopTimeout        duration `toml:"stop_timeout"`
}

// LedgerConfig holds trade-history polling and archival intervals.
type LedgerConfig struct {
	PollInterval duration `toml:"poll_interval"`
	// ArchiveInterval of zero disables S3 archival. Trades stored in
	// Postgres longer than Retention are moved to S3 on each run.
	ArchiveInterval duration `toml:"archive_interval"`
	Retention       duration `toml:"retention"`
}

// DispatchConfig bounds order fan-out.
type DispatchConfig struct {
	// MaxConcurrency of zero sends every leg of a batch at once.
	MaxConcurrency int      `toml:"max_concurrency"`
	CancelDedupTTL duration `toml:"cancel_dedup_ttl"`
}

// ComponentConfig is one weighted leg of a synthetic basket.
type ComponentConfig struct {
	Product string `toml:"product"`
	Weight  int    `toml:"weight"`
}

// StrategyConfig holds the basket arbitrage parameters.
type StrategyConfig struct {
	Enabled     bool              `toml:"enabled"`
	Name        string            `toml:"name"`
	Target      string            `toml:"target"`
	Components  []ComponentConfig `toml:"components"`
	MinSpread   float64           `toml:"min_spread"`
	MaxPosition int               `toml:"max_position"`
	OrderSize   int               `toml:"order_size"`
}

// Products returns the target followed by every component symbol.
func (s StrategyConfig) Products() []string {
	out := make([]string, 0, len(s.Components)+1)
	out = append(out, s.Target)
	for _, c := range s.Components {
		out = append(out, c.Product)
	}
	return out
}

// CloseConfig holds timing for the flatten and close modes.
type CloseConfig struct {
	Interval    duration `toml:"interval"`
	SettleDelay duration `toml:"settle_delay"`
	OrderDelay  duration `toml:"order_delay"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// book mirror and signal bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// PostgresConfig holds PostgreSQL connection parameters. An empty DSN and Host
// disables durable storage.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || strings.TrimSpace(p.Host) != ""
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables ledger archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool { return strings.TrimSpace(s.Bucket) != "" }

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every route except health and metrics. Empty disables it.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:           "http://localhost:8080",
			RequestTimeout:    duration{30 * time.Second},
			StreamIdleTimeout: duration{30 * time.Second},
		},
		Stream: StreamConfig{
			ReconnectBaseDelay: duration{time.Second},
			ReconnectMaxDelay:  duration{30 * time.Second},
			StopTimeout:        duration{5 * time.Second},
		},
		Ledger: LedgerConfig{
			PollInterval: duration{5 * time.Second},
			Retention:    duration{7 * 24 * time.Hour},
		},
		Dispatch: DispatchConfig{
			MaxConcurrency: 0,
			CancelDedupTTL: duration{2 * time.Second},
		},
		Strategy: StrategyConfig{
			Enabled: true,
			Name:    "etf_arb",
			Target:  "ETF",
			Components: []ComponentConfig{
				{Product: "A", Weight: 1},
				{Product: "B", Weight: 1},
				{Product: "C", Weight: 1},
			},
			MinSpread:   1.0,
			MaxPosition: 100,
			OrderSize:   5,
		},
		Close: CloseConfig{
			Interval:    duration{5 * time.Second},
			SettleDelay: duration{500 * time.Millisecond},
			OrderDelay:  duration{200 * time.Millisecond},
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"execution", "partial_execution", "stream_error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"flatten": true,
	"close":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, flatten, close)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.Username == "" || c.Exchange.Password == "" {
		errs = append(errs, "exchange: username and password are required")
	}
	if c.Exchange.RequestTimeout.Duration <= 0 {
		errs = append(errs, "exchange: request_timeout must be > 0")
	}

	// Stream
	if c.Stream.ReconnectBaseDelay.Duration <= 0 {
		errs = append(errs, "stream: reconnect_base_delay must be > 0")
	}
	if c.Stream.ReconnectMaxDelay.Duration < c.Stream.ReconnectBaseDelay.Duration {
		errs = append(errs, "stream: reconnect_max_delay must not be below reconnect_base_delay")
	}
	if c.Stream.StopTimeout.Duration <= 0 {
		errs = append(errs, "stream: stop_timeout must be > 0")
	}

	// Ledger
	if c.Ledger.PollInterval.Duration <= 0 {
		errs = append(errs, "ledger: poll_interval must be > 0")
	}
	if c.Ledger.ArchiveInterval.Duration < 0 {
		errs = append(errs, "ledger: archive_interval must be >= 0")
	}

	if c.Dispatch.MaxConcurrency < 0 {
		errs = append(errs, "dispatch: max_concurrency must be >= 0")
	}

	// Strategy is only needed when trading.
	if c.Strategy.Enabled && strings.EqualFold(c.Mode, "trade") {
		if c.Strategy.Target == "" {
			errs = append(errs, "strategy: target must not be empty")
		}
		if len(c.Strategy.Components) == 0 {
			errs = append(errs, "strategy: at least one component is required")
		}
		seen := map[string]bool{c.Strategy.Target: true}
		for _, comp := range c.Strategy.Components {
			if comp.Product == "" {
				errs = append(errs, "strategy: component product must not be empty")
				continue
			}
			if seen[comp.Product] {
				errs = append(errs, fmt.Sprintf("strategy: product %q listed twice", comp.Product))
			}
			seen[comp.Product] = true
			if comp.Weight < 0 {
				errs = append(errs, fmt.Sprintf("strategy: component %q weight must be >= 0", comp.Product))
			}
		}
		if c.Strategy.MinSpread < 0 {
			errs = append(errs, "strategy: min_spread must be >= 0")
		}
		if c.Strategy.MaxPosition < 1 {
			errs = append(errs, "strategy: max_position must be >= 1")
		}
		if c.Strategy.OrderSize < 1 {
			errs = append(errs, "strategy: order_size must be >= 1")
		}
	}

	// Close
	if c.Close.Interval.Duration <= 0 {
		errs = append(errs, "close: interval must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Ledger.ArchiveInterval.Duration > 0 {
		if !c.S3.Enabled() {
			errs = append(errs, "s3: bucket is required when ledger.archive_interval is set")
		}
		if !c.Postgres.Enabled() {
			errs = append(errs, "postgres: dsn or host is required when ledger.archive_interval is set")
		}
		if c.Ledger.Retention.Duration <= 0 {
			errs = append(errs, "ledger: retention must be > 0 when archiving")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
