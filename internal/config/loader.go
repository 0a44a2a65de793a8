package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CMIBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CMIBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject credentials at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "CMIBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.Username, "CMIBOT_EXCHANGE_USERNAME")
	setStr(&cfg.Exchange.Password, "CMIBOT_EXCHANGE_PASSWORD")
	setDuration(&cfg.Exchange.RequestTimeout, "CMIBOT_EXCHANGE_REQUEST_TIMEOUT")
	setDuration(&cfg.Exchange.StreamIdleTimeout, "CMIBOT_EXCHANGE_STREAM_IDLE_TIMEOUT")

	// ── Stream ──
	setDuration(&cfg.Stream.ReconnectBaseDelay, "CMIBOT_STREAM_RECONNECT_BASE_DELAY")
	setDuration(&cfg.Stream.ReconnectMaxDelay, "CMIBOT_STREAM_RECONNECT_MAX_DELAY")
	setDuration(&cfg.Stream.StopTimeout, "CMIBOT_STREAM_STOP_TIMEOUT")

	// ── Ledger ──
	setDuration(&cfg.Ledger.PollInterval, "CMIBOT_LEDGER_POLL_INTERVAL")
	setDuration(&cfg.Ledger.ArchiveInterval, "CMIBOT_LEDGER_ARCHIVE_INTERVAL")
	setDuration(&cfg.Ledger.Retention, "CMIBOT_LEDGER_RETENTION")

	// ── Dispatch ──
	setInt(&cfg.Dispatch.MaxConcurrency, "CMIBOT_DISPATCH_MAX_CONCURRENCY")
	setDuration(&cfg.Dispatch.CancelDedupTTL, "CMIBOT_DISPATCH_CANCEL_DEDUP_TTL")

	// ── Strategy ──
	setBool(&cfg.Strategy.Enabled, "CMIBOT_STRATEGY_ENABLED")
	setStr(&cfg.Strategy.Name, "CMIBOT_STRATEGY_NAME")
	setStr(&cfg.Strategy.Target, "CMIBOT_STRATEGY_TARGET")
	setComponents(&cfg.Strategy.Components, "CMIBOT_STRATEGY_COMPONENTS")
	setFloat64(&cfg.Strategy.MinSpread, "CMIBOT_STRATEGY_MIN_SPREAD")
	setInt(&cfg.Strategy.MaxPosition, "CMIBOT_STRATEGY_MAX_POSITION")
	setInt(&cfg.Strategy.OrderSize, "CMIBOT_STRATEGY_ORDER_SIZE")

	// ── Close ──
	setDuration(&cfg.Close.Interval, "CMIBOT_CLOSE_INTERVAL")
	setDuration(&cfg.Close.SettleDelay, "CMIBOT_CLOSE_SETTLE_DELAY")
	setDuration(&cfg.Close.OrderDelay, "CMIBOT_CLOSE_ORDER_DELAY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CMIBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CMIBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CMIBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CMIBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CMIBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CMIBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CMIBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CMIBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CMIBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CMIBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CMIBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CMIBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CMIBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CMIBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CMIBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CMIBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CMIBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CMIBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CMIBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CMIBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CMIBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CMIBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CMIBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CMIBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CMIBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CMIBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CMIBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CMIBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CMIBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CMIBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CMIBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CMIBOT_MODE")
	setStr(&cfg.LogLevel, "CMIBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setComponents parses "A:1,B:2,C" into weighted components. A missing weight
// means 1. The whole value is ignored if any entry is malformed.
func setComponents(dst *[]ComponentConfig, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []ComponentConfig
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		product, weight, found := strings.Cut(part, ":")
		w := 1
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(weight))
			if err != nil {
				return
			}
			w = n
		}
		out = append(out, ComponentConfig{Product: strings.TrimSpace(product), Weight: w})
	}
	if len(out) > 0 {
		*dst = out
	}
}
