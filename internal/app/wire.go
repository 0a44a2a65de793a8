package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/cmibot/internal/blob/s3"
	"github.com/alanyoungcy/cmibot/internal/book"
	"github.com/alanyoungcy/cmibot/internal/cache/redis"
	"github.com/alanyoungcy/cmibot/internal/config"
	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/executor"
	"github.com/alanyoungcy/cmibot/internal/ledger"
	"github.com/alanyoungcy/cmibot/internal/metrics"
	"github.com/alanyoungcy/cmibot/internal/notify"
	"github.com/alanyoungcy/cmibot/internal/platform/cmi"
	"github.com/alanyoungcy/cmibot/internal/store/postgres"
)

// Dependencies bundles everything the modes need. The core (client, books,
// ledger, dispatcher) is always present; the infrastructure adapters are nil
// when their config section is empty.
type Dependencies struct {
	Client     *cmi.Client
	Metrics    *metrics.Metrics
	Books      *book.Store
	Ledger     *ledger.Ledger
	Dispatcher *executor.Dispatcher

	// Products is the venue catalogue, loaded once per session by the
	// streaming modes.
	Products []domain.Product

	// Postgres
	TradeStore     *postgres.TradeStore
	ExecutionStore *postgres.ExecutionStore
	AuditStore     domain.AuditStore

	// Redis
	BookCache domain.OrderbookCache
	SignalBus domain.SignalBus
	Locks     *redis.LockManager

	// S3
	Archiver *s3blob.LedgerArchiver

	Notifier *notify.Notifier
}

// audit records a lifecycle event when an audit store is configured.
func (d *Dependencies) audit(ctx context.Context, logger *slog.Logger, event string, detail map[string]any) {
	if d.AuditStore == nil {
		return
	}
	if err := d.AuditStore.Log(ctx, event, detail); err != nil {
		logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// Wire constructs all dependencies from cfg and returns them together with a
// cleanup function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Books:   book.NewStore(),
	}

	deps.Client = cmi.NewClient(cmi.ClientConfig{
		BaseURL:        cfg.Exchange.BaseURL,
		Username:       cfg.Exchange.Username,
		Password:       cfg.Exchange.Password,
		RequestTimeout: cfg.Exchange.RequestTimeout.Duration,
	}, logger)

	deps.Dispatcher = executor.NewDispatcher(deps.Client, executor.DispatcherConfig{
		MaxConcurrency: cfg.Dispatch.MaxConcurrency,
		CancelDedupTTL: cfg.Dispatch.CancelDedupTTL.Duration,
	}, deps.Metrics, logger)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool, logger)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	ledgerOpts := []ledger.Option{ledger.WithMetrics(deps.Metrics)}
	if deps.TradeStore != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithSink(deps.TradeStore))
	}
	deps.Ledger = ledger.New(deps.Client, logger, ledgerOpts...)

	// --- Redis ---
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewOrderbookCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- S3 ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewLedgerArchiver(s3blob.NewWriter(s3Client), deps.AuditStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
