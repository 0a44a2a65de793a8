package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cmibot/internal/cache/redis"
	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/feed"
	"github.com/alanyoungcy/cmibot/internal/ledger"
	"github.com/alanyoungcy/cmibot/internal/pipeline"
	"github.com/alanyoungcy/cmibot/internal/server"
	"github.com/alanyoungcy/cmibot/internal/server/handler"
	"github.com/alanyoungcy/cmibot/internal/server/ws"
	"github.com/alanyoungcy/cmibot/internal/service"
	"github.com/alanyoungcy/cmibot/internal/strategy"
)

const (
	traderLockTTL         = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
	monitorReportInterval = 10 * time.Second
	executionReplay       = 50
)

// marketData is the running stream plus the views built on it.
type marketData struct {
	stream *feed.Stream
	status *service.StatusService
	hub    *ws.Hub
}

// TradeMode streams books into the strategy engine and dispatches baskets.
// On shutdown every resting order is cancelled and the stream is stopped.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	if err := a.startSession(ctx, deps); err != nil {
		return err
	}

	if deps.Locks != nil {
		unlock, err := deps.Locks.Hold(ctx, redis.TraderLockKey(deps.Client.Username()), traderLockTTL)
		if err != nil {
			return fmt.Errorf("app: trader lock: %w", err)
		}
		defer unlock()
	}

	registry, err := a.newStrategyRegistry(ctx, deps.Products)
	if err != nil {
		return err
	}
	engine := strategy.NewEngine(registry, deps.Books, deps.Client, deps.Dispatcher, deps.Metrics, a.logger)
	if deps.ExecutionStore != nil {
		engine.AddRecorder(deps.ExecutionStore)
	}
	if deps.SignalBus != nil {
		engine.AddRecorder(redis.NewExecutionPublisher(deps.SignalBus, a.logger))
	}
	if deps.Notifier.Enabled() {
		engine.AddRecorder(deps.Notifier)
	}
	deps.Books.OnUpdate(engine.HandleBookUpdate)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	md, err := a.startMarketData(gctx, g, deps, engine)
	if err != nil {
		cancelRun()
		_ = g.Wait()
		return err
	}
	if md.hub != nil {
		engine.AddRecorder(md.hub)
	}

	g.Go(func() error {
		return engine.Run(gctx)
	})

	deps.audit(ctx, a.logger, "mode.start", map[string]any{
		"mode":       "trade",
		"strategies": registry.List(),
	})

	err = g.Wait()

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	cancelled := deps.Dispatcher.CancelAll(shutCtx)
	a.logger.Info("cancelled resting orders", slog.Int("attempted", cancelled))
	if stopErr := md.stream.Stop(); stopErr != nil {
		a.logger.Warn("stream stop", slog.String("error", stopErr.Error()))
	}
	deps.audit(shutCtx, a.logger, "mode.stop", map[string]any{
		"mode":      "trade",
		"cancelled": cancelled,
	})
	return err
}

// MonitorMode streams books and polls the ledger without trading, logging a
// status report on a fixed interval. With Redis configured it also follows
// the executions a trading process publishes.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	if err := a.startSession(ctx, deps); err != nil {
		return err
	}

	registry, err := a.newStrategyRegistry(ctx, deps.Products)
	if err != nil {
		return err
	}
	// Quotes only; the engine is never run, so nothing is dispatched.
	engine := strategy.NewEngine(registry, deps.Books, deps.Client, nil, deps.Metrics, a.logger)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	md, err := a.startMarketData(gctx, g, deps, engine)
	if err != nil {
		cancelRun()
		_ = g.Wait()
		return err
	}
	if md.hub != nil {
		engine.AddRecorder(md.hub)
	}
	if deps.SignalBus != nil {
		follower := redis.NewExecutionFollower(deps.SignalBus, engine, executionReplay, a.logger)
		g.Go(func() error {
			if err := follower.Run(gctx); err != nil && gctx.Err() == nil {
				a.logger.Warn("execution follower stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	g.Go(func() error {
		t := time.NewTicker(monitorReportInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.C:
				md.status.LogReport(gctx)
			}
		}
	})

	err = g.Wait()
	if stopErr := md.stream.Stop(); stopErr != nil {
		a.logger.Warn("stream stop", slog.String("error", stopErr.Error()))
	}
	return err
}

// FlattenMode cancels everything and crosses the spread on every open
// position until the account is flat.
func (a *App) FlattenMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting flatten mode")

	if err := a.authenticate(ctx, deps); err != nil {
		return err
	}

	svc := service.NewPositionService(deps.Client, deps.Dispatcher, nil, a.positionConfig(deps), a.logger)
	deps.audit(ctx, a.logger, "mode.start", map[string]any{"mode": "flatten"})
	if err := svc.Flatten(ctx); err != nil {
		return err
	}
	deps.audit(ctx, a.logger, "flatten.complete", nil)
	return nil
}

// CloseMode closes only positions whose exit beats the average entry price,
// repeating until the account is flat or ctx is cancelled.
func (a *App) CloseMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting close mode")

	if err := a.authenticate(ctx, deps); err != nil {
		return err
	}

	svc := service.NewPositionService(deps.Client, deps.Dispatcher, deps.Ledger, a.positionConfig(deps), a.logger)
	deps.audit(ctx, a.logger, "mode.start", map[string]any{"mode": "close"})
	if err := svc.CloseProfitable(ctx); err != nil {
		return err
	}
	deps.audit(ctx, a.logger, "close.complete", nil)
	return nil
}

func (a *App) authenticate(ctx context.Context, deps *Dependencies) error {
	if _, err := deps.Client.Authenticate(ctx); err != nil {
		return fmt.Errorf("app: authenticate: %w", err)
	}
	a.logger.InfoContext(ctx, "authenticated", slog.String("user", deps.Client.Username()))
	return nil
}

// startSession authenticates and loads the product catalogue. Both are
// preconditions for streaming; either failure ends the mode.
func (a *App) startSession(ctx context.Context, deps *Dependencies) error {
	if err := a.authenticate(ctx, deps); err != nil {
		return err
	}
	products, err := deps.Client.Products(ctx)
	if err != nil {
		return fmt.Errorf("app: list products: %w", err)
	}
	deps.Products = products
	a.logger.InfoContext(ctx, "loaded product catalogue", slog.Int("products", len(products)))
	return nil
}

func (a *App) positionConfig(deps *Dependencies) service.PositionServiceConfig {
	return service.PositionServiceConfig{
		User:        deps.Client.Username(),
		SettleDelay: a.cfg.Close.SettleDelay.Duration,
		OrderDelay:  a.cfg.Close.OrderDelay.Duration,
		Interval:    a.cfg.Close.Interval.Duration,
	}
}

// newStrategyRegistry builds the configured basket strategy. A disabled or
// invalid strategy leaves the registry empty and the engine idle; a strategy
// naming products the venue does not list is an error.
func (a *App) newStrategyRegistry(ctx context.Context, listed []domain.Product) (*strategy.Registry, error) {
	reg := strategy.NewRegistry()
	sc := a.cfg.Strategy
	if !sc.Enabled {
		a.logger.InfoContext(ctx, "strategy disabled, engine will idle")
		return reg, nil
	}
	if missing := unlisted(sc.Products(), listed); len(missing) > 0 {
		return nil, fmt.Errorf("app: strategy %s: products not listed by venue: %s", sc.Name, strings.Join(missing, ", "))
	}

	components := make([]strategy.Component, 0, len(sc.Components))
	for _, c := range sc.Components {
		components = append(components, strategy.Component{Product: c.Product, Weight: c.Weight})
	}
	arb, err := strategy.NewBasketArb(strategy.BasketConfig{
		Name:        sc.Name,
		Target:      sc.Target,
		Components:  components,
		MinSpread:   sc.MinSpread,
		MaxPosition: sc.MaxPosition,
		OrderSize:   sc.OrderSize,
	})
	if err == nil {
		err = reg.Register(arb)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "strategy not registered, engine will idle",
			slog.String("strategy", sc.Name),
			slog.String("error", err.Error()),
		)
	}
	return reg, nil
}

func unlisted(products []string, listed []domain.Product) []string {
	known := make(map[string]struct{}, len(listed))
	for _, p := range listed {
		known[p.Symbol] = struct{}{}
	}
	var missing []string
	for _, p := range products {
		if _, ok := known[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// startMarketData starts the market stream and everything that hangs off it:
// the Redis mirror, the ledger poller, the archive loop and the HTTP server.
// Strategy book listeners must be registered before it is called.
func (a *App) startMarketData(ctx context.Context, g *errgroup.Group, deps *Dependencies, engine *strategy.Engine) (*marketData, error) {
	md := &marketData{}

	var onTrade feed.TradeHandler
	if deps.BookCache != nil || deps.SignalBus != nil {
		publisher := feed.NewPublisher(deps.BookCache, deps.SignalBus, 0, a.logger)
		deps.Books.OnUpdate(publisher.EnqueueBook)
		onTrade = publisher.EnqueueTrade
		g.Go(func() error {
			return publisher.Run(ctx)
		})
	}

	md.stream = feed.NewStream(deps.Client, deps.Books, onTrade, feed.StreamConfig{
		ReconnectDelay:    a.cfg.Stream.ReconnectBaseDelay.Duration,
		MaxReconnectDelay: a.cfg.Stream.ReconnectMaxDelay.Duration,
		IdleTimeout:       a.cfg.Exchange.StreamIdleTimeout.Duration,
		StopTimeout:       a.cfg.Stream.StopTimeout.Duration,
		OnError: func(err error) {
			if deps.Notifier.Enabled() {
				go deps.Notifier.StreamError(context.WithoutCancel(ctx), err)
			}
		},
	}, deps.Metrics, a.logger)

	stream := md.stream
	md.status = service.NewStatusService(
		a.cfg.Mode,
		deps.Books,
		deps.Ledger,
		deps.Client,
		engine,
		func() string { return stream.State().String() },
		a.logger,
	)
	md.status.SetCatalogue(deps.Products)
	if deps.BookCache != nil {
		md.status.SetMirror(deps.BookCache)
	}

	if a.cfg.Server.Enabled {
		md.hub = ws.NewHub(md.status.Status, a.logger)
		deps.Books.OnUpdate(md.hub.PublishBook)
		a.startHTTPServer(ctx, g, deps, md.status, md.hub)
	}

	if err := md.stream.Start(ctx); err != nil {
		return nil, fmt.Errorf("app: start stream: %w", err)
	}

	poller := ledger.NewPoller(deps.Ledger, a.cfg.Ledger.PollInterval.Duration, nil, a.logger)
	g.Go(func() error {
		return poller.Run(ctx)
	})

	if deps.Archiver != nil && deps.TradeStore != nil && a.cfg.Ledger.ArchiveInterval.Duration > 0 {
		archiver := pipeline.NewArchiver(deps.Archiver, deps.TradeStore, a.cfg.Ledger.Retention.Duration, a.logger)
		if deps.Locks != nil {
			archiver.WithLock(deps.Locks, a.cfg.Ledger.ArchiveInterval.Duration)
		}
		g.Go(func() error {
			return archiver.RunEvery(ctx, a.cfg.Ledger.ArchiveInterval.Duration)
		})
	}

	return md, nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, status *service.StatusService, hub *ws.Hub) {
	var trades handler.TradeHistory
	var execs handler.ExecutionHistory
	if deps.TradeStore != nil {
		trades = deps.TradeStore
	}
	if deps.ExecutionStore != nil {
		execs = deps.ExecutionStore
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(status, a.logger),
		Books:    handler.NewBookHandler(status, a.logger),
		Trades:   handler.NewTradeHandler(status, trades, a.logger),
		Account:  handler.NewAccountHandler(status, deps.Dispatcher, a.logger),
		Strategy: handler.NewStrategyHandler(status, execs, a.logger),
		Metrics:  deps.Metrics.Handler(),
	}, hub, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
