package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/ledger"
)

// PositionVenue is the read side of the exchange needed to close positions.
type PositionVenue interface {
	Positions(ctx context.Context) (domain.Positions, error)
	OrderBook(ctx context.Context, product string) (domain.OrderBook, error)
}

// OrderSender places and cancels orders. It is implemented by
// *executor.Dispatcher.
type OrderSender interface {
	Send(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, bool)
	Cancel(ctx context.Context, id string)
	CancelAll(ctx context.Context) int
}

// TradeHistory is the ledger view used to compute entry prices.
type TradeHistory interface {
	Refresh(ctx context.Context) []domain.Trade
	ForUser(user string) []domain.Trade
}

// PositionServiceConfig tunes the closing passes.
type PositionServiceConfig struct {
	User string
	// SettleDelay is waited after cancelling resting orders and after each
	// profitable close, so the venue reports updated positions.
	SettleDelay time.Duration
	// OrderDelay is waited between closing orders within a pass.
	OrderDelay time.Duration
	// Interval is the pause between passes in Flatten and CloseProfitable.
	Interval time.Duration
}

// PositionService closes open positions by crossing the spread, either
// unconditionally (flatten) or only when the exit beats the average entry.
type PositionService struct {
	venue   PositionVenue
	orders  OrderSender
	history TradeHistory
	cfg     PositionServiceConfig
	logger  *slog.Logger
}

// NewPositionService creates a PositionService. history may be nil when
// only FlattenPass is used.
func NewPositionService(venue PositionVenue, orders OrderSender, history TradeHistory, cfg PositionServiceConfig, logger *slog.Logger) *PositionService {
	return &PositionService{
		venue:   venue,
		orders:  orders,
		history: history,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "position_service")),
	}
}

// PassResult summarises one closing pass.
type PassResult struct {
	Open    int // positions open at the start of the pass
	Closing int // closing orders acknowledged
	Waiting int // positions left alone (unprofitable or no price)
}

// prepare cancels resting orders, waits for the venue to settle and returns
// the fresh open positions.
func (s *PositionService) prepare(ctx context.Context) (domain.Positions, []string, error) {
	s.orders.CancelAll(ctx)
	if err := sleepCtx(ctx, s.cfg.SettleDelay); err != nil {
		return nil, nil, err
	}
	positions, err := s.venue.Positions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("position service: fetch positions: %w", err)
	}
	return positions, positions.Open(), nil
}

// exitOrder builds the order that closes qty at the touch: the opposite
// side of the holding, priced at the best level that side can hit.
func exitOrder(product string, qty int, b domain.OrderBook) (domain.OrderRequest, bool) {
	held := domain.SideBuy
	if qty < 0 {
		held, qty = domain.SideSell, -qty
	}
	side := held.Opposite()

	price, ok := b.BestBid()
	if side == domain.SideBuy {
		price, ok = b.BestAsk()
	}
	if !ok {
		return domain.OrderRequest{}, false
	}
	return domain.OrderRequest{Product: product, Price: price, Side: side, Volume: qty}, true
}

// close sends req and cancels any unfilled remainder.
func (s *PositionService) close(ctx context.Context, req domain.OrderRequest) bool {
	resp, ok := s.orders.Send(ctx, req)
	if !ok {
		return false
	}
	s.logger.Info("closing order",
		slog.String("product", req.Product),
		slog.String("side", string(req.Side)),
		slog.Float64("price", req.Price),
		slog.Int("filled", resp.Filled),
		slog.Int("volume", resp.Volume),
	)
	if resp.IsPartial() {
		s.orders.Cancel(ctx, resp.ID)
	}
	return true
}

// FlattenPass closes every open position at the touch regardless of P&L.
func (s *PositionService) FlattenPass(ctx context.Context) (PassResult, error) {
	positions, open, err := s.prepare(ctx)
	if err != nil {
		return PassResult{}, err
	}
	res := PassResult{Open: len(open)}

	for _, product := range open {
		qty := positions.Get(product)
		b, err := s.venue.OrderBook(ctx, product)
		if err != nil {
			s.logger.Warn("fetch book failed", slog.String("product", product), slog.String("error", err.Error()))
			res.Waiting++
			continue
		}
		req, ok := exitOrder(product, qty, b)
		if !ok {
			s.logger.Warn("no opposite liquidity", slog.String("product", product), slog.Int("position", qty))
			res.Waiting++
			continue
		}
		if s.close(ctx, req) {
			res.Closing++
		}
		if err := sleepCtx(ctx, s.cfg.OrderDelay); err != nil {
			return res, err
		}
	}
	return res, nil
}

// CloseProfitablePass closes only the positions whose exit price beats the
// average entry computed from the user's ledger trades: longs when the best
// bid is above the average buy, shorts when the best ask is below the
// average sell. The ledger is refreshed after every close.
func (s *PositionService) CloseProfitablePass(ctx context.Context) (PassResult, error) {
	if s.history == nil {
		return PassResult{}, fmt.Errorf("position service: no trade history configured")
	}
	positions, open, err := s.prepare(ctx)
	if err != nil {
		return PassResult{}, err
	}
	res := PassResult{Open: len(open)}
	entries := ledger.EntryPrices(s.history.ForUser(s.cfg.User), s.cfg.User)

	for _, product := range open {
		qty := positions.Get(product)
		b, err := s.venue.OrderBook(ctx, product)
		if err != nil {
			s.logger.Warn("fetch book failed", slog.String("product", product), slog.String("error", err.Error()))
			res.Waiting++
			continue
		}
		req, ok := exitOrder(product, qty, b)
		entry, known := entries[product]
		if !ok || !known || !profitable(qty, req.Price, entry) {
			s.logger.Debug("waiting for profitable exit", slog.String("product", product), slog.Int("position", qty))
			res.Waiting++
			continue
		}

		if s.close(ctx, req) {
			res.Closing++
		}
		if err := sleepCtx(ctx, s.cfg.SettleDelay); err != nil {
			return res, err
		}
		s.history.Refresh(ctx)
		entries = ledger.EntryPrices(s.history.ForUser(s.cfg.User), s.cfg.User)
	}
	return res, nil
}

func profitable(qty int, exit float64, entry ledger.EntryPrice) bool {
	px := decimal.NewFromFloat(exit)
	if qty > 0 {
		return entry.HasLong() && px.GreaterThan(entry.LongAvg)
	}
	return entry.HasShort() && px.LessThan(entry.ShortAvg)
}

// Flatten repeats FlattenPass until no position is open or ctx ends.
func (s *PositionService) Flatten(ctx context.Context) error {
	return s.repeat(ctx, "flatten", s.FlattenPass)
}

// CloseProfitable repeats CloseProfitablePass until no position is open or
// ctx ends.
func (s *PositionService) CloseProfitable(ctx context.Context) error {
	if s.history != nil {
		s.history.Refresh(ctx)
		s.logEntries()
	}
	return s.repeat(ctx, "close_profitable", s.CloseProfitablePass)
}

// logEntries reports the average entry per product that exits are judged
// against.
func (s *PositionService) logEntries() {
	entries := ledger.EntryPrices(s.history.ForUser(s.cfg.User), s.cfg.User)
	for _, product := range ledger.SortedProducts(entries) {
		e := entries[product]
		s.logger.Info("entry price",
			slog.String("product", product),
			slog.Int("long_qty", e.LongQty),
			slog.String("long_avg", e.LongAvg.String()),
			slog.Int("short_qty", e.ShortQty),
			slog.String("short_avg", e.ShortAvg.String()),
		)
	}
}

func (s *PositionService) repeat(ctx context.Context, name string, pass func(context.Context) (PassResult, error)) error {
	for {
		res, err := pass(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			s.logger.Warn("pass failed", slog.String("pass", name), slog.String("error", err.Error()))
		case res.Open == 0:
			s.logger.Info("all positions closed", slog.String("pass", name))
			return nil
		default:
			s.logger.Info("pass complete",
				slog.String("pass", name),
				slog.Int("open", res.Open),
				slog.Int("closing", res.Closing),
				slog.Int("waiting", res.Waiting),
			)
		}
		if err := sleepCtx(ctx, s.cfg.Interval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
