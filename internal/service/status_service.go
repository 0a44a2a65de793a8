package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/strategy"
)

// BookView is the read side of the order book store.
type BookView interface {
	Get(product string) (domain.OrderBook, bool)
	Snapshot() map[string]domain.OrderBook
	Len() int
}

// LedgerView is the read side of the trade ledger.
type LedgerView interface {
	Trades() []domain.Trade
	Len() int
	Watermark() string
	AgeSinceLastRefresh() (time.Duration, bool)
}

// AccountReader passes position and profit queries through to the venue.
type AccountReader interface {
	Positions(ctx context.Context) (domain.Positions, error)
	ProfitSummary(ctx context.Context) (domain.ProfitSummary, error)
}

// StrategyView exposes the engine's pricing and dispatch history.
type StrategyView interface {
	Quotes() []strategy.Quote
	RecentExecutions(limit int) []domain.Execution
	Stats() []strategy.StrategyInfo
}

// BookMirror is the last-known book per product kept outside the process.
type BookMirror interface {
	GetSnapshot(ctx context.Context, product string) (domain.OrderBook, error)
}

// StreamStateFunc reports the market stream state as a string.
type StreamStateFunc func() string

// StatusService aggregates read-only views for the status API and the
// monitor loop. Any view may be nil.
type StatusService struct {
	mode        string
	startedAt   time.Time
	books       BookView
	ledger      LedgerView
	account     AccountReader
	strategies  StrategyView
	streamState StreamStateFunc
	catalogue   []domain.Product
	mirror      BookMirror
	logger      *slog.Logger
}

// NewStatusService creates a StatusService.
func NewStatusService(mode string, books BookView, ledger LedgerView, account AccountReader, strategies StrategyView, streamState StreamStateFunc, logger *slog.Logger) *StatusService {
	return &StatusService{
		mode:        mode,
		startedAt:   time.Now().UTC(),
		books:       books,
		ledger:      ledger,
		account:     account,
		strategies:  strategies,
		streamState: streamState,
		logger:      logger.With(slog.String("component", "status_service")),
	}
}

// SetCatalogue records the venue's product listing for the session. It must
// be called before the service is shared.
func (s *StatusService) SetCatalogue(products []domain.Product) {
	s.catalogue = append([]domain.Product(nil), products...)
	sort.Slice(s.catalogue, func(i, j int) bool { return s.catalogue[i].Symbol < s.catalogue[j].Symbol })
}

// SetMirror makes Book fall back to m for products the stream has not
// delivered yet. It must be called before the service is shared.
func (s *StatusService) SetMirror(m BookMirror) {
	s.mirror = m
}

// Catalogue returns the listed products ordered by symbol.
func (s *StatusService) Catalogue() []domain.Product {
	return append([]domain.Product{}, s.catalogue...)
}

// Status returns the bot's operational summary.
func (s *StatusService) Status() domain.BotStatus {
	st := domain.BotStatus{
		Mode:          s.mode,
		StartedAt:     s.startedAt,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Listed:        len(s.catalogue),
	}
	if s.streamState != nil {
		st.StreamState = s.streamState()
	}
	if s.books != nil {
		st.Products = s.books.Len()
	}
	if s.ledger != nil {
		st.LedgerTrades = s.ledger.Len()
		st.Watermark = s.ledger.Watermark()
	}
	if s.strategies != nil {
		if stats := s.strategies.Stats(); len(stats) > 0 {
			st.StrategyName = stats[0].Name
		}
	}
	return st
}

// Books returns every latest book.
func (s *StatusService) Books() map[string]domain.OrderBook {
	if s.books == nil {
		return map[string]domain.OrderBook{}
	}
	return s.books.Snapshot()
}

// Book returns the latest book for product, or the mirrored copy from a
// previous session when the stream has not delivered one yet.
func (s *StatusService) Book(ctx context.Context, product string) (domain.OrderBook, bool) {
	if s.books != nil {
		if b, ok := s.books.Get(product); ok {
			return b, true
		}
	}
	if s.mirror == nil {
		return domain.OrderBook{}, false
	}
	b, err := s.mirror.GetSnapshot(ctx, product)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("book mirror read failed", slog.String("product", product), slog.String("error", err.Error()))
		}
		return domain.OrderBook{}, false
	}
	return b, true
}

// Trades returns up to limit ledger trades, newest first.
func (s *StatusService) Trades(limit int) []domain.Trade {
	if s.ledger == nil {
		return []domain.Trade{}
	}
	all := s.ledger.Trades()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]domain.Trade, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}

// LedgerAge reports the time since the last ledger refresh attempt.
func (s *StatusService) LedgerAge() (time.Duration, bool) {
	if s.ledger == nil {
		return 0, false
	}
	return s.ledger.AgeSinceLastRefresh()
}

// Positions passes through to the venue.
func (s *StatusService) Positions(ctx context.Context) (domain.Positions, error) {
	if s.account == nil {
		return nil, domain.ErrNoData
	}
	return s.account.Positions(ctx)
}

// Profit passes through to the venue.
func (s *StatusService) Profit(ctx context.Context) (domain.ProfitSummary, error) {
	if s.account == nil {
		return domain.ProfitSummary{}, domain.ErrNoData
	}
	return s.account.ProfitSummary(ctx)
}

// Quotes returns the current strategy pricing.
func (s *StatusService) Quotes() []strategy.Quote {
	if s.strategies == nil {
		return []strategy.Quote{}
	}
	return s.strategies.Quotes()
}

// StrategyStats returns per-strategy evaluation counters.
func (s *StatusService) StrategyStats() []strategy.StrategyInfo {
	if s.strategies == nil {
		return []strategy.StrategyInfo{}
	}
	return s.strategies.Stats()
}

// Executions returns up to limit recent basket dispatches.
func (s *StatusService) Executions(limit int) []domain.Execution {
	if s.strategies == nil {
		return []domain.Execution{}
	}
	return s.strategies.RecentExecutions(limit)
}

// LogReport writes one status line per book and quote plus the account
// summary. Venue failures are logged and skipped.
func (s *StatusService) LogReport(ctx context.Context) {
	st := s.Status()
	attrs := []any{
		slog.String("stream", st.StreamState),
		slog.Int("products", st.Products),
		slog.Int("ledger_trades", st.LedgerTrades),
	}
	if age, ok := s.LedgerAge(); ok {
		attrs = append(attrs, slog.Duration("ledger_age", age))
	}
	s.logger.Info("status", attrs...)

	for product, b := range s.Books() {
		bid, _ := b.BestBid()
		ask, _ := b.BestAsk()
		mid, _ := b.Mid()
		s.logger.Info("book",
			slog.String("product", product),
			slog.Float64("bid", bid),
			slog.Float64("ask", ask),
			slog.Float64("mid", mid),
		)
	}
	for _, q := range s.Quotes() {
		s.logger.Info("quote",
			slog.String("strategy", q.Strategy),
			slog.Float64("synthetic_bid", q.SyntheticBid),
			slog.Float64("synthetic_ask", q.SyntheticAsk),
			slog.Float64("spread_over", q.SpreadOver),
			slog.Float64("spread_under", q.SpreadUnder),
		)
	}

	if s.account == nil {
		return
	}
	if pos, err := s.account.Positions(ctx); err != nil {
		s.logger.Warn("positions unavailable", slog.String("error", err.Error()))
	} else {
		s.logger.Info("positions", slog.Any("positions", map[string]int(pos)))
	}
	if pnl, err := s.account.ProfitSummary(ctx); err != nil {
		s.logger.Warn("profit unavailable", slog.String("error", err.Error()))
	} else {
		s.logger.Info("profit", slog.Float64("total", pnl.TotalProfit))
	}
}
