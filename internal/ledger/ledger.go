// Package ledger accumulates exchange trade history by polling with a
// timestamp high-watermark.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/metrics"
)

// TradeSource fetches trades at or after from; an empty from means all.
type TradeSource interface {
	Trades(ctx context.Context, from string) ([]domain.Trade, error)
}

// Sink receives every batch of newly appended trades.
type Sink interface {
	InsertBatch(ctx context.Context, trades []domain.Trade) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSink persists appended batches. Sink errors never affect the ledger.
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMetrics records refresh outcomes and ledger size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// Ledger is an append-only, duplicate-free list of exchange trades.
//
// Each Refresh asks the source for trades from the current watermark and
// keeps only those whose timestamp is strictly greater than it. Trades that
// share the watermark timestamp exactly are therefore never appended, even if
// they were not seen before; the venue is expected to emit distinct,
// non-decreasing timestamps.
type Ledger struct {
	source  TradeSource
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	refreshMu sync.Mutex

	mu          sync.RWMutex
	trades      []domain.Trade
	watermark   string
	lastAttempt time.Time
}

// New creates an empty ledger reading from source.
func New(source TradeSource, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		source: source,
		logger: logger.With(slog.String("component", "trade_ledger")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Refresh fetches new trades, appends them and returns the full ledger. On a
// transport failure it logs and returns the ledger unchanged; the attempt
// time is recorded either way. Concurrent calls are serialized.
func (l *Ledger) Refresh(ctx context.Context) []domain.Trade {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	wm := l.Watermark()
	fetched, err := l.source.Trades(ctx, wm)

	l.mu.Lock()
	l.lastAttempt = l.now()
	l.mu.Unlock()

	if err != nil {
		l.metrics.IncLedgerRefresh("failed")
		l.logger.Warn("fetch trades failed", slog.String("watermark", wm), slog.String("error", err.Error()))
		return l.Trades()
	}
	l.metrics.IncLedgerRefresh("ok")

	fresh := make([]domain.Trade, 0, len(fetched))
	for _, t := range fetched {
		if wm == "" || t.Timestamp > wm {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		return l.Trades()
	}

	l.mu.Lock()
	l.trades = append(l.trades, fresh...)
	l.watermark = fresh[len(fresh)-1].Timestamp
	total := len(l.trades)
	l.mu.Unlock()

	l.metrics.SetLedgerTrades(total)
	l.logger.Debug("ledger advanced",
		slog.Int("appended", len(fresh)),
		slog.Int("total", total),
		slog.String("watermark", fresh[len(fresh)-1].Timestamp),
	)

	if l.sink != nil {
		if err := l.sink.InsertBatch(ctx, fresh); err != nil {
			l.logger.Warn("persist trades failed", slog.Int("count", len(fresh)), slog.String("error", err.Error()))
		}
	}
	return l.Trades()
}

// Trades returns a copy of every accumulated trade in arrival order.
func (l *Ledger) Trades() []domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// ForUser returns the accumulated trades where user is buyer or seller.
func (l *Ledger) ForUser(user string) []domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Trade
	for _, t := range l.trades {
		if t.Involves(user) {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of accumulated trades.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// Watermark returns the timestamp of the last appended trade, or "" before
// anything has been appended.
func (l *Ledger) Watermark() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.watermark
}

// AgeSinceLastRefresh reports how long ago Refresh was last attempted. The
// boolean is false if it has never been called.
func (l *Ledger) AgeSinceLastRefresh() (time.Duration, bool) {
	l.mu.RLock()
	last := l.lastAttempt
	l.mu.RUnlock()
	if last.IsZero() {
		return 0, false
	}
	return l.now().Sub(last), true
}
