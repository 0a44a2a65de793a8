package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/strategy"
)

type stubBooks map[string]domain.OrderBook

func (b stubBooks) Get(p string) (domain.OrderBook, bool) { v, ok := b[p]; return v, ok }
func (b stubBooks) Snapshot() map[string]domain.OrderBook { return b }
func (b stubBooks) Len() int                              { return len(b) }

type stubLedger struct{ trades []domain.Trade }

func (l stubLedger) Trades() []domain.Trade                     { return l.trades }
func (l stubLedger) Len() int                                   { return len(l.trades) }
func (l stubLedger) Watermark() string                          { return l.trades[len(l.trades)-1].Timestamp }
func (l stubLedger) AgeSinceLastRefresh() (time.Duration, bool) { return time.Second, true }

type stubStrategies struct{}

func (stubStrategies) Quotes() []strategy.Quote {
	return []strategy.Quote{{Strategy: "etf_arb", Target: "M7"}}
}
func (stubStrategies) RecentExecutions(int) []domain.Execution { return nil }
func (stubStrategies) Stats() []strategy.StrategyInfo {
	return []strategy.StrategyInfo{{Name: "etf_arb", Evaluations: 4}}
}

func TestStatusService_Status(t *testing.T) {
	books := stubBooks{"M1": book("M1", 1, 2)}
	led := stubLedger{trades: []domain.Trade{{Timestamp: "t1"}, {Timestamp: "t2"}, {Timestamp: "t3"}}}
	svc := NewStatusService("trade", books, led, nil, stubStrategies{}, func() string { return "streaming" }, testLogger)

	st := svc.Status()
	assert.Equal(t, "trade", st.Mode)
	assert.Equal(t, "streaming", st.StreamState)
	assert.Equal(t, 1, st.Products)
	assert.Equal(t, 3, st.LedgerTrades)
	assert.Equal(t, "t3", st.Watermark)
	assert.Equal(t, "etf_arb", st.StrategyName)

	recent := svc.Trades(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "t3", recent[0].Timestamp)

	_, err := svc.Positions(t.Context())
	assert.ErrorIs(t, err, domain.ErrNoData)

	_, ok := svc.Book(t.Context(), "M9")
	assert.False(t, ok)
}

func TestStatusService_Catalogue(t *testing.T) {
	svc := NewStatusService("monitor", nil, nil, nil, nil, nil, testLogger)
	assert.Empty(t, svc.Catalogue())

	listed := []domain.Product{{Symbol: "M7"}, {Symbol: "M1"}, {Symbol: "M3"}}
	svc.SetCatalogue(listed)
	listed[0].Symbol = "changed"

	got := svc.Catalogue()
	require.Len(t, got, 3)
	assert.Equal(t, "M1", got[0].Symbol)
	assert.Equal(t, "M7", got[2].Symbol)
	assert.Equal(t, 3, svc.Status().Listed)
}

type stubMirror struct {
	books map[string]domain.OrderBook
	err   error
}

func (m stubMirror) GetSnapshot(_ context.Context, product string) (domain.OrderBook, error) {
	if m.err != nil {
		return domain.OrderBook{}, m.err
	}
	b, ok := m.books[product]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return b, nil
}

func TestStatusService_BookFallsBackToMirror(t *testing.T) {
	live := stubBooks{"M1": book("M1", 50, 52)}
	svc := NewStatusService("trade", live, nil, nil, nil, nil, testLogger)
	svc.SetMirror(stubMirror{books: map[string]domain.OrderBook{
		"M1": book("M1", 1, 2),
		"M3": book("M3", 30, 31),
	}})

	b, ok := svc.Book(t.Context(), "M1")
	require.True(t, ok)
	bid, _ := b.BestBid()
	assert.Equal(t, 50.0, bid, "live book wins over the mirror")

	b, ok = svc.Book(t.Context(), "M3")
	require.True(t, ok)
	assert.Equal(t, "M3", b.Product)

	_, ok = svc.Book(t.Context(), "M5")
	assert.False(t, ok)

	svc.SetMirror(stubMirror{err: errors.New("redis down")})
	_, ok = svc.Book(t.Context(), "M3")
	assert.False(t, ok)
}
