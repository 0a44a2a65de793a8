package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/strategy"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeStatus struct {
	status     domain.BotStatus
	catalogue  []domain.Product
	books      map[string]domain.OrderBook
	trades     []domain.Trade // newest first
	ledgerAge  time.Duration
	positions  domain.Positions
	profit     domain.ProfitSummary
	accountErr error
	quotes     []strategy.Quote
	stats      []strategy.StrategyInfo
	executions []domain.Execution
}

func (f *fakeStatus) Status() domain.BotStatus { return f.status }

func (f *fakeStatus) Catalogue() []domain.Product { return f.catalogue }

func (f *fakeStatus) Books() map[string]domain.OrderBook { return f.books }

func (f *fakeStatus) Book(_ context.Context, product string) (domain.OrderBook, bool) {
	b, ok := f.books[product]
	return b, ok
}

func (f *fakeStatus) Trades(limit int) []domain.Trade {
	if limit <= 0 || limit > len(f.trades) {
		return f.trades
	}
	return f.trades[:limit]
}

func (f *fakeStatus) LedgerAge() (time.Duration, bool) { return f.ledgerAge, f.ledgerAge > 0 }

func (f *fakeStatus) Positions(context.Context) (domain.Positions, error) {
	return f.positions, f.accountErr
}

func (f *fakeStatus) Profit(context.Context) (domain.ProfitSummary, error) {
	return f.profit, f.accountErr
}

func (f *fakeStatus) Quotes() []strategy.Quote { return f.quotes }

func (f *fakeStatus) StrategyStats() []strategy.StrategyInfo { return f.stats }

func (f *fakeStatus) Executions(limit int) []domain.Execution {
	if limit < len(f.executions) {
		return f.executions[:limit]
	}
	return f.executions
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"streaming", "ok"},
		{"", "ok"},
		{"reconnecting", "degraded"},
		{"closed", "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			h := NewHealthHandler(&fakeStatus{
				status:    domain.BotStatus{StreamState: tt.state},
				ledgerAge: 3 * time.Second,
			}, testLogger)
			rec := httptest.NewRecorder()
			h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.want, body["status"])
			assert.InDelta(t, 3.0, body["ledger_age_seconds"], 0.001)
		})
	}
}

func TestGetStatus(t *testing.T) {
	h := NewHealthHandler(&fakeStatus{status: domain.BotStatus{Mode: "monitor", Products: 4}}, testLogger)
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	body := decode(t, rec)
	assert.Equal(t, "monitor", body["mode"])
	assert.EqualValues(t, 4, body["products"])
}

func TestBooks(t *testing.T) {
	fs := &fakeStatus{books: map[string]domain.OrderBook{
		"ETF": domain.NewOrderBook("ETF", 1,
			[]domain.PriceLevel{{Price: 99, Volume: 2}},
			[]domain.PriceLevel{{Price: 101, Volume: 3}}),
		"A": domain.NewOrderBook("A", 1, nil, []domain.PriceLevel{{Price: 30, Volume: 1}}),
	}}
	h := NewBookHandler(fs, testLogger)

	t.Run("list sorted with derived prices", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListBooks(rec, httptest.NewRequest(http.MethodGet, "/api/books", nil))

		books := decode(t, rec)["books"].([]any)
		require.Len(t, books, 2)
		a := books[0].(map[string]any)
		etf := books[1].(map[string]any)
		assert.Equal(t, "A", a["product"])
		assert.NotContains(t, a, "best_bid")
		assert.NotContains(t, a, "mid")
		assert.Equal(t, 30.0, a["best_ask"])
		assert.Equal(t, "ETF", etf["product"])
		assert.Equal(t, 100.0, etf["mid"])
	})

	t.Run("catalogue", func(t *testing.T) {
		fs.catalogue = []domain.Product{{Symbol: "A", TickSize: 0.5, StartingPrice: 30, ContractSize: 1}}
		rec := httptest.NewRecorder()
		h.ListProducts(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		products := decode(t, rec)["products"].([]any)
		require.Len(t, products, 1)
		p := products[0].(map[string]any)
		assert.Equal(t, "A", p["symbol"])
		assert.Equal(t, 0.5, p["tickSize"])
	})

	t.Run("single book", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/books/ETF", nil)
		req.SetPathValue("product", "ETF")
		rec := httptest.NewRecorder()
		h.GetBook(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 99.0, decode(t, rec)["best_bid"])
	})

	t.Run("unknown product", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/books/Z", nil)
		req.SetPathValue("product", "Z")
		rec := httptest.NewRecorder()
		h.GetBook(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

type fakeTradeHistory struct {
	product string
	opts    domain.ListOpts
	trades  []domain.Trade
	err     error
}

func (f *fakeTradeHistory) ListByProduct(_ context.Context, product string, opts domain.ListOpts) ([]domain.Trade, error) {
	f.product = product
	f.opts = opts
	return f.trades, f.err
}

func TestListTrades_InMemory(t *testing.T) {
	fs := &fakeStatus{trades: []domain.Trade{
		{Timestamp: "t4", Product: "A"},
		{Timestamp: "t3", Product: "B"},
		{Timestamp: "t2", Product: "A"},
		{Timestamp: "t1", Product: "A"},
	}}
	h := NewTradeHandler(fs, nil, testLogger)

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?product=A&limit=1&offset=1", nil))

	trades := decode(t, rec)["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, "t2", trades[0].(map[string]any)["timestamp"])

	rec = httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))
	assert.Len(t, decode(t, rec)["trades"].([]any), 4)
}

func TestListTrades_History(t *testing.T) {
	hist := &fakeTradeHistory{trades: []domain.Trade{{Timestamp: "t9", Product: "ETF"}}}
	h := NewTradeHandler(&fakeStatus{}, hist, testLogger)

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?product=ETF&limit=900", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ETF", hist.product)
	assert.Equal(t, 500, hist.opts.Limit)
	assert.Len(t, decode(t, rec)["trades"].([]any), 1)

	hist.err = errors.New("db down")
	rec = httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?product=ETF", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type countingCanceller struct{ calls int }

func (c *countingCanceller) CancelAll(context.Context) int {
	c.calls++
	return 3
}

func TestAccount(t *testing.T) {
	fs := &fakeStatus{
		positions: domain.Positions{"A": 5, "B": 0, "ETF": -5},
		profit:    domain.ProfitSummary{TotalProfit: 12.5},
	}
	orders := &countingCanceller{}
	h := NewAccountHandler(fs, orders, testLogger)

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, map[string]any{"A": 5.0, "ETF": -5.0}, decode(t, rec)["positions"])

	rec = httptest.NewRecorder()
	h.GetPnL(rec, httptest.NewRequest(http.MethodGet, "/api/pnl", nil))
	assert.Equal(t, 12.5, decode(t, rec)["totalProfit"])

	rec = httptest.NewRecorder()
	h.CancelAll(rec, httptest.NewRequest(http.MethodDelete, "/api/orders", nil))
	assert.Equal(t, 1, orders.calls)
	assert.EqualValues(t, 3, decode(t, rec)["cancelled"])
}

func TestAccount_VenueErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"no account", domain.ErrNoData, http.StatusServiceUnavailable},
		{"bad credentials", domain.ErrUnauthorized, http.StatusBadGateway},
		{"other", errors.New("timeout"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAccountHandler(&fakeStatus{accountErr: tt.err}, &countingCanceller{}, testLogger)
			rec := httptest.NewRecorder()
			h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

type fakeExecHistory struct {
	limit int
	execs []domain.Execution
}

func (f *fakeExecHistory) ListRecent(_ context.Context, limit int) ([]domain.Execution, error) {
	f.limit = limit
	return f.execs, nil
}

func TestStrategy(t *testing.T) {
	fs := &fakeStatus{
		quotes: []strategy.Quote{{Strategy: "etf_arb", SpreadOver: 2}},
		stats:  []strategy.StrategyInfo{{Name: "etf_arb", Products: []string{"ETF", "A"}, Dispatches: 2}},
		executions: []domain.Execution{
			{ID: "e2", Status: domain.ExecutionPartial},
			{ID: "e1", Status: domain.ExecutionFilled},
		},
	}

	h := NewStrategyHandler(fs, nil, testLogger)
	rec := httptest.NewRecorder()
	h.GetQuote(rec, httptest.NewRequest(http.MethodGet, "/api/strategy/quote", nil))
	quotes := decode(t, rec)["quotes"].([]any)
	require.Len(t, quotes, 1)
	assert.Equal(t, "etf_arb", quotes[0].(map[string]any)["strategy"])

	rec = httptest.NewRecorder()
	h.ListStrategies(rec, httptest.NewRequest(http.MethodGet, "/api/strategy", nil))
	stats := decode(t, rec)["strategies"].([]any)
	require.Len(t, stats, 1)
	assert.EqualValues(t, 2, stats[0].(map[string]any)["dispatches"])

	rec = httptest.NewRecorder()
	h.ListExecutions(rec, httptest.NewRequest(http.MethodGet, "/api/strategy/executions?limit=1", nil))
	execs := decode(t, rec)["executions"].([]any)
	require.Len(t, execs, 1)
	assert.Equal(t, "e2", execs[0].(map[string]any)["id"])

	hist := &fakeExecHistory{}
	h = NewStrategyHandler(fs, hist, testLogger)
	rec = httptest.NewRecorder()
	h.ListExecutions(rec, httptest.NewRequest(http.MethodGet, "/api/strategy/executions", nil))
	assert.Equal(t, 50, hist.limit)
	assert.Equal(t, []any{}, decode(t, rec)["executions"])
}
