package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// TradeHistory is the durable per-product trade query. Optional.
type TradeHistory interface {
	ListByProduct(ctx context.Context, product string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves ledger trades.
type TradeHandler struct {
	status  StatusReader
	history TradeHistory
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler. history may be nil, in which case
// product queries filter the in-memory ledger.
func NewTradeHandler(status StatusReader, history TradeHistory, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{status: status, history: history, logger: logHandler(logger, "trades")}
}

// ListTrades returns recent trades, newest first.
// GET /api/trades?product=ETF&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	product := r.URL.Query().Get("product")

	if product != "" && h.history != nil {
		trades, err := h.history.ListByProduct(r.Context(), product, opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list trades failed",
				slog.String("product", product),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
		if trades == nil {
			trades = []domain.Trade{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
		return
	}

	recent := h.status.Trades(0)
	out := make([]domain.Trade, 0, opts.Limit)
	skipped := 0
	for _, t := range recent {
		if product != "" && t.Product != product {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, t)
		if len(out) == opts.Limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}
