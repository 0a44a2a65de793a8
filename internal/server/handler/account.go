package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// OrderCanceller cancels every resting order.
type OrderCanceller interface {
	CancelAll(ctx context.Context) int
}

// AccountHandler passes position, profit and cancel-all requests through to
// the venue.
type AccountHandler struct {
	status StatusReader
	orders OrderCanceller
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(status StatusReader, orders OrderCanceller, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{status: status, orders: orders, logger: logHandler(logger, "account")}
}

// ListPositions returns the non-zero net positions.
// GET /api/positions
func (h *AccountHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	pos, err := h.status.Positions(r.Context())
	if err != nil {
		venueError(w, r, h.logger, "positions", err)
		return
	}
	open := make(map[string]int)
	for _, p := range pos.Open() {
		open[p] = pos.Get(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": open})
}

// GetPnL returns the venue's profit summary.
// GET /api/pnl
func (h *AccountHandler) GetPnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := h.status.Profit(r.Context())
	if err != nil {
		venueError(w, r, h.logger, "pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, pnl)
}

// CancelAll cancels every resting order and reports how many were attempted.
// DELETE /api/orders
func (h *AccountHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	n := h.orders.CancelAll(r.Context())
	h.logger.InfoContext(r.Context(), "cancel-all requested", slog.Int("attempted", n))
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}
