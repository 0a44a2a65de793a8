package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/strategy"
)

// StatusReader is the read model behind the status endpoints.
type StatusReader interface {
	Status() domain.BotStatus
	Catalogue() []domain.Product
	Books() map[string]domain.OrderBook
	Book(ctx context.Context, product string) (domain.OrderBook, bool)
	Trades(limit int) []domain.Trade
	LedgerAge() (time.Duration, bool)
	Positions(ctx context.Context) (domain.Positions, error)
	Profit(ctx context.Context) (domain.ProfitSummary, error)
	Quotes() []strategy.Quote
	StrategyStats() []strategy.StrategyInfo
	Executions(limit int) []domain.Execution
}

// HealthHandler serves liveness and the bot status summary.
type HealthHandler struct {
	status StatusReader
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(status StatusReader, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{status: status, logger: logHandler(logger, "health")}
}

type healthResponse struct {
	Status           string  `json:"status"`
	StreamState      string  `json:"stream_state"`
	LedgerAgeSeconds float64 `json:"ledger_age_seconds,omitempty"`
	Timestamp        string  `json:"timestamp"`
}

// HealthCheck reports "ok" while the market stream is connected and
// "degraded" otherwise. It always answers 200 so the process is not
// restarted for a venue outage.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	resp := healthResponse{
		Status:      "ok",
		StreamState: st.StreamState,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if st.StreamState != "" && st.StreamState != "streaming" {
		resp.Status = "degraded"
	}
	if age, ok := h.status.LedgerAge(); ok {
		resp.LedgerAgeSeconds = age.Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStatus returns the bot status summary.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}
