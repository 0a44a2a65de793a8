package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// ExecutionHistory is the durable execution query. Optional.
type ExecutionHistory interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Execution, error)
}

// StrategyHandler serves pricing and dispatch history.
type StrategyHandler struct {
	status  StatusReader
	history ExecutionHistory
	logger  *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. history may be nil.
func NewStrategyHandler(status StatusReader, history ExecutionHistory, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{status: status, history: history, logger: logHandler(logger, "strategy")}
}

// GetQuote returns synthetic and quoted prices with both spreads for every
// strategy that has a complete set of books.
// GET /api/strategy/quote
func (h *StrategyHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"quotes": h.status.Quotes()})
}

// ListStrategies returns the registered strategies with their evaluation,
// opportunity, blocked and dispatch counters.
// GET /api/strategy
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": h.status.StrategyStats()})
}

// ListExecutions returns recent basket dispatches, newest first.
// GET /api/strategy/executions?limit=50
func (h *StrategyHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseListOpts(r).Limit

	var execs []domain.Execution
	if h.history != nil {
		var err error
		execs, err = h.history.ListRecent(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list executions failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list executions")
			return
		}
	} else {
		execs = h.status.Executions(limit)
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}
