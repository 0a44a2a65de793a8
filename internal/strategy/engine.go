package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/metrics"
)

// BookReader returns the latest books for a set of products, or false if
// any of them has not arrived yet.
type BookReader interface {
	GetAll(products []string) (map[string]domain.OrderBook, bool)
}

// PositionSource fetches the user's current net positions.
type PositionSource interface {
	Positions(ctx context.Context) (domain.Positions, error)
}

// BatchSender submits a basket concurrently and returns the successful legs.
type BatchSender interface {
	SendBatch(ctx context.Context, reqs []domain.OrderRequest) []domain.OrderResponse
}

// ExecutionRecorder is told about every dispatched basket. Implementations
// must not block for long; they run on the engine goroutine.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, exec domain.Execution)
}

// Engine evaluates registered strategies whenever a book they depend on
// changes. Book updates are queued without blocking the stream: pending
// products are coalesced and the Run loop evaluates against the latest
// snapshots. Each evaluation either does nothing or dispatches exactly one
// basket; failed legs are not retried.
type Engine struct {
	registry  *Registry
	books     BookReader
	positions PositionSource
	sender    BatchSender
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	dirty     map[string]struct{}
	recorders []ExecutionRecorder
	recent    []domain.Execution

	wake        chan struct{}
	recentLimit int
}

// NewEngine creates an Engine. m may be nil.
func NewEngine(registry *Registry, books BookReader, positions PositionSource, sender BatchSender, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		books:       books,
		positions:   positions,
		sender:      sender,
		metrics:     m,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		dirty:       make(map[string]struct{}),
		wake:        make(chan struct{}, 1),
		recentLimit: 200,
	}
}

// AddRecorder registers r to receive every execution record.
func (e *Engine) AddRecorder(r ExecutionRecorder) {
	e.mu.Lock()
	e.recorders = append(e.recorders, r)
	e.mu.Unlock()
}

// HandleBookUpdate marks the book's product for re-evaluation. It never
// blocks and is safe to call from the stream goroutine.
func (e *Engine) HandleBookUpdate(b domain.OrderBook) {
	e.mu.Lock()
	e.dirty[b.Product] = struct{}{}
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run evaluates strategies for pending products until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("strategy engine started", slog.Any("strategies", e.registry.List()))
	defer e.logger.Info("strategy engine stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
		}

		e.mu.Lock()
		products := make([]string, 0, len(e.dirty))
		for p := range e.dirty {
			products = append(products, p)
		}
		clear(e.dirty)
		e.mu.Unlock()

		e.EvaluateProducts(ctx, products)
	}
}

// EvaluateProducts runs every strategy that depends on at least one of
// products, once.
func (e *Engine) EvaluateProducts(ctx context.Context, products []string) {
	changed := make(map[string]bool, len(products))
	for _, p := range products {
		changed[p] = true
	}
	for _, s := range e.registry.All() {
		for _, p := range s.Products() {
			if changed[p] {
				e.evaluate(ctx, s)
				break
			}
		}
	}
}

func (e *Engine) evaluate(ctx context.Context, s Strategy) {
	books, ok := e.books.GetAll(s.Products())
	if !ok {
		return
	}
	e.registry.update(s.Name(), func(i *StrategyInfo) { i.Evaluations++ })

	if q, ok := s.(Quoter); ok {
		if quote, ok := q.Quote(books); ok {
			e.metrics.SetSpread(s.Name(), "over", quote.SpreadOver)
			e.metrics.SetSpread(s.Name(), "under", quote.SpreadUnder)
		}
	}

	opp, ok := s.Detect(books)
	if !ok {
		return
	}
	e.registry.update(s.Name(), func(i *StrategyInfo) { i.Opportunities++ })

	positions, err := e.positions.Positions(ctx)
	if err != nil {
		e.logger.Warn("skipping opportunity, positions unavailable",
			slog.String("strategy", s.Name()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !s.WithinLimits(opp, positions) {
		e.registry.update(s.Name(), func(i *StrategyInfo) { i.Blocked++ })
		e.logger.Debug("opportunity blocked by position limits",
			slog.String("strategy", s.Name()),
			slog.String("direction", opp.Direction),
		)
		return
	}

	spread, _ := opp.Spread.Float64()
	e.logger.Info("dispatching basket",
		slog.String("strategy", s.Name()),
		slog.String("direction", opp.Direction),
		slog.Float64("spread", spread),
		slog.Int("legs", len(opp.Legs)),
	)

	responses := e.sender.SendBatch(ctx, opp.Legs)
	exec := newExecution(opp, responses)

	now := exec.CreatedAt
	e.registry.update(s.Name(), func(i *StrategyInfo) {
		i.Dispatches++
		i.LastDispatch = &now
	})
	e.metrics.IncExecution(opp.Direction, string(exec.Status))
	e.record(ctx, exec)
}

// newExecution pairs each requested leg with a matching response. Responses
// arrive in completion order, so legs are matched on product, side and price.
func newExecution(opp Opportunity, responses []domain.OrderResponse) domain.Execution {
	spread, _ := opp.Spread.Float64()
	exec := domain.Execution{
		ID:        uuid.New().String(),
		Strategy:  opp.Strategy,
		Direction: opp.Direction,
		Spread:    spread,
		Legs:      make([]domain.ExecutionLeg, 0, len(opp.Legs)),
		CreatedAt: time.Now().UTC(),
	}

	used := make([]bool, len(responses))
	for _, req := range opp.Legs {
		leg := domain.ExecutionLeg{Request: req}
		for i, resp := range responses {
			if !used[i] && resp.Matches(req) {
				used[i] = true
				r := resp
				leg.Response = &r
				break
			}
		}
		exec.Legs = append(exec.Legs, leg)
	}

	switch acked := exec.Acknowledged(); {
	case acked == len(opp.Legs):
		exec.Status = domain.ExecutionFilled
	case acked == 0:
		exec.Status = domain.ExecutionFailed
	default:
		exec.Status = domain.ExecutionPartial
	}
	return exec
}

func (e *Engine) record(ctx context.Context, exec domain.Execution) {
	e.mu.Lock()
	e.recent = append(e.recent, exec)
	if overflow := len(e.recent) - e.recentLimit; overflow > 0 {
		e.recent = append([]domain.Execution(nil), e.recent[overflow:]...)
	}
	recorders := e.recorders
	e.mu.Unlock()

	for _, r := range recorders {
		r.RecordExecution(ctx, exec)
	}
}

// RecordExecution adds an execution dispatched elsewhere, such as by another
// process sharing the signal bus, to the recent history and the recorders.
func (e *Engine) RecordExecution(ctx context.Context, exec domain.Execution) {
	e.record(ctx, exec)
}

// RecentExecutions returns up to limit executions, newest first.
func (e *Engine) RecentExecutions(limit int) []domain.Execution {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recent)
	if limit > n {
		limit = n
	}
	out := make([]domain.Execution, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// Quotes returns the current pricing of every strategy that can quote and
// has all its books.
func (e *Engine) Quotes() []Quote {
	var out []Quote
	for _, s := range e.registry.All() {
		q, ok := s.(Quoter)
		if !ok {
			continue
		}
		books, ok := e.books.GetAll(s.Products())
		if !ok {
			continue
		}
		if quote, ok := q.Quote(books); ok {
			out = append(out, quote)
		}
	}
	return out
}

// Stats returns the evaluation counters of every registered strategy.
func (e *Engine) Stats() []StrategyInfo {
	return e.registry.ListInfo()
}

// Registry returns the engine's strategy registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}
