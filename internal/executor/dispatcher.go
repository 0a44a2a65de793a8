package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/metrics"
)

// OrderClient is the venue surface the dispatcher needs. It is implemented
// by *cmi.Client.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error)
	CancelOrder(ctx context.Context, id string) error
	CurrentOrders(ctx context.Context, product string) ([]domain.OrderResponse, error)
}

// DispatcherConfig tunes fan-out.
type DispatcherConfig struct {
	// MaxConcurrency bounds in-flight requests per batch; 0 sends every leg
	// at once.
	MaxConcurrency int
	// CancelDedupTTL suppresses a second cancel of the same order ID within
	// the window.
	CancelDedupTTL time.Duration
}

// Dispatcher submits orders, alone or as concurrent batches, and cancels
// them. Failures are logged and reported by absence; it never returns an
// error for a rejected leg. Batches are not atomic: any subset of legs may
// succeed and nothing is rolled back.
type Dispatcher struct {
	client  OrderClient
	cfg     DispatcherConfig
	cancels *Dedup
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(client OrderClient, cfg DispatcherConfig, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:  client,
		cfg:     cfg,
		cancels: NewDedup(cfg.CancelDedupTTL),
		metrics: m,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// Send places one order. The boolean is false when the venue rejected the
// order or the request failed; the cause is only logged.
func (d *Dispatcher) Send(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, bool) {
	resp, err := d.client.PlaceOrder(ctx, req)
	if err != nil {
		d.metrics.IncOrder(string(req.Side), "rejected")
		d.logger.Warn("order failed",
			slog.String("product", req.Product),
			slog.String("side", string(req.Side)),
			slog.Float64("price", req.Price),
			slog.Int("volume", req.Volume),
			slog.String("error", err.Error()),
		)
		return domain.OrderResponse{}, false
	}

	d.metrics.IncOrder(string(req.Side), "ok")
	d.logger.Info("order placed",
		slog.String("id", resp.ID),
		slog.String("product", resp.Product),
		slog.String("side", string(resp.Side)),
		slog.Float64("price", resp.Price),
		slog.Int("filled", resp.Filled),
		slog.Int("volume", resp.Volume),
	)
	return resp, true
}

// SendBatch places every request concurrently and waits for all of them.
// It returns the successful responses in completion order, which need not
// match the input order; callers attribute legs by product, side and price.
// A hung leg delays the whole batch until the transport times out.
func (d *Dispatcher) SendBatch(ctx context.Context, reqs []domain.OrderRequest) []domain.OrderResponse {
	var (
		mu      sync.Mutex
		results = make([]domain.OrderResponse, 0, len(reqs))
	)

	var g errgroup.Group
	if d.cfg.MaxConcurrency > 0 {
		g.SetLimit(d.cfg.MaxConcurrency)
	}
	for _, req := range reqs {
		g.Go(func() error {
			resp, ok := d.Send(ctx, req)
			if ok {
				mu.Lock()
				results = append(results, resp)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(results) < len(reqs) {
		d.logger.Warn("batch incomplete",
			slog.Int("legs", len(reqs)),
			slog.Int("acknowledged", len(results)),
		)
	}
	return results
}

// Cancel requests cancellation of one order. Failures are logged only.
func (d *Dispatcher) Cancel(ctx context.Context, id string) {
	if d.cancels.IsDuplicate(id) {
		d.logger.Debug("cancel already sent", slog.String("id", id))
		return
	}
	if err := d.client.CancelOrder(ctx, id); err != nil {
		d.cancels.Forget(id)
		d.metrics.IncCancel("failed")
		d.logger.Warn("cancel failed", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	d.metrics.IncCancel("ok")
	d.logger.Debug("order cancelled", slog.String("id", id))
}

// CancelAll lists the user's resting orders and cancels each concurrently.
// It returns how many cancellations were attempted; individual failures
// are logged and tolerated.
func (d *Dispatcher) CancelAll(ctx context.Context) int {
	orders, err := d.client.CurrentOrders(ctx, "")
	if err != nil {
		d.logger.Warn("list orders failed", slog.String("error", err.Error()))
		return 0
	}
	if len(orders) == 0 {
		return 0
	}

	var g errgroup.Group
	if d.cfg.MaxConcurrency > 0 {
		g.SetLimit(d.cfg.MaxConcurrency)
	}
	for _, o := range orders {
		g.Go(func() error {
			d.Cancel(ctx, o.ID)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("cancelled resting orders", slog.Int("count", len(orders)))
	return len(orders)
}
