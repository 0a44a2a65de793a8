package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

const (
	// ChannelTrade carries live trades from the market stream.
	ChannelTrade = "ch:trade"
	// StreamTrades is the durable Redis stream of live trades.
	StreamTrades = "stream:trades"
)

// BookChannel is the pub/sub channel for one product's snapshots.
func BookChannel(product string) string {
	return "ch:book:" + product
}

// Publisher mirrors stream output to external readers: every book goes to
// the orderbook cache and the signal bus, every live trade to the bus. It
// decouples the stream goroutine from Redis latency with buffered channels;
// when a buffer is full the update is dropped, since the next snapshot
// supersedes it anyway.
type Publisher struct {
	cache  domain.OrderbookCache
	bus    domain.SignalBus
	books  chan domain.OrderBook
	trades chan domain.Trade
	logger *slog.Logger
}

// NewPublisher creates a Publisher. cache or bus may be nil.
func NewPublisher(cache domain.OrderbookCache, bus domain.SignalBus, buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		cache:  cache,
		bus:    bus,
		books:  make(chan domain.OrderBook, buffer),
		trades: make(chan domain.Trade, buffer),
		logger: logger.With(slog.String("component", "stream_publisher")),
	}
}

// EnqueueBook schedules b for publication without blocking.
func (p *Publisher) EnqueueBook(b domain.OrderBook) {
	select {
	case p.books <- b:
	default:
		p.logger.Debug("book publish buffer full, dropping", slog.String("product", b.Product))
	}
}

// EnqueueTrade schedules t for publication without blocking.
func (p *Publisher) EnqueueTrade(t domain.Trade) {
	select {
	case p.trades <- t:
	default:
		p.logger.Debug("trade publish buffer full, dropping", slog.String("product", t.Product))
	}
}

// Run drains both buffers until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("stream publisher started")
	defer p.logger.Info("stream publisher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-p.books:
			p.publishBook(ctx, b)
		case t := <-p.trades:
			p.publishTrade(ctx, t)
		}
	}
}

func (p *Publisher) publishBook(ctx context.Context, b domain.OrderBook) {
	if p.cache != nil {
		if err := p.cache.SetSnapshot(ctx, b); err != nil {
			p.logger.Debug("mirror book failed", slog.String("product", b.Product), slog.String("error", err.Error()))
		}
	}
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, BookChannel(b.Product), payload); err != nil {
		p.logger.Debug("publish book failed", slog.String("product", b.Product), slog.String("error", err.Error()))
	}
}

func (p *Publisher) publishTrade(ctx context.Context, t domain.Trade) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, ChannelTrade, payload); err != nil {
		p.logger.Debug("publish trade failed", slog.String("error", err.Error()))
	}
	if err := p.bus.StreamAppend(ctx, StreamTrades, payload); err != nil {
		p.logger.Debug("append trade failed", slog.String("error", err.Error()))
	}
}
