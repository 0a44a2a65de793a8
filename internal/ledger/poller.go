package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Poller refreshes a ledger on a fixed interval.
type Poller struct {
	ledger   *Ledger
	interval time.Duration
	onAppend func(newTrades int)
	logger   *slog.Logger
}

// NewPoller creates a poller. onAppend, if set, is called after each refresh
// that grew the ledger.
func NewPoller(l *Ledger, interval time.Duration, onAppend func(newTrades int), logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		ledger:   l,
		interval: interval,
		onAppend: onAppend,
		logger:   logger.With(slog.String("component", "ledger_poller")),
	}
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("ledger poller started", slog.Duration("interval", p.interval))
	defer p.logger.Info("ledger poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		before := p.ledger.Len()
		p.ledger.Refresh(ctx)
		if grown := p.ledger.Len() - before; grown > 0 && p.onAppend != nil {
			p.onAppend(grown)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
