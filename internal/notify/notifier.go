// Package notify pushes operator alerts to Telegram and Discord. Alerts are
// filtered by event type so operators receive only the ones they asked for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// Event types accepted by the filter.
const (
	EventExecution        = "execution"
	EventPartialExecution = "partial_execution"
	EventStreamError      = "stream_error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every Sender. An empty event list allows
// every event type.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Allows reports whether event passes the filter.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends to every sender if event passes the filter. A failing sender
// does not stop delivery to the rest; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// RecordExecution alerts on a dispatched basket. Fully acknowledged baskets
// are "execution" events, anything less is "partial_execution".
func (n *Notifier) RecordExecution(ctx context.Context, exec domain.Execution) {
	event := EventExecution
	if exec.Status != domain.ExecutionFilled {
		event = EventPartialExecution
	}
	title := fmt.Sprintf("%s %s (%s)", exec.Strategy, exec.Direction, exec.Status)
	_ = n.Notify(ctx, event, title, FormatExecution(exec))
}

// StreamError alerts that the market stream dropped with a non-transient
// error.
func (n *Notifier) StreamError(ctx context.Context, err error) {
	_ = n.Notify(ctx, EventStreamError, "market stream error", err.Error())
}

// FormatExecution renders one line per leg.
func FormatExecution(exec domain.Execution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "spread %.4g, %d/%d legs acknowledged\n", exec.Spread, exec.Acknowledged(), len(exec.Legs))
	for _, leg := range exec.Legs {
		r := leg.Request
		state := "no response"
		if leg.Response != nil {
			state = fmt.Sprintf("%s filled %d", leg.Response.ID, leg.Response.Filled)
		}
		fmt.Fprintf(&b, "%s %d %s @ %g: %s\n", r.Side, r.Volume, r.Product, r.Price, state)
	}
	return strings.TrimRight(b.String(), "\n")
}
