package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/metrics"
	"github.com/alanyoungcy/cmibot/internal/platform/cmi"
)

const (
	defaultReconnectDelay    = time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultStopTimeout       = 5 * time.Second
)

var errIdleTimeout = errors.New("stream idle timeout")

// State is the connection state of a Stream.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Opener opens one authenticated event-stream response.
type Opener interface {
	OpenStream(ctx context.Context) (io.ReadCloser, error)
}

// BookSink receives every decoded order book snapshot.
type BookSink interface {
	Put(book domain.OrderBook)
}

// TradeHandler receives live trades from the stream. It runs on the stream
// goroutine and must not block.
type TradeHandler func(trade domain.Trade)

// StreamConfig tunes reconnection and shutdown.
type StreamConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	IdleTimeout       time.Duration
	StopTimeout       time.Duration
	// OnError, if set, is called on the stream goroutine for every
	// non-transient connection failure. It must not block.
	OnError func(err error)
}

func (c *StreamConfig) withDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = defaultMaxReconnectDelay
		if c.MaxReconnectDelay < c.ReconnectDelay {
			c.MaxReconnectDelay = c.ReconnectDelay
		}
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
}

// Stream consumes the exchange market stream on one background goroutine.
// It owns at most one connection at a time, publishes order books to the
// sink and forwards live trades. Transient transport failures reconnect
// silently with exponential backoff; anything else is logged and also
// reconnects. Once stopped, a Stream cannot be restarted.
type Stream struct {
	opener  Opener
	books   BookSink
	onTrade TradeHandler
	cfg     StreamConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	body    io.ReadCloser
	done    chan struct{}
}

// NewStream creates a stream consumer. onTrade and m may be nil.
func NewStream(opener Opener, books BookSink, onTrade TradeHandler, cfg StreamConfig, m *metrics.Metrics, logger *slog.Logger) *Stream {
	cfg.withDefaults()
	return &Stream{
		opener:  opener,
		books:   books,
		onTrade: onTrade,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "market_stream")),
		done:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Done is closed once the background goroutine has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Start launches the background goroutine and returns immediately. It fails
// with domain.ErrAlreadyRunning if the stream was already started and with
// domain.ErrStreamClosed once it has been stopped. Cancelling ctx has the
// same effect as Stop without the wait.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateClosed {
		return domain.ErrStreamClosed
	}
	if s.started {
		return domain.ErrAlreadyRunning
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setState(StateConnecting)

	go s.run(runCtx)
	return nil
}

// Stop signals the goroutine, closes the live connection to unblock any
// pending read and waits up to StopTimeout for the goroutine to exit. If the
// wait times out Stop returns domain.ErrStopTimeout; the goroutine has been
// cancelled and exits on its next read or dial, but the caller no longer
// waits for it. Stop on a stream that was never started is a no-op.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	if s.body != nil {
		_ = s.body.Close()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("stream goroutine did not exit in time", slog.Duration("timeout", s.cfg.StopTimeout))
		return domain.ErrStopTimeout
	}
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.SetStreamState(int(st))
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateClosed)

	delay := s.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)

		delivered, err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		if delivered > 0 {
			delay = s.cfg.ReconnectDelay
		}
		if isTransient(err) {
			s.metrics.IncReconnect("transient")
			s.logger.Debug("stream interrupted, reconnecting", slog.Any("error", err), slog.Duration("delay", delay))
		} else {
			s.metrics.IncReconnect("error")
			s.logger.Warn("stream error, reconnecting", slog.Any("error", err), slog.Duration("delay", delay))
			if s.cfg.OnError != nil {
				s.cfg.OnError(err)
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// consume runs one connection until it fails and reports how many events
// it delivered.
func (s *Stream) consume(ctx context.Context) (int, error) {
	body, err := s.opener.OpenStream(ctx)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return 0, ctx.Err()
	}
	s.body = body
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.body = nil
		s.mu.Unlock()
	}()

	s.setState(StateStreaming)
	s.logger.Info("stream connected")

	var idle atomic.Bool
	timer := time.AfterFunc(s.cfg.IdleTimeout, func() {
		idle.Store(true)
		_ = body.Close()
	})
	defer timer.Stop()

	reader := cmi.NewEventReader(body)
	delivered := 0
	for {
		ev, err := reader.Next()
		if err != nil {
			if idle.Load() {
				return delivered, errIdleTimeout
			}
			return delivered, err
		}
		timer.Reset(s.cfg.IdleTimeout)
		s.handleEvent(ev)
		delivered++
	}
}

func (s *Stream) handleEvent(ev cmi.Event) {
	switch ev.Type {
	case "order":
		s.handleOrderEvent([]byte(ev.Data))
	case "trade":
		s.handleTradeEvent([]byte(ev.Data))
	default:
		s.metrics.IncStreamEvent("other")
		s.logger.Debug("ignoring stream event", slog.String("event", ev.Type))
	}
}

func (s *Stream) handleOrderEvent(data []byte) {
	var payload cmi.StreamOrderEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		s.dropEvent("order", err)
		return
	}
	if payload.ProductSymbol == "" {
		s.dropEvent("order", errors.New("missing productsymbol"))
		return
	}
	book, err := payload.ToDomain()
	if err != nil {
		s.dropEvent("order", err)
		return
	}
	s.metrics.IncStreamEvent("order")
	s.books.Put(book)
}

func (s *Stream) handleTradeEvent(data []byte) {
	trades, err := decodeTrades(data)
	if err != nil {
		s.dropEvent("trade", err)
		return
	}
	s.metrics.IncStreamEvent("trade")
	if s.onTrade == nil {
		return
	}
	for _, t := range trades {
		s.onTrade(t.ToDomain())
	}
}

func (s *Stream) dropEvent(kind string, err error) {
	s.metrics.IncStreamDropped(kind)
	s.logger.Warn("dropping malformed stream event", slog.String("event", kind), slog.String("error", err.Error()))
}

// decodeTrades accepts either a single trade object or an array of them.
func decodeTrades(data []byte) ([]cmi.APITrade, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var trades []cmi.APITrade
		if err := json.Unmarshal(trimmed, &trades); err != nil {
			return nil, err
		}
		return trades, nil
	}
	var t cmi.APITrade
	if err := json.Unmarshal(trimmed, &t); err != nil {
		return nil, err
	}
	return []cmi.APITrade{t}, nil
}

// isTransient reports whether err is the expected churn of a kept-alive
// feed: timeouts, resets, refused dials and clean or abrupt EOFs.
func isTransient(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, errIdleTimeout) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
