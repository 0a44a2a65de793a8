package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cmibot/internal/book"
	"github.com/alanyoungcy/cmibot/internal/domain"
	"github.com/alanyoungcy/cmibot/internal/metrics"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedOpener hands out one pipe per OpenStream call. When the script is
// exhausted it blocks until ctx is cancelled.
type scriptedOpener struct {
	mu     sync.Mutex
	pipes  []*io.PipeWriter
	bodies []*io.PipeReader
	opens  atomic.Int32
}

func (o *scriptedOpener) add() *io.PipeWriter {
	pr, pw := io.Pipe()
	o.mu.Lock()
	o.pipes = append(o.pipes, pw)
	o.bodies = append(o.bodies, pr)
	o.mu.Unlock()
	return pw
}

func (o *scriptedOpener) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	o.opens.Add(1)
	o.mu.Lock()
	if len(o.bodies) > 0 {
		body := o.bodies[0]
		o.bodies = o.bodies[1:]
		o.mu.Unlock()
		return body, nil
	}
	o.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func orderEvent(product string, bid, ask float64) string {
	return fmt.Sprintf("event: order\ndata: {\"productsymbol\":%q,\"tickSize\":1,"+
		"\"buyOrders\":{\"%g\":{\"marketVolume\":5,\"userVolume\":0}},"+
		"\"sellOrders\":{\"%g\":{\"marketVolume\":4,\"userVolume\":1}}}\n\n", product, bid, ask)
}

func writeAsync(pw *io.PipeWriter, chunks ...string) {
	go func() {
		for _, c := range chunks {
			if _, err := pw.Write([]byte(c)); err != nil {
				return
			}
		}
	}()
}

func fastConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    time.Millisecond,
		MaxReconnectDelay: 5 * time.Millisecond,
		IdleTimeout:       time.Minute,
		StopTimeout:       time.Second,
	}
}

func TestStream_ReconnectsAfterResetAndKeepsPublishing(t *testing.T) {
	opener := &scriptedOpener{}
	first := opener.add()
	second := opener.add()
	store := book.NewStore()

	s := NewStream(opener, store, nil, fastConfig(), metrics.New(), testLogger)
	require.NoError(t, s.Start(t.Context()))

	go func() {
		_, _ = first.Write([]byte(orderEvent("M1", 50, 52)))
		_ = first.CloseWithError(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET})
	}()
	writeAsync(second, orderEvent("M3", 30, 31))

	require.Eventually(t, func() bool {
		_, ok1 := store.Get("M1")
		_, ok3 := store.Get("M3")
		return ok1 && ok3
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, opener.opens.Load(), int32(2))
	assert.Equal(t, StateStreaming, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, StateClosed, s.State())

	// stopping leaves the last published snapshots in place
	b, ok := store.Get("M1")
	require.True(t, ok)
	bid, _ := b.BestBid()
	assert.Equal(t, 50.0, bid)
}

func TestStream_OnErrorOnlyForHardFailures(t *testing.T) {
	opener := &scriptedOpener{}
	first := opener.add()
	second := opener.add()

	var mu sync.Mutex
	var reported []error
	cfg := fastConfig()
	cfg.OnError = func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}

	s := NewStream(opener, book.NewStore(), nil, cfg, nil, testLogger)
	require.NoError(t, s.Start(t.Context()))

	_ = first.CloseWithError(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET})
	_ = second.CloseWithError(errors.New("upstream sent garbage"))

	require.Eventually(t, func() bool { return opener.opens.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "upstream sent garbage")
}

func TestStream_StartTwiceAndRestart(t *testing.T) {
	opener := &scriptedOpener{}
	s := NewStream(opener, book.NewStore(), nil, fastConfig(), nil, testLogger)

	require.NoError(t, s.Start(t.Context()))
	assert.ErrorIs(t, s.Start(t.Context()), domain.ErrAlreadyRunning)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Start(t.Context()), domain.ErrStreamClosed)
}

func TestStream_StopNeverStarted(t *testing.T) {
	s := NewStream(&scriptedOpener{}, book.NewStore(), nil, fastConfig(), nil, testLogger)
	assert.NoError(t, s.Stop())
	assert.Equal(t, StateIdle, s.State())
}

type stubbornOpener struct {
	release chan struct{}
}

func (o *stubbornOpener) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	<-o.release
	return nil, errors.New("released")
}

func TestStream_StopTimeout(t *testing.T) {
	opener := &stubbornOpener{release: make(chan struct{})}
	cfg := fastConfig()
	cfg.StopTimeout = 20 * time.Millisecond
	s := NewStream(opener, book.NewStore(), nil, cfg, nil, testLogger)
	require.NoError(t, s.Start(t.Context()))

	start := time.Now()
	err := s.Stop()
	assert.ErrorIs(t, err, domain.ErrStopTimeout)
	assert.Less(t, time.Since(start), time.Second)

	close(opener.release)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream goroutine did not exit after release")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestStream_DropsMalformedAndForwardsTrades(t *testing.T) {
	opener := &scriptedOpener{}
	pw := opener.add()
	store := book.NewStore()

	var mu sync.Mutex
	var trades []domain.Trade
	onTrade := func(tr domain.Trade) {
		mu.Lock()
		trades = append(trades, tr)
		mu.Unlock()
	}

	s := NewStream(opener, store, onTrade, fastConfig(), nil, testLogger)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop() })

	writeAsync(pw,
		"event: order\ndata: {not json\n\n",
		"event: order\ndata: {\"tickSize\":1}\n\n",
		"event: trade\ndata: {\"timestamp\":\"t1\",\"product\":\"M1\",\"buyer\":\"a\",\"seller\":\"b\",\"volume\":1,\"price\":10,\"tradeId\":99}\n\n",
		"event: trade\ndata: [{\"timestamp\":\"t2\",\"product\":\"M3\",\"buyer\":\"a\",\"seller\":\"c\",\"volume\":2,\"price\":11},"+
			"{\"timestamp\":\"t3\",\"product\":\"M5\",\"buyer\":\"d\",\"seller\":\"a\",\"volume\":3,\"price\":12}]\n\n",
		"event: heartbeat\ndata: {}\n\n",
		orderEvent("M7", 95, 97),
	)

	require.Eventually(t, func() bool {
		_, ok := store.Get("M7")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, trades, 3)
	assert.Equal(t, domain.Trade{Timestamp: "t1", Product: "M1", Buyer: "a", Seller: "b", Volume: 1, Price: 10}, trades[0])
	assert.Equal(t, "M5", trades[2].Product)
	assert.Equal(t, 1, store.Len())
}

func TestStream_IdleTimeoutReconnects(t *testing.T) {
	opener := &scriptedOpener{}
	opener.add() // never written to
	live := opener.add()
	store := book.NewStore()

	cfg := fastConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	s := NewStream(opener, store, nil, cfg, nil, testLogger)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop() })

	writeAsync(live, orderEvent("M1", 1, 2))

	require.Eventually(t, func() bool {
		_, ok := store.Get("M1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, opener.opens.Load(), int32(2))
}

func TestStream_OrderEventSortedForAnyKeyOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 50; iter++ {
		prices := rng.Perm(20)
		var buys, sells []string
		for _, p := range prices {
			buys = append(buys, fmt.Sprintf("\"%d\":{\"marketVolume\":1,\"userVolume\":0}", p+1))
			sells = append(sells, fmt.Sprintf("\"%d\":{\"marketVolume\":1,\"userVolume\":0}", p+100))
		}
		data := fmt.Sprintf("{\"productsymbol\":\"M1\",\"tickSize\":1,\"buyOrders\":{%s},\"sellOrders\":{%s}}",
			strings.Join(buys, ","), strings.Join(sells, ","))

		store := book.NewStore()
		s := NewStream(&scriptedOpener{}, store, nil, fastConfig(), nil, testLogger)
		s.handleOrderEvent([]byte(data))

		b, ok := store.Get("M1")
		require.True(t, ok)
		require.Len(t, b.Buys, 20)
		require.Len(t, b.Sells, 20)
		for i := 1; i < 20; i++ {
			require.Greater(t, b.Buys[i-1].Price, b.Buys[i].Price)
			require.Less(t, b.Sells[i-1].Price, b.Sells[i].Price)
		}
	}
}

func TestStream_OrderEventBadPriceKeysDropped(t *testing.T) {
	cases := map[string]string{
		"nan":        `"99":{"marketVolume":1,"userVolume":0},"NaN":{"marketVolume":1,"userVolume":0},"100":{"marketVolume":1,"userVolume":0}`,
		"inf":        `"100":{"marketVolume":1,"userVolume":0},"+Inf":{"marketVolume":1,"userVolume":0}`,
		"same_price": `"100":{"marketVolume":1,"userVolume":0},"100.0":{"marketVolume":2,"userVolume":0}`,
	}
	for name, buys := range cases {
		t.Run(name, func(t *testing.T) {
			store := book.NewStore()
			s := NewStream(&scriptedOpener{}, store, nil, fastConfig(), nil, testLogger)

			s.handleOrderEvent([]byte(`{"productsymbol":"M1","tickSize":1,"buyOrders":{` + buys +
				`},"sellOrders":{"101":{"marketVolume":1,"userVolume":0}}}`))

			_, ok := store.Get("M1")
			assert.False(t, ok)
		})
	}

	// a valid event for the same product still lands afterwards
	store := book.NewStore()
	s := NewStream(&scriptedOpener{}, store, nil, fastConfig(), nil, testLogger)
	s.handleOrderEvent([]byte(`{"productsymbol":"M1","tickSize":1,"buyOrders":{"99":{"marketVolume":1,"userVolume":0},"100":{"marketVolume":1,"userVolume":0}},"sellOrders":{}}`))
	b, ok := store.Get("M1")
	require.True(t, ok)
	bid, _ := b.BestBid()
	assert.Equal(t, 100.0, bid)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(io.EOF))
	assert.True(t, isTransient(fmt.Errorf("wrap: %w", io.ErrUnexpectedEOF)))
	assert.True(t, isTransient(errIdleTimeout))
	assert.True(t, isTransient(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}))
	assert.True(t, isTransient(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}))
	assert.False(t, isTransient(domain.ErrUnauthorized))
	assert.False(t, isTransient(errors.New("boom")))
}
