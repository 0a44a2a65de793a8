package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeVenue returns every stored trade with timestamp >= from, like the
// exchange's inclusive lower bound.
type fakeVenue struct {
	mu     sync.Mutex
	trades []domain.Trade
	froms  []string
	err    error
}

func (v *fakeVenue) Trades(_ context.Context, from string) ([]domain.Trade, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.froms = append(v.froms, from)
	if v.err != nil {
		return nil, v.err
	}
	var out []domain.Trade
	for _, t := range v.trades {
		if from == "" || t.Timestamp >= from {
			out = append(out, t)
		}
	}
	return out, nil
}

func (v *fakeVenue) add(trades ...domain.Trade) {
	v.mu.Lock()
	v.trades = append(v.trades, trades...)
	v.mu.Unlock()
}

type recordingSink struct {
	batches [][]domain.Trade
	err     error
}

func (s *recordingSink) InsertBatch(_ context.Context, trades []domain.Trade) error {
	s.batches = append(s.batches, trades)
	return s.err
}

func trade(ts, product, buyer, seller string, vol int, price float64) domain.Trade {
	return domain.Trade{Timestamp: ts, Product: product, Buyer: buyer, Seller: seller, Volume: vol, Price: price}
}

func TestLedger_FirstRefreshOmitsLowerBound(t *testing.T) {
	v := &fakeVenue{}
	v.add(trade("2026-01-01T00:00:01Z", "M1", "a", "b", 1, 10))
	l := New(v, testLogger)

	got := l.Refresh(t.Context())
	require.Len(t, got, 1)
	assert.Equal(t, []string{""}, v.froms)
	assert.Equal(t, "2026-01-01T00:00:01Z", l.Watermark())

	l.Refresh(t.Context())
	assert.Equal(t, "2026-01-01T00:00:01Z", v.froms[1])
}

func TestLedger_RefreshIsIdempotent(t *testing.T) {
	v := &fakeVenue{}
	v.add(
		trade("t1", "M1", "a", "b", 1, 10),
		trade("t2", "M3", "a", "c", 2, 11),
	)
	l := New(v, testLogger)

	first := l.Refresh(t.Context())
	wm := l.Watermark()
	second := l.Refresh(t.Context())

	assert.Equal(t, first, second)
	assert.Equal(t, wm, l.Watermark())
	assert.Equal(t, 2, l.Len())
}

func TestLedger_NoDuplicatesAcrossRefreshes(t *testing.T) {
	v := &fakeVenue{}
	l := New(v, testLogger)

	v.add(trade("t1", "M1", "a", "b", 1, 10), trade("t2", "M1", "b", "a", 1, 11))
	l.Refresh(t.Context())
	v.add(trade("t3", "M3", "a", "c", 2, 12))
	l.Refresh(t.Context())
	l.Refresh(t.Context())
	v.add(trade("t4", "M5", "c", "a", 3, 13), trade("t5", "M7", "a", "d", 4, 14))
	l.Refresh(t.Context())

	seen := map[string]bool{}
	for _, tr := range l.Trades() {
		require.False(t, seen[tr.Key()], "duplicate trade %s", tr.Key())
		seen[tr.Key()] = true
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, "t5", l.Watermark())
}

func TestLedger_TiesAtWatermarkAreDropped(t *testing.T) {
	v := &fakeVenue{}
	l := New(v, testLogger)

	v.add(trade("t1", "M1", "a", "b", 1, 10))
	l.Refresh(t.Context())

	// a late trade sharing the watermark timestamp is never appended
	v.add(trade("t1", "M3", "c", "d", 1, 20), trade("t2", "M1", "a", "b", 1, 11))
	got := l.Refresh(t.Context())

	require.Len(t, got, 2)
	assert.Equal(t, "M1", got[0].Product)
	assert.Equal(t, "t2", got[1].Timestamp)
}

func TestLedger_FailureKeepsStateAndRecordsAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	v := &fakeVenue{}
	v.add(trade("t1", "M1", "a", "b", 1, 10))
	l := New(v, testLogger, WithClock(clock))

	_, ok := l.AgeSinceLastRefresh()
	assert.False(t, ok)

	l.Refresh(t.Context())
	v.err = errors.New("connection refused")
	now = now.Add(3 * time.Second)

	got := l.Refresh(t.Context())
	assert.Len(t, got, 1)
	assert.Equal(t, "t1", l.Watermark())

	now = now.Add(2 * time.Second)
	age, ok := l.AgeSinceLastRefresh()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, age)
}

func TestLedger_SinkReceivesOnlyNewTrades(t *testing.T) {
	v := &fakeVenue{}
	sink := &recordingSink{err: errors.New("db down")}
	l := New(v, testLogger, WithSink(sink))

	v.add(trade("t1", "M1", "a", "b", 1, 10))
	l.Refresh(t.Context())
	l.Refresh(t.Context())
	v.add(trade("t2", "M1", "a", "b", 1, 11))
	l.Refresh(t.Context())

	require.Len(t, sink.batches, 2)
	assert.Equal(t, "t2", sink.batches[1][0].Timestamp)
	assert.Equal(t, 2, l.Len())
}

func TestLedger_ForUser(t *testing.T) {
	v := &fakeVenue{}
	v.add(trade("t1", "M1", "me", "b", 1, 10), trade("t2", "M1", "x", "y", 1, 10), trade("t3", "M1", "z", "me", 1, 10))
	l := New(v, testLogger)
	l.Refresh(t.Context())

	mine := l.ForUser("me")
	require.Len(t, mine, 2)
	assert.Equal(t, "t3", mine[1].Timestamp)
}

func TestPoller_RunsUntilCancelled(t *testing.T) {
	v := &fakeVenue{}
	v.add(trade("t1", "M1", "a", "b", 1, 10))
	l := New(v, testLogger)

	var mu sync.Mutex
	grown := 0
	p := NewPoller(l, 5*time.Millisecond, func(n int) {
		mu.Lock()
		grown += n
		mu.Unlock()
	}, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return len(v.froms) >= 3
	}, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	mu.Lock()
	assert.Equal(t, 1, grown)
	mu.Unlock()
}
