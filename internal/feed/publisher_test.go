package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

type fakeCache struct {
	mu    sync.Mutex
	books map[string]domain.OrderBook
}

func (c *fakeCache) SetSnapshot(_ context.Context, b domain.OrderBook) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[b.Product] = b
	return nil
}

func (c *fakeCache) GetSnapshot(_ context.Context, product string) (domain.OrderBook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[product]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return b, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	appended  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, appended: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("unused")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

func TestPublisher_MirrorsBooksAndTrades(t *testing.T) {
	cache := &fakeCache{books: map[string]domain.OrderBook{}}
	bus := newFakeBus()
	p := NewPublisher(cache, bus, 8, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.EnqueueBook(domain.NewOrderBook("M1", 1, []domain.PriceLevel{{Price: 50, Volume: 1}}, nil))
	p.EnqueueTrade(domain.Trade{Timestamp: "t1", Product: "M1", Buyer: "a", Seller: "b", Volume: 1, Price: 50})

	require.Eventually(t, func() bool {
		return bus.count(BookChannel("M1")) == 1 && bus.count(ChannelTrade) == 1
	}, time.Second, 5*time.Millisecond)

	got, err := cache.GetSnapshot(t.Context(), "M1")
	require.NoError(t, err)
	assert.Equal(t, "M1", got.Product)

	var tr domain.Trade
	bus.mu.Lock()
	require.NoError(t, json.Unmarshal(bus.appended[StreamTrades][0], &tr))
	bus.mu.Unlock()
	assert.Equal(t, "t1", tr.Timestamp)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	p := NewPublisher(nil, nil, 1, testLogger)
	p.EnqueueBook(domain.NewOrderBook("M1", 1, nil, nil))
	p.EnqueueBook(domain.NewOrderBook("M3", 1, nil, nil))
	assert.Len(t, p.books, 1)
}
