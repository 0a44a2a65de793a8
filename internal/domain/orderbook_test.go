package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderBook_SortsSides(t *testing.T) {
	buys := []PriceLevel{{Price: 48, Volume: 1}, {Price: 50, Volume: 2}, {Price: 49, Volume: 3}}
	sells := []PriceLevel{{Price: 55, Volume: 1}, {Price: 52, Volume: 2}, {Price: 53, Volume: 3}}

	b := NewOrderBook("M1", 1, buys, sells)

	require.Len(t, b.Buys, 3)
	require.Len(t, b.Sells, 3)
	for i := 1; i < len(b.Buys); i++ {
		assert.Greater(t, b.Buys[i-1].Price, b.Buys[i].Price)
	}
	for i := 1; i < len(b.Sells); i++ {
		assert.Less(t, b.Sells[i-1].Price, b.Sells[i].Price)
	}

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 50.0, bid)
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 52.0, ask)
	mid, ok := b.Mid()
	require.True(t, ok)
	assert.Equal(t, 51.0, mid)

	// inputs are copied, not aliased
	buys[0].Price = 1000
	assert.Equal(t, 50.0, b.Buys[0].Price)
}

func TestOrderBook_BestPrices(t *testing.T) {
	b := NewOrderBook("M1", 1,
		[]PriceLevel{{Price: 99, Volume: 10}, {Price: 100, Volume: 5}},
		[]PriceLevel{{Price: 102, Volume: 6}, {Price: 101, Volume: 4}},
	)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, bid)
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 101.0, ask)
	mid, ok := b.Mid()
	require.True(t, ok)
	assert.Equal(t, 100.5, mid)
}

func TestOrderBook_EmptySides(t *testing.T) {
	b := NewOrderBook("M1", 1, nil, []PriceLevel{{Price: 10, Volume: 1}})

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.Mid()
	assert.False(t, ok)
	_, ok = b.Spread()
	assert.False(t, ok)
	ask, ok := b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, 10.0, ask)
}

func TestPositions_Open(t *testing.T) {
	p := Positions{"M7": -3, "M1": 5, "M3": 0}
	assert.Equal(t, []string{"M1", "M7"}, p.Open())
	assert.Equal(t, 0, p.Get("M5"))
}

func TestTrade_Key(t *testing.T) {
	a := Trade{Timestamp: "t1", Product: "M1", Buyer: "a", Seller: "b", Volume: 2, Price: 10.5}
	b := a
	assert.Equal(t, a.Key(), b.Key())
	b.Volume = 3
	assert.NotEqual(t, a.Key(), b.Key())
	assert.True(t, a.Involves("b"))
	assert.False(t, a.Involves("c"))
}

func TestSide_Opposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}
