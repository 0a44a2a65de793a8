package domain

import (
	"sort"
	"time"
)

// PriceLevel is one resting price on a book side. OwnVolume is the part of
// Volume that belongs to the authenticated user.
type PriceLevel struct {
	Price     float64 `json:"price"`
	Volume    int     `json:"volume"`
	OwnVolume int     `json:"own_volume"`
}

// OrderBook is an immutable snapshot of one product's book. Buys are sorted
// best bid first (descending), Sells best ask first (ascending). A new
// snapshot replaces the previous one wholesale; it is never patched.
type OrderBook struct {
	Product    string       `json:"product"`
	TickSize   float64      `json:"tick_size"`
	Buys       []PriceLevel `json:"buy_orders"`
	Sells      []PriceLevel `json:"sell_orders"`
	ReceivedAt time.Time    `json:"received_at"`
}

// NewOrderBook copies both sides, sorts them into book order and stamps the
// snapshot. Input ordering is irrelevant.
func NewOrderBook(product string, tickSize float64, buys, sells []PriceLevel) OrderBook {
	b := make([]PriceLevel, len(buys))
	copy(b, buys)
	s := make([]PriceLevel, len(sells))
	copy(s, sells)

	sort.SliceStable(b, func(i, j int) bool { return b[i].Price > b[j].Price })
	sort.SliceStable(s, func(i, j int) bool { return s[i].Price < s[j].Price })

	return OrderBook{
		Product:    product,
		TickSize:   tickSize,
		Buys:       b,
		Sells:      s,
		ReceivedAt: time.Now().UTC(),
	}
}

// BestBid returns the highest resting buy price.
func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Buys) == 0 {
		return 0, false
	}
	return b.Buys[0].Price, true
}

// BestAsk returns the lowest resting sell price.
func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Sells) == 0 {
		return 0, false
	}
	return b.Sells[0].Price, true
}

// Mid returns the midpoint of best bid and best ask; false if either side is empty.
func (b OrderBook) Mid() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Spread returns best ask minus best bid.
func (b OrderBook) Spread() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask - bid, true
}
