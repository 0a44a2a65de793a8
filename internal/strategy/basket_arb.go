package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

const (
	DirectionOverpriced  = "target_overpriced"
	DirectionUnderpriced = "target_underpriced"

	defaultMaxPosition = 100
	defaultOrderSize   = 5
)

// Component is one constituent of the basket and its integer weight.
type Component struct {
	Product string
	Weight  int
}

// BasketConfig configures a BasketArb.
type BasketConfig struct {
	Name        string
	Target      string
	Components  []Component
	MinSpread   float64
	MaxPosition int
	OrderSize   int
}

// BasketArb trades a quoted instrument against a synthetic built from its
// components (for example an ETF against its constituents).
//
// The synthetic bid is the weighted sum of component best bids, the
// synthetic ask the weighted sum of component best asks. When the target's
// bid exceeds the synthetic ask by more than MinSpread, the basket buys the
// components at their asks and sells the target at its bid. When the
// synthetic bid exceeds the target's ask, it does the reverse. The
// overpriced check runs first and wins if both clear the threshold.
type BasketArb struct {
	cfg       BasketConfig
	minSpread decimal.Decimal
	products  []string
}

// NewBasketArb validates cfg, fills defaults and returns the strategy.
func NewBasketArb(cfg BasketConfig) (*BasketArb, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("basket arb: target product is required")
	}
	if len(cfg.Components) == 0 {
		return nil, fmt.Errorf("basket arb: at least one component is required")
	}
	if cfg.Name == "" {
		cfg.Name = "basket_arb"
	}
	if cfg.MaxPosition <= 0 {
		cfg.MaxPosition = defaultMaxPosition
	}
	if cfg.OrderSize <= 0 {
		cfg.OrderSize = defaultOrderSize
	}

	seen := map[string]bool{cfg.Target: true}
	products := []string{cfg.Target}
	comps := make([]Component, len(cfg.Components))
	for i, c := range cfg.Components {
		if c.Product == "" {
			return nil, fmt.Errorf("basket arb: component %d has no product", i)
		}
		if seen[c.Product] {
			return nil, fmt.Errorf("basket arb: product %s listed twice", c.Product)
		}
		seen[c.Product] = true
		if c.Weight <= 0 {
			c.Weight = 1
		}
		comps[i] = c
		products = append(products, c.Product)
	}
	cfg.Components = comps

	return &BasketArb{
		cfg:       cfg,
		minSpread: decimal.NewFromFloat(cfg.MinSpread),
		products:  products,
	}, nil
}

// Name returns the configured strategy name.
func (b *BasketArb) Name() string { return b.cfg.Name }

// Products returns the target followed by the components.
func (b *BasketArb) Products() []string {
	out := make([]string, len(b.products))
	copy(out, b.products)
	return out
}

// Config returns the effective configuration.
func (b *BasketArb) Config() BasketConfig { return b.cfg }

type basketPrices struct {
	targetBid, targetAsk       decimal.Decimal
	syntheticBid, syntheticAsk decimal.Decimal
	compBid, compAsk           map[string]float64
	rawTargetBid, rawTargetAsk float64
}

// prices collects every best bid and ask the basket needs. Any missing
// price makes the whole evaluation unavailable.
func (b *BasketArb) prices(books map[string]domain.OrderBook) (basketPrices, bool) {
	var p basketPrices

	target, ok := books[b.cfg.Target]
	if !ok {
		return p, false
	}
	tBid, okBid := target.BestBid()
	tAsk, okAsk := target.BestAsk()
	if !okBid || !okAsk {
		return p, false
	}
	p.rawTargetBid, p.rawTargetAsk = tBid, tAsk
	p.targetBid = decimal.NewFromFloat(tBid)
	p.targetAsk = decimal.NewFromFloat(tAsk)
	p.compBid = make(map[string]float64, len(b.cfg.Components))
	p.compAsk = make(map[string]float64, len(b.cfg.Components))

	for _, c := range b.cfg.Components {
		book, ok := books[c.Product]
		if !ok {
			return p, false
		}
		bid, okBid := book.BestBid()
		ask, okAsk := book.BestAsk()
		if !okBid || !okAsk {
			return p, false
		}
		w := decimal.NewFromInt(int64(c.Weight))
		p.syntheticBid = p.syntheticBid.Add(decimal.NewFromFloat(bid).Mul(w))
		p.syntheticAsk = p.syntheticAsk.Add(decimal.NewFromFloat(ask).Mul(w))
		p.compBid[c.Product] = bid
		p.compAsk[c.Product] = ask
	}
	return p, true
}

// Detect implements Strategy.
func (b *BasketArb) Detect(books map[string]domain.OrderBook) (Opportunity, bool) {
	p, ok := b.prices(books)
	if !ok {
		return Opportunity{}, false
	}

	over := p.targetBid.Sub(p.syntheticAsk)
	under := p.syntheticBid.Sub(p.targetAsk)
	size := b.cfg.OrderSize

	switch {
	case over.GreaterThan(b.minSpread):
		legs := make([]domain.OrderRequest, 0, len(b.cfg.Components)+1)
		for _, c := range b.cfg.Components {
			legs = append(legs, domain.OrderRequest{Product: c.Product, Price: p.compAsk[c.Product], Side: domain.SideBuy, Volume: c.Weight * size})
		}
		legs = append(legs, domain.OrderRequest{Product: b.cfg.Target, Price: p.rawTargetBid, Side: domain.SideSell, Volume: size})
		return Opportunity{Strategy: b.cfg.Name, Direction: DirectionOverpriced, Spread: over, Legs: legs}, true

	case under.GreaterThan(b.minSpread):
		legs := make([]domain.OrderRequest, 0, len(b.cfg.Components)+1)
		legs = append(legs, domain.OrderRequest{Product: b.cfg.Target, Price: p.rawTargetAsk, Side: domain.SideBuy, Volume: size})
		for _, c := range b.cfg.Components {
			legs = append(legs, domain.OrderRequest{Product: c.Product, Price: p.compBid[c.Product], Side: domain.SideSell, Volume: c.Weight * size})
		}
		return Opportunity{Strategy: b.cfg.Name, Direction: DirectionUnderpriced, Spread: under, Legs: legs}, true
	}
	return Opportunity{}, false
}

// WithinLimits implements Strategy.
func (b *BasketArb) WithinLimits(opp Opportunity, positions domain.Positions) bool {
	return withinPositionLimits(opp.Legs, positions, b.cfg.MaxPosition)
}

// Quote implements Quoter.
func (b *BasketArb) Quote(books map[string]domain.OrderBook) (Quote, bool) {
	p, ok := b.prices(books)
	if !ok {
		return Quote{}, false
	}
	sBid, _ := p.syntheticBid.Float64()
	sAsk, _ := p.syntheticAsk.Float64()
	over, _ := p.targetBid.Sub(p.syntheticAsk).Float64()
	under, _ := p.syntheticBid.Sub(p.targetAsk).Float64()
	return Quote{
		Strategy:     b.cfg.Name,
		Target:       b.cfg.Target,
		TargetBid:    p.rawTargetBid,
		TargetAsk:    p.rawTargetAsk,
		SyntheticBid: sBid,
		SyntheticAsk: sAsk,
		SpreadOver:   over,
		SpreadUnder:  under,
		MinSpread:    b.cfg.MinSpread,
	}, true
}
