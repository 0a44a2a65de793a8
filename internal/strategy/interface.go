package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// Strategy turns a consistent set of order books into at most one basket
// of orders per evaluation.
type Strategy interface {
	Name() string
	// Products lists every product the strategy needs a book for. The
	// engine evaluates only once all of them have a snapshot.
	Products() []string
	// Detect inspects the books and returns the opportunity whose spread
	// clears the threshold, if any. Missing prices yield false.
	Detect(books map[string]domain.OrderBook) (Opportunity, bool)
	// WithinLimits reports whether every leg keeps its post-trade position
	// inside the configured cap.
	WithinLimits(opp Opportunity, positions domain.Positions) bool
}

// Quoter is implemented by strategies that can describe their current
// pricing without trading.
type Quoter interface {
	Quote(books map[string]domain.OrderBook) (Quote, bool)
}

// Opportunity is a detected mispricing and the basket that captures it.
type Opportunity struct {
	Strategy  string
	Direction string
	Spread    decimal.Decimal
	Legs      []domain.OrderRequest
}

// Quote is a point-in-time view of a basket strategy's pricing.
type Quote struct {
	Strategy     string  `json:"strategy"`
	Target       string  `json:"target"`
	TargetBid    float64 `json:"target_bid"`
	TargetAsk    float64 `json:"target_ask"`
	SyntheticBid float64 `json:"synthetic_bid"`
	SyntheticAsk float64 `json:"synthetic_ask"`
	SpreadOver   float64 `json:"spread_over"`
	SpreadUnder  float64 `json:"spread_under"`
	MinSpread    float64 `json:"min_spread"`
}

// withinPositionLimits checks |position + signed leg volume| <= maxPosition
// for every leg. Buys add, sells subtract.
func withinPositionLimits(legs []domain.OrderRequest, positions domain.Positions, maxPosition int) bool {
	for _, leg := range legs {
		delta := leg.Volume
		if leg.Side == domain.SideSell {
			delta = -delta
		}
		post := positions.Get(leg.Product) + delta
		if post < 0 {
			post = -post
		}
		if post > maxPosition {
			return false
		}
	}
	return true
}
