package domain

import "sort"

// Positions maps product symbol to signed net quantity (positive = long).
// It is derived server-side and only ever read by the client.
type Positions map[string]int

// Get returns the net position for product, zero when absent.
func (p Positions) Get(product string) int {
	return p[product]
}

// Open returns the products with a non-zero position, sorted by symbol.
func (p Positions) Open() []string {
	out := make([]string, 0, len(p))
	for sym, qty := range p {
		if qty != 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// ProfitSummary is the profit/loss report for the current user.
type ProfitSummary struct {
	TotalProfit float64        `json:"totalProfit"`
	Raw         map[string]any `json:"raw,omitempty"`
}
