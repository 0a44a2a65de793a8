package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// EntryPrice is the volume-weighted average price at which a user bought
// (long) and sold (short) one product. A side with zero quantity has no
// average.
type EntryPrice struct {
	Product  string
	LongQty  int
	LongAvg  decimal.Decimal
	ShortQty int
	ShortAvg decimal.Decimal
}

// HasLong reports whether any buys were recorded.
func (e EntryPrice) HasLong() bool { return e.LongQty > 0 }

// HasShort reports whether any sells were recorded.
func (e EntryPrice) HasShort() bool { return e.ShortQty > 0 }

// EntryPrices averages the user's fills per product. A trade where the user
// is the buyer counts as long; otherwise, if the user is the seller, as
// short. Trades not involving the user are ignored.
func EntryPrices(trades []domain.Trade, user string) map[string]EntryPrice {
	type acc struct {
		longCost, shortCost decimal.Decimal
		longQty, shortQty   int
	}
	sums := make(map[string]*acc)

	for _, t := range trades {
		if !t.Involves(user) {
			continue
		}
		a := sums[t.Product]
		if a == nil {
			a = &acc{}
			sums[t.Product] = a
		}

		notional := decimal.NewFromFloat(t.Price).Mul(decimal.NewFromInt(int64(t.Volume)))
		if t.Buyer == user {
			a.longCost = a.longCost.Add(notional)
			a.longQty += t.Volume
		} else {
			a.shortCost = a.shortCost.Add(notional)
			a.shortQty += t.Volume
		}
	}

	out := make(map[string]EntryPrice, len(sums))
	for product, a := range sums {
		e := EntryPrice{Product: product, LongQty: a.longQty, ShortQty: a.shortQty}
		if a.longQty > 0 {
			e.LongAvg = a.longCost.Div(decimal.NewFromInt(int64(a.longQty)))
		}
		if a.shortQty > 0 {
			e.ShortAvg = a.shortCost.Div(decimal.NewFromInt(int64(a.shortQty)))
		}
		out[product] = e
	}
	return out
}

// SortedProducts returns the keys of entries in order.
func SortedProducts(entries map[string]EntryPrice) []string {
	out := make([]string, 0, len(entries))
	for p := range entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
