package domain

import "strconv"

// Trade is one executed trade as reported by the exchange. Timestamp is an
// ISO-8601 string and sorts lexically.
type Trade struct {
	Timestamp string  `json:"timestamp"`
	Product   string  `json:"product"`
	Buyer     string  `json:"buyer"`
	Seller    string  `json:"seller"`
	Volume    int     `json:"volume"`
	Price     float64 `json:"price"`
}

// Key returns the identity tuple of the trade as a single string.
func (t Trade) Key() string {
	return t.Timestamp + "|" + t.Buyer + "|" + t.Seller + "|" + t.Product + "|" +
		strconv.FormatFloat(t.Price, 'f', -1, 64) + "|" + strconv.Itoa(t.Volume)
}

// Involves reports whether user was on either side of the trade.
func (t Trade) Involves(user string) bool {
	return t.Buyer == user || t.Seller == user
}
