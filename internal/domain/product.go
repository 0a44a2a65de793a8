package domain

// Product is immutable reference data for a tradable instrument. It is fetched
// once per session and cached by the caller.
type Product struct {
	Symbol        string  `json:"symbol"`
	TickSize      float64 `json:"tickSize"`
	StartingPrice int     `json:"startingPrice"`
	ContractSize  int     `json:"contractSize"`
}
