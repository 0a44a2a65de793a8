package domain

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the venue-reported state of an order.
type OrderStatus string

const (
	OrderStatusActive     OrderStatus = "ACTIVE"
	OrderStatusPartFilled OrderStatus = "PART_FILLED"
	OrderStatusFilled     OrderStatus = "FILLED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// OrderRequest is a limit order built by a strategy.
type OrderRequest struct {
	Product string  `json:"product"`
	Price   float64 `json:"price"`
	Side    Side    `json:"side"`
	Volume  int     `json:"volume"`
}

// OrderResponse is the venue's acknowledgement of an order. Filled never
// exceeds Volume; Filled < Volume is a valid terminal state for the caller.
type OrderResponse struct {
	ID         string      `json:"id"`
	Status     OrderStatus `json:"status"`
	Product    string      `json:"product"`
	Side       Side        `json:"side"`
	Price      float64     `json:"price"`
	Volume     int         `json:"volume"`
	Filled     int         `json:"filled"`
	User       string      `json:"user"`
	Timestamp  string      `json:"timestamp"`
	TargetUser string      `json:"targetUser,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Remaining is the unfilled volume still resting.
func (o OrderResponse) Remaining() int {
	if o.Filled >= o.Volume {
		return 0
	}
	return o.Volume - o.Filled
}

// IsPartial reports whether the order left a resting remainder.
func (o OrderResponse) IsPartial() bool {
	return o.Filled < o.Volume
}

// Matches reports whether the response echoes the given request. Used to
// attribute batch results back to legs.
func (o OrderResponse) Matches(req OrderRequest) bool {
	return o.Product == req.Product && o.Side == req.Side && o.Price == req.Price
}
