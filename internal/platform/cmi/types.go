package cmi

import (
	"fmt"
	"math"
	"strconv"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// APIProduct is a product as returned by GET /api/product.
type APIProduct struct {
	Symbol        string  `json:"symbol"`
	TickSize      float64 `json:"tickSize"`
	StartingPrice int     `json:"startingPrice"`
	ContractSize  int     `json:"contractSize"`
}

func (p APIProduct) toDomain() domain.Product {
	return domain.Product{
		Symbol:        p.Symbol,
		TickSize:      p.TickSize,
		StartingPrice: p.StartingPrice,
		ContractSize:  p.ContractSize,
	}
}

// APIPosition is one row of GET /api/position/current-user.
type APIPosition struct {
	Product     string `json:"product"`
	NetPosition int    `json:"netPosition"`
}

// APIOrder is the order shape used by POST /api/order and
// GET /api/order/current-user.
type APIOrder struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Product    string  `json:"product"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Volume     int     `json:"volume"`
	Filled     int     `json:"filled"`
	User       string  `json:"user"`
	Timestamp  string  `json:"timestamp"`
	TargetUser *string `json:"targetUser,omitempty"`
	Message    *string `json:"message,omitempty"`
}

func (o APIOrder) toDomain() domain.OrderResponse {
	r := domain.OrderResponse{
		ID:        o.ID,
		Status:    domain.OrderStatus(o.Status),
		Product:   o.Product,
		Side:      domain.Side(o.Side),
		Price:     o.Price,
		Volume:    o.Volume,
		Filled:    o.Filled,
		User:      o.User,
		Timestamp: o.Timestamp,
	}
	if o.TargetUser != nil {
		r.TargetUser = *o.TargetUser
	}
	if o.Message != nil {
		r.Message = *o.Message
	}
	return r
}

// APIBookEntry is one level of the on-demand order book.
type APIBookEntry struct {
	Price           float64 `json:"price"`
	Volume          int     `json:"volume"`
	UserOrderVolume int     `json:"userOrderVolume"`
}

// APIOrderBook is the body of GET /api/product/{p}/order-book/current-user.
type APIOrderBook struct {
	Product  string         `json:"product"`
	TickSize float64        `json:"tickSize"`
	Buy      []APIBookEntry `json:"buy"`
	Sell     []APIBookEntry `json:"sell"`
}

func (b APIOrderBook) toDomain() domain.OrderBook {
	return domain.NewOrderBook(b.Product, b.TickSize, entriesToLevels(b.Buy), entriesToLevels(b.Sell))
}

func entriesToLevels(entries []APIBookEntry) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.PriceLevel{Price: e.Price, Volume: e.Volume, OwnVolume: e.UserOrderVolume})
	}
	return out
}

// APITrade is a trade as returned by GET /api/trade and the stream's trade
// event. Unknown fields are ignored by encoding/json.
type APITrade struct {
	Timestamp string  `json:"timestamp"`
	Product   string  `json:"product"`
	Buyer     string  `json:"buyer"`
	Seller    string  `json:"seller"`
	Volume    int     `json:"volume"`
	Price     float64 `json:"price"`
}

// ToDomain converts the DTO.
func (t APITrade) ToDomain() domain.Trade {
	return domain.Trade{
		Timestamp: t.Timestamp,
		Product:   t.Product,
		Buyer:     t.Buyer,
		Seller:    t.Seller,
		Volume:    t.Volume,
		Price:     t.Price,
	}
}

// --------------------------------------------------------------------------
// Stream DTOs
// --------------------------------------------------------------------------

// StreamLevel is the per-price payload of an order event.
type StreamLevel struct {
	MarketVolume int `json:"marketVolume"`
	UserVolume   int `json:"userVolume"`
}

// StreamOrderEvent is the payload of an "order" stream event. Prices are
// object keys and arrive as strings.
type StreamOrderEvent struct {
	ProductSymbol string                 `json:"productsymbol"`
	TickSize      float64                `json:"tickSize"`
	BuyOrders     map[string]StreamLevel `json:"buyOrders"`
	SellOrders    map[string]StreamLevel `json:"sellOrders"`
}

// ToDomain parses price keys and builds a sorted book snapshot.
func (e StreamOrderEvent) ToDomain() (domain.OrderBook, error) {
	buys, err := streamLevels(e.BuyOrders)
	if err != nil {
		return domain.OrderBook{}, err
	}
	sells, err := streamLevels(e.SellOrders)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return domain.NewOrderBook(e.ProductSymbol, e.TickSize, buys, sells), nil
}

// streamLevels parses one side of an order event. A side must hold finite,
// distinct prices; "100" and "100.0" name the same level and are rejected.
func streamLevels(m map[string]StreamLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(m))
	seen := make(map[float64]string, len(m))
	for priceStr, lvl := range m {
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(price) || math.IsInf(price, 0) {
			return nil, fmt.Errorf("cmi: non-finite price %q", priceStr)
		}
		if prev, dup := seen[price]; dup {
			return nil, fmt.Errorf("cmi: duplicate price level %q and %q", prev, priceStr)
		}
		seen[price] = priceStr
		out = append(out, domain.PriceLevel{Price: price, Volume: lvl.MarketVolume, OwnVolume: lvl.UserVolume})
	}
	return out, nil
}
