package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache using Redis sorted sets and
// hashes for each product's book. The bbo hash is written for dashboards
// that only need the touch.
//
// Key schema:
//
//	book:{product}:bids     - sorted set of bid prices (score = price)
//	book:{product}:asks     - sorted set of ask prices (score = price)
//	book:{product}:bid:vol  - hash mapping price -> "volume:own"
//	book:{product}:ask:vol  - hash mapping price -> "volume:own"
//	book:{product}:bbo      - hash with fields "bid" and "ask"
//	book:{product}:meta     - hash with "ts" and "tick"
type OrderbookCache struct {
	rdb *redis.Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying()}
}

func bookBidsKey(p string) string   { return "book:" + p + ":bids" }
func bookAsksKey(p string) string   { return "book:" + p + ":asks" }
func bookBidVolKey(p string) string { return "book:" + p + ":bid:vol" }
func bookAskVolKey(p string) string { return "book:" + p + ":ask:vol" }
func bookBBOKey(p string) string    { return "book:" + p + ":bbo" }
func bookMetaKey(p string) string   { return "book:" + p + ":meta" }

func formatPrice(p float64) string { return strconv.FormatFloat(p, 'f', -1, 64) }

func encodeVolume(l domain.PriceLevel) string {
	return strconv.Itoa(l.Volume) + ":" + strconv.Itoa(l.OwnVolume)
}

func decodeVolume(s string) (vol, own int) {
	v, o, _ := strings.Cut(s, ":")
	vol, _ = strconv.Atoi(v)
	own, _ = strconv.Atoi(o)
	return vol, own
}

// SetSnapshot atomically replaces the mirrored book for b.Product.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, b domain.OrderBook) error {
	p := b.Product
	bidsKey, asksKey := bookBidsKey(p), bookAsksKey(p)
	bidVolKey, askVolKey := bookBidVolKey(p), bookAskVolKey(p)
	bboKey, metaKey := bookBBOKey(p), bookMetaKey(p)

	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, bidVolKey, askVolKey, bboKey, metaKey)

	for _, lvl := range b.Buys {
		ps := formatPrice(lvl.Price)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: ps})
		pipe.HSet(ctx, bidVolKey, ps, encodeVolume(lvl))
	}
	for _, lvl := range b.Sells {
		ps := formatPrice(lvl.Price)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: ps})
		pipe.HSet(ctx, askVolKey, ps, encodeVolume(lvl))
	}

	if bid, ok := b.BestBid(); ok {
		pipe.HSet(ctx, bboKey, "bid", formatPrice(bid))
	}
	if ask, ok := b.BestAsk(); ok {
		pipe.HSet(ctx, bboKey, "ask", formatPrice(ask))
	}

	ts := b.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	pipe.HSet(ctx, metaKey,
		"ts", strconv.FormatInt(ts.UnixNano(), 10),
		"tick", formatPrice(b.TickSize),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", p, err)
	}
	return nil
}

// GetSnapshot rebuilds a mirrored book. It returns domain.ErrNotFound if the
// product was never mirrored.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, product string) (domain.OrderBook, error) {
	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(product), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(product), 0, -1)
	bidVolCmd := pipe.HGetAll(ctx, bookBidVolKey(product))
	askVolCmd := pipe.HGetAll(ctx, bookAskVolKey(product))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(product))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", product, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	tick, _ := strconv.ParseFloat(meta["tick"], 64)

	bidsZ, _ := bidsCmd.Result()
	bidVols, _ := bidVolCmd.Result()
	asksZ, _ := asksCmd.Result()
	askVols, _ := askVolCmd.Result()

	b := domain.NewOrderBook(product, tick, levelsFromZ(bidsZ, bidVols), levelsFromZ(asksZ, askVols))
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		b.ReceivedAt = time.Unix(0, ns)
	}
	return b, nil
}

func levelsFromZ(zs []redis.Z, vols map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		ps, ok := z.Member.(string)
		if !ok {
			continue
		}
		vol, own := decodeVolume(vols[ps])
		out = append(out, domain.PriceLevel{Price: z.Score, Volume: vol, OwnVolume: own})
	}
	return out
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
