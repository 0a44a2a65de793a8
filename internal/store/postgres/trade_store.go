package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Venue timestamps
// are stored as the text the venue sent, so range queries on ts compare
// lexically the same way the in-memory ledger does.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `ts, product, buyer, seller, volume, price`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.Timestamp, &t.Product, &t.Buyer, &t.Seller, &t.Volume, &t.Price); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts trades with a pgx Batch. Rows already present under the
// same trade identity are skipped.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	const query = `
		INSERT INTO trades (ts, product, buyer, seller, volume, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ts, buyer, seller, product, price, volume) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query, t.Timestamp, t.Product, t.Buyer, t.Seller, t.Volume, t.Price)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByProduct returns trades for product, newest first. The opts time
// window applies to when the bot recorded the trade.
func (s *TradeStore) ListByProduct(ctx context.Context, product string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(
		`SELECT `+tradeSelectCols+` FROM trades WHERE product = $1`,
		[]any{product}, 2, "recorded_at", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by product: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by product: %w", err)
	}
	return trades, nil
}

// ListBefore returns up to limit trades with venue timestamp strictly before
// before, oldest first (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before string, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ts < $1 ORDER BY ts ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes trades with venue timestamp before before and returns
// the number removed.
func (s *TradeStore) DeleteBefore(ctx context.Context, before string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
