package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists ledger trades.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListByProduct(ctx context.Context, product string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before string, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, before string) (int64, error)
}

// ExecutionStore persists basket execution records.
type ExecutionStore interface {
	Create(ctx context.Context, exec Execution) error
	ListRecent(ctx context.Context, limit int) ([]Execution, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore records operator-relevant lifecycle events such as mode start,
// shutdown cancel-all and completed flatten passes.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
