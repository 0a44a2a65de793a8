package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// TradeArchiveStore is the part of the trade store the archiver prunes.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before string, limit int) ([]domain.Trade, error)
	DeleteBefore(ctx context.Context, before string) (int64, error)
}

// LedgerArchiver uploads ledger trades as JSONL objects under
// ledger/YYYY/MM/DD/<uuid>.jsonl.
type LedgerArchiver struct {
	writer domain.ArchiveWriter
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerArchiver creates a LedgerArchiver. audit may be nil.
func NewLedgerArchiver(writer domain.ArchiveWriter, audit domain.AuditStore, logger *slog.Logger) *LedgerArchiver {
	return &LedgerArchiver{
		writer: writer,
		audit:  audit,
		logger: logger.With(slog.String("component", "ledger_archiver")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Archive uploads trades as one object and returns its key. An empty slice
// uploads nothing and returns "".
func (a *LedgerArchiver) Archive(ctx context.Context, trades []domain.Trade) (string, error) {
	if len(trades) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive ledger marshal: %w", err)
	}

	path := archivePath(a.now())
	if err := a.writer.Upload(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive ledger upload: %w", err)
	}

	a.logger.Info("ledger archived", slog.String("path", path), slog.Int("trades", len(trades)))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.ledger", map[string]any{
			"path":  path,
			"count": len(trades),
			"first": trades[0].Timestamp,
			"last":  trades[len(trades)-1].Timestamp,
		}); err != nil {
			a.logger.Warn("audit archive failed", slog.String("error", err.Error()))
		}
	}
	return path, nil
}

// ArchiveBefore moves stored trades with timestamp before cutoff to object
// storage and deletes them from the store once the upload succeeded. It
// returns the number of rows deleted.
func (a *LedgerArchiver) ArchiveBefore(ctx context.Context, store TradeArchiveStore, cutoff string) (int64, error) {
	trades, err := store.ListBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}
	if _, err := a.Archive(ctx, trades); err != nil {
		return 0, err
	}
	n, err := store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger prune: %w", err)
	}
	return n, nil
}

// archivePath builds a day-partitioned object key.
//
//	ledger/2026/10/18/9f0c...jsonl
func archivePath(t time.Time) string {
	return fmt.Sprintf("ledger/%s/%s.jsonl", t.Format("2006/01/02"), uuid.NewString())
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
