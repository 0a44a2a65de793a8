// Package pipeline runs background maintenance jobs over stored data.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/cmibot/internal/blob/s3"
	"github.com/alanyoungcy/cmibot/internal/domain"
)

// archiveLockKey serialises archive runs across processes sharing a database.
const archiveLockKey = "archive:trades"

// BlobArchiver moves stored trades older than a cutoff to object storage.
type BlobArchiver interface {
	ArchiveBefore(ctx context.Context, store s3blob.TradeArchiveStore, cutoff string) (int64, error)
}

// Archiver moves ledger trades from the database to S3 cold storage once
// they are older than the retention window.
type Archiver struct {
	blob      BlobArchiver
	store     s3blob.TradeArchiveStore
	retention time.Duration
	locks     domain.LockManager
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blob BlobArchiver, store s3blob.TradeArchiveStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:      blob,
		store:     store,
		retention: retention,
		logger:    logger.With(slog.String("component", "ledger_archiver_job")),
		now:       time.Now,
	}
}

// WithLock makes every run take an exclusive lock for ttl first. A run that
// finds the lock held elsewhere is skipped.
func (a *Archiver) WithLock(locks domain.LockManager, ttl time.Duration) *Archiver {
	a.locks = locks
	a.lockTTL = ttl
	return a
}

// Cutoff is the trade timestamp below which rows are archived. Venue
// timestamps are ISO-8601 UTC and compare lexically.
func (a *Archiver) Cutoff() string {
	return a.now().UTC().Add(-a.retention).Format(time.RFC3339)
}

// Run executes a single archive run and returns the number of rows moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Debug("archive run skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.Cutoff()
	n, err := a.blob.ArchiveBefore(ctx, a.store, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive trades before %s: %w", cutoff, err)
	}
	if n > 0 {
		a.logger.Info("archive run complete", slog.String("cutoff", cutoff), slog.Int64("trades_archived", n))
	} else {
		a.logger.Debug("archive run found nothing", slog.String("cutoff", cutoff))
	}
	return n, nil
}

// RunEvery runs the archiver on a fixed interval until ctx is cancelled. A
// failed run is logged and retried on the next tick.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	a.logger.Info("archiver started",
		slog.Duration("interval", interval),
		slog.Duration("retention", a.retention),
	)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-t.C:
		}

		if _, err := a.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}
}
