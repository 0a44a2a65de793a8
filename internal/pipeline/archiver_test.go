package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/cmibot/internal/blob/s3"
	"github.com/alanyoungcy/cmibot/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBlob struct {
	mu      sync.Mutex
	cutoffs []string
	n       int64
	err     error
}

func (f *fakeBlob) ArchiveBefore(_ context.Context, _ s3blob.TradeArchiveStore, cutoff string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n, f.err
}

func (f *fakeBlob) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type nopStore struct{}

func (nopStore) ListBefore(context.Context, string, int) ([]domain.Trade, error) { return nil, nil }
func (nopStore) DeleteBefore(context.Context, string) (int64, error) { return 0, nil }

func TestArchiver_CutoffIsRetentionAgo(t *testing.T) {
	blob := &fakeBlob{n: 7}
	a := NewArchiver(blob, nopStore{}, 48*time.Hour, testLogger)
	a.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }

	n, err := a.Run(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.Equal(t, []string{"2026-10-16T12:00:00Z"}, blob.cutoffs)
}

func TestArchiver_RunWrapsError(t *testing.T) {
	boom := errors.New("s3 down")
	a := NewArchiver(&fakeBlob{err: boom}, nopStore{}, time.Hour, testLogger)

	_, err := a.Run(t.Context())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pipeline: archive trades before")
}

func TestArchiver_RunEveryKeepsGoingAfterFailure(t *testing.T) {
	blob := &fakeBlob{err: errors.New("s3 down")}
	a := NewArchiver(blob, nopStore{}, time.Hour, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.RunEvery(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return blob.calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	err      error
	keys     []string
	released int
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	return func() {
		l.mu.Lock()
		l.held = false
		l.released++
		l.mu.Unlock()
	}, nil
}

func TestArchiver_RunTakesLock(t *testing.T) {
	locks := &fakeLocks{}
	blob := &fakeBlob{n: 2}
	a := NewArchiver(blob, nopStore{}, time.Hour, testLogger).WithLock(locks, time.Minute)

	n, err := a.Run(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{"archive:trades"}, locks.keys)
	assert.Equal(t, 1, locks.released)
	assert.False(t, locks.held)
}

func TestArchiver_RunSkipsWhenLockHeld(t *testing.T) {
	locks := &fakeLocks{held: true}
	blob := &fakeBlob{n: 2}
	a := NewArchiver(blob, nopStore{}, time.Hour, testLogger).WithLock(locks, time.Minute)

	n, err := a.Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, blob.calls())
}

func TestArchiver_RunLockError(t *testing.T) {
	boom := errors.New("redis down")
	blob := &fakeBlob{}
	a := NewArchiver(blob, nopStore{}, time.Hour, testLogger).WithLock(&fakeLocks{err: boom}, time.Minute)

	_, err := a.Run(t.Context())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, blob.calls())
}
