package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// unlockLua deletes the lock key only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the TTL only while the key still holds the caller's token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SETNX plus a TTL. The trade
// mode holds one lock per venue account so two processes never quote the
// same book against each other.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// TraderLockKey names the lock held by a trading process for user.
func TraderLockKey(user string) string {
	return "trader:" + user
}

// Acquire takes the lock for key. The returned unlock may be called more than
// once. It returns domain.ErrLockHeld if another holder has the key.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	unlock, _, err := lm.acquire(ctx, key, ttl)
	return unlock, err
}

// Hold takes the lock like Acquire and keeps extending it every ttl/2 until
// ctx is done or unlock is called.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	unlock, token, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		t := time.NewTicker(ttl / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				_ = lm.extendSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Err()
			}
		}
	}()

	return func() {
		stopOnce.Do(func() { close(stop) })
		unlock()
	}, nil
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (func(), string, error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, "", domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// the caller's ctx is usually already cancelled at shutdown
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, token, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
