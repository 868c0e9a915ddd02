package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token,
// so a holder whose lease expired cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and a scripted
// conditional unlock. With a retry interval set, Acquire polls until the
// lock frees up or ctx ends; otherwise it fails fast with ErrLockHeld.
type LockManager struct {
	rdb        *redis.Client
	unlockSc   *redis.Script
	retryEvery time.Duration
}

// NewLockManager creates a LockManager backed by c. retryEvery may be zero.
func NewLockManager(c *Client, retryEvery time.Duration) *LockManager {
	return &LockManager{
		rdb:        c.Underlying(),
		unlockSc:   redis.NewScript(unlockLua),
		retryEvery: retryEvery,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key with lease ttl. The returned unlock
// function is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	for {
		ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil && lm.retryEvery > 0 {
				return nil, fmt.Errorf("redis: acquire lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
			}
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if lm.retryEvery <= 0 {
			return nil, domain.ErrLockHeld
		}
		timer := time.NewTimer(lm.retryEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: acquire lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
