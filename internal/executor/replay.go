package executor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReplayGuard remembers transaction digests so an envelope executes at
// most once.
type ReplayGuard interface {
	// Claim records digest and reports false if it had already been claimed
	// within the guard's window.
	Claim(ctx context.Context, digest common.Hash) (bool, error)
}

// MemoryReplay is a process-local ReplayGuard. It is safe for concurrent
// use.
type MemoryReplay struct {
	seen map[common.Hash]time.Time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewMemoryReplay remembers digests for ttl.
func NewMemoryReplay(ttl time.Duration) *MemoryReplay {
	return &MemoryReplay{
		seen: make(map[common.Hash]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (r *MemoryReplay) Claim(_ context.Context, digest common.Hash) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if at, ok := r.seen[digest]; ok && now.Sub(at) < r.ttl {
		return false, nil
	}
	r.seen[digest] = now
	return true, nil
}

// Cleanup drops digests older than the window. Call it periodically.
func (r *MemoryReplay) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for d, at := range r.seen {
		if now.Sub(at) >= r.ttl {
			delete(r.seen, d)
		}
	}
}

// Len is the number of remembered digests.
func (r *MemoryReplay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
