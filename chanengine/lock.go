package chanengine

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ChannelLocker hands out a per-channel exclusive lock. The TTL passed to
// Acquire bounds only how long Acquire waits for the lock: it becomes a
// deadline context for golang.org/x/sync/semaphore's Acquire(ctx, 1), which
// fails once it elapses. A lock that has been acquired is held until its
// release function is called; the TTL does not expire it.
type ChannelLocker struct {
	mu   sync.Mutex
	sems map[common.Address]*semaphore.Weighted
}

// NewChannelLocker builds an empty locker; semaphores are created lazily
// per channel address on first use.
func NewChannelLocker() *ChannelLocker {
	return &ChannelLocker{sems: make(map[common.Address]*semaphore.Weighted)}
}

func (l *ChannelLocker) semaphoreFor(channel common.Address) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[channel]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[channel] = sem
	}
	return sem
}

// Acquire blocks until the channel's lock is free or ttl elapses, returning
// a release function on success. Cancellation of ctx is observable: Acquire
// returns ctx.Err() and never partially acquires.
func (l *ChannelLocker) Acquire(ctx context.Context, channel common.Address, ttl time.Duration) (release func(), err error) {
	lockCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	sem := l.semaphoreFor(channel)
	if err := sem.Acquire(lockCtx, 1); err != nil {
		return nil, errors.WithMessage(err, "chanengine: acquiring per-channel lock")
	}
	return func() { sem.Release(1) }, nil
}
