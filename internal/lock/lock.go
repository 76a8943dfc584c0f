// Package lock serializes switching per key. A Memory locker covers a single
// daemon; the Redis locker extends the same guarantee across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotAcquired is returned by Acquire when every attempt found the key held.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker makes a single non-blocking attempt to take key.
// On success the caller must invoke release exactly once; extra calls are no-ops.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Policy controls how Acquire retries.
type Policy struct {
	Attempts   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultPolicy tries 100 times with a random 1-5ms pause between attempts.
func DefaultPolicy() Policy {
	return Policy{Attempts: 100, MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func (p Policy) backoff() time.Duration {
	if p.MaxBackoff <= p.MinBackoff {
		return p.MinBackoff
	}
	return p.MinBackoff + time.Duration(rand.Int63n(int64(p.MaxBackoff-p.MinBackoff+1)))
}

// Acquire takes key, retrying with randomized backoff until the policy is
// exhausted or ctx is done.
func Acquire(ctx context.Context, l Locker, key string, p Policy) (func(), error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 1; ; i++ {
		release, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("lock %q: %w", key, err)
		}
		if ok {
			if i > 1 {
				log.Debug().Str("key", key).Int("attempts", i).Msg("Lock acquired after contention")
			}
			return release, nil
		}
		if i >= attempts {
			return nil, fmt.Errorf("%w: %q after %d attempts", ErrNotAcquired, key, attempts)
		}

		timer := time.NewTimer(p.backoff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Memory is an in-process keyed lock.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (m *Memory) TryLock(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	return sync.OnceFunc(func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}), true, nil
}
