// Package lock provides the per-proposal serialization used by the state
// machine: at most one in-flight transition per proposal id.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/consigfacil/creditengine/pkg/cache"
)

// RedisLocker serializes across service instances with a redis SETNX lock.
type RedisLocker struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

// NewRedisLocker creates the distributed locker. TTL bounds how long a
// crashed holder can block a proposal.
func NewRedisLocker(c *cache.RedisCache, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{cache: c, ttl: ttl}
}

// Acquire implements domain.ProposalLocker.
func (l *RedisLocker) Acquire(ctx context.Context, proposalID string) (func(), bool, error) {
	return l.cache.AcquireLock(ctx, "proposal:lock:"+proposalID, l.ttl)
}

// MemoryLocker serializes within a single process. It backs deployments
// without redis; the optimistic version check on the proposal row still
// protects against writers on other instances.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates the in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// Acquire implements domain.ProposalLocker without blocking: a held key
// reports ok=false immediately.
func (l *MemoryLocker) Acquire(_ context.Context, proposalID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[proposalID]; taken {
		return nil, false, nil
	}
	l.held[proposalID] = struct{}{}

	release := func() {
		l.mu.Lock()
		delete(l.held, proposalID)
		l.mu.Unlock()
	}
	return release, true, nil
}
