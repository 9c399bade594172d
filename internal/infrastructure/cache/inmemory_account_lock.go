package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// InMemoryAccountLocker serializes sync runs inside one process. It is the
// fallback when Redis is disabled and does not coordinate replicas.
type InMemoryAccountLocker struct {
	mu    sync.Mutex
	held  map[string]lease
	ttl   time.Duration
	now   func() time.Time
	token uint64
}

type lease struct {
	token     uint64
	expiresAt time.Time
}

// NewInMemoryAccountLocker creates an in-process locker. A zero ttl means
// locks never expire.
func NewInMemoryAccountLocker(ttl time.Duration) *InMemoryAccountLocker {
	return &InMemoryAccountLocker{
		held: make(map[string]lease),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Acquire implements ordersync.AccountLocker
func (l *InMemoryAccountLocker) Acquire(_ context.Context, accountKey string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[accountKey]; ok && (cur.expiresAt.IsZero() || now.Before(cur.expiresAt)) {
		return nil, ordersync.ErrSyncInProgress
	}

	l.token++
	mine := lease{token: l.token}
	if l.ttl > 0 {
		mine.expiresAt = now.Add(l.ttl)
	}
	l.held[accountKey] = mine

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// an expired lease may have been taken over; only drop our own
		if cur, ok := l.held[accountKey]; ok && cur.token == mine.token {
			delete(l.held, accountKey)
		}
		return nil
	}, nil
}

// Held reports whether accountKey is currently locked
func (l *InMemoryAccountLocker) Held(accountKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.held[accountKey]
	return ok && (cur.expiresAt.IsZero() || l.now().Before(cur.expiresAt))
}

var _ ordersync.AccountLocker = (*InMemoryAccountLocker)(nil)
