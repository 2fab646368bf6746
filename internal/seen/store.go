// Package seen tracks which dedup keys have been admitted into storage.
package seen

import (
	"context"
	"sync"
	"time"
)

// Store decides whether a dedup key has been seen before. Admit is a single
// atomic membership-test-and-insert: true means the key was new and is now
// admitted, false means it was already present within the TTL window.
type Store interface {
	Admit(ctx context.Context, key string) (bool, error)
	Close() error
}

// Memory is the process-local fallback store. Entries expire after the
// configured TTL; zero means never.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemory builds a Memory store.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:  ttl,
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Admit implements Store.
func (m *Memory) Admit(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if admitted, ok := m.keys[key]; ok {
		if m.ttl <= 0 || now.Sub(admitted) < m.ttl {
			return false, nil
		}
	}
	m.keys[key] = now
	return true, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
