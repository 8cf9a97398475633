package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is a keyed TTL store for derived read models.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const DefaultTTL = 300 * time.Second

func AvailabilityKey(propertyID int64) string {
	return fmt.Sprintf("availability:%d", propertyID)
}

func UnreadKey(userID int64) string {
	return fmt.Sprintf("unread:%d", userID)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is an in-process Store. Expired entries are never returned and are
// removed either lazily on Get or by Sweep.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory builds a store with the given default TTL. A nil clock means time.Now.
func NewMemory[V any](ttl time.Duration, now func() time.Time) *Memory[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Memory[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     now,
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}

	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && m.now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return zero, false, nil
	}
	return e.value, true, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	m.mu.Lock()
	m.entries[key] = entry[V]{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory[V]) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]entry[V])
	m.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory[V]) Sweep() int {
	now := m.now()
	removed := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Run sweeps on every tick until ctx is done.
func (m *Memory[V]) Run(ctx context.Context, interval time.Duration, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 && logger != nil {
				logger.Debug().Int("removed", n).Msg("cache sweep")
			}
		}
	}
}
