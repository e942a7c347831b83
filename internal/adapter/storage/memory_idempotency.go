package storage

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many claims pass between two scans for expired keys.
const sweepEvery = 1024

// MemoryIdempotency claims keys in process memory with the same TTL as the
// Redis adapter. Expired keys are overwritten when claimed again and
// dropped by a periodic sweep.
type MemoryIdempotency struct {
	mu     sync.Mutex
	keys   map[string]time.Time
	now    func() time.Time
	claims int
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (m *MemoryIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.claims++
	if m.claims%sweepEvery == 0 {
		m.sweep(now)
	}

	if expires, ok := m.keys[key]; ok && now.Before(expires) {
		return false, nil
	}
	m.keys[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (m *MemoryIdempotency) sweep(now time.Time) {
	for key, expires := range m.keys {
		if !now.Before(expires) {
			delete(m.keys, key)
		}
	}
}

func (m *MemoryIdempotency) ClearIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	return nil
}
