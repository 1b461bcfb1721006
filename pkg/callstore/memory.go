package callstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// Memory is the in-process backend, used when no Redis connection string is
// configured. Safe for concurrent use by the webhook handlers and all active
// bridge sessions.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, id string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, id)
		return nil, nil
	}
	return deepCopy(entry.value), nil
}

func (m *Memory) Set(ctx context.Context, id string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing any
	if entry, ok := m.entries[id]; ok && m.now().Before(entry.expiresAt) {
		existing = entry.value
	}
	m.entries[id] = memoryEntry{
		value:     merge(existing, value),
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *Memory) Size(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, id)
		}
	}
	return int64(len(m.entries)), nil
}
