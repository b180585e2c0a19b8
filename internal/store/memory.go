package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryValue struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a process-local Store. It backs tests and single-instance
// development runs; expiry is evaluated lazily against the store clock.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	tables   map[string]map[string]string
	values   map[string]memoryValue
	counters map[string]map[string]float64
	queues   map[string]map[string]QueueItem
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		tables:   make(map[string]map[string]string),
		values:   make(map[string]memoryValue),
		counters: make(map[string]map[string]float64),
		queues:   make(map[string]map[string]QueueItem),
	}
}

// SetClock replaces the clock used for expiry decisions.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) HGet(_ context.Context, table, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.tables[table][field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) HSet(_ context.Context, table, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		t = make(map[string]string)
		m.tables[table] = t
	}
	t[field] = value
	return nil
}

func (m *MemoryStore) HDel(_ context.Context, table, field string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table][field]; !ok {
		return false, nil
	}
	delete(m.tables[table], field)
	return true, nil
}

// live returns the unexpired value of key. Callers hold m.mu.
func (m *MemoryStore) live(key string) (memoryValue, bool) {
	v, ok := m.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if !v.expiresAt.IsZero() && !m.now().Before(v.expiresAt) {
		delete(m.values, key)
		return memoryValue{}, false
	}
	return v, true
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return v.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = memoryValue{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.values[key] = memoryValue{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) SetXX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); !ok {
		return false, nil
	}
	m.values[key] = memoryValue{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); !ok {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(key)
	return ok, nil
}

func (m *MemoryStore) IncrFields(_ context.Context, key string, deltas map[string]float64) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		c = make(map[string]float64)
		m.counters[key] = c
	}
	out := make(map[string]float64, len(deltas))
	for field, delta := range deltas {
		c[field] += delta
		out[field] = c[field]
	}
	return out, nil
}

func (m *MemoryStore) GetFields(_ context.Context, key string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.counters[key]))
	for field, v := range m.counters[key] {
		out[field] = v
	}
	return out, nil
}

func (m *MemoryStore) QueuePut(_ context.Context, queue string, item QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queue]
	if !ok {
		q = make(map[string]QueueItem)
		m.queues[queue] = q
	}
	q[item.Member] = item
	return nil
}

func (m *MemoryStore) QueueRemove(_ context.Context, queue, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queue][member]; !ok {
		return false, nil
	}
	delete(m.queues[queue], member)
	return true, nil
}

func (m *MemoryStore) QueueScan(_ context.Context, queue string, after *QueueCursor, limit int) ([]QueueItem, *QueueCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]QueueItem, 0, len(m.queues[queue]))
	for _, item := range m.queues[queue] {
		if after.precedes(item.Score, item.Member) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score < items[j].Score
		}
		return items[i].Member < items[j].Member
	})
	if limit <= 0 || len(items) <= limit {
		return items, nil, nil
	}

	items = items[:limit]
	last := items[limit-1]
	return items, &QueueCursor{Score: last.Score, Member: last.Member}, nil
}

func (m *MemoryStore) QueueLen(_ context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int64(len(m.queues[queue])), nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}
