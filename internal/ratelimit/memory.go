package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory - лимитер в памяти процесса (журнал отметок времени на ключ).
type Memory struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewMemory создаёт лимитер; now == nil означает time.Now.
func NewMemory(limit int, window time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}

	return &Memory{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	hits := prune(m.hits[key], now.Add(-m.window))

	if len(hits) >= m.limit {
		m.hits[key] = hits
		return Result{
			Allowed:    false,
			Limit:      m.limit,
			RetryAfter: hits[0].Add(m.window).Sub(now),
		}, nil
	}

	hits = append(hits, now)
	m.hits[key] = hits

	return Result{
		Allowed:   true,
		Limit:     m.limit,
		Remaining: m.limit - len(hits),
	}, nil
}

// Sweep удаляет ключи, у которых в окне не осталось запросов.
func (m *Memory) Sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, hits := range m.hits {
		hits = prune(hits, now.Add(-m.window))
		if len(hits) == 0 {
			delete(m.hits, k)
			continue
		}
		m.hits[k] = hits
	}
}

// prune отбрасывает отметки не позже cutoff; hits отсортированы по времени.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}

	return hits[i:]
}

var _ Limiter = (*Memory)(nil)
