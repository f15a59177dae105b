package core

import (
	"context"
	"sync"
	"time"
)

// DefaultHistorySize is how many summaries MemoryLog keeps.
const DefaultHistorySize = 200

// MemoryLog is a BatchLog held in a fixed-size ring. The oldest summary is
// overwritten once the ring is full. Used when no database is configured.
type MemoryLog struct {
	mu    sync.Mutex
	ring  []BatchSummary
	next  int
	count int
}

// NewMemoryLog creates a ring holding up to size summaries.
func NewMemoryLog(size int) *MemoryLog {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &MemoryLog{ring: make([]BatchSummary, size)}
}

func (m *MemoryLog) Record(_ context.Context, s BatchSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = s
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	return nil
}

// Recent returns up to limit summaries, newest first. limit <= 0 returns all.
func (m *MemoryLog) Recent(_ context.Context, limit int) ([]BatchSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > m.count {
		limit = m.count
	}

	out := make([]BatchSummary, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out, nil
}

// Purge drops summaries that finished before olderThan.
func (m *MemoryLog) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rebuild oldest-first, keeping only recent entries
	kept := make([]BatchSummary, 0, m.count)
	for i := m.count; i >= 1; i-- {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		if !m.ring[idx].FinishedAt.Before(olderThan) {
			kept = append(kept, m.ring[idx])
		}
	}

	purged := int64(m.count - len(kept))
	m.ring = make([]BatchSummary, len(m.ring))
	copy(m.ring, kept)
	m.count = len(kept)
	m.next = len(kept) % len(m.ring)
	return purged, nil
}
