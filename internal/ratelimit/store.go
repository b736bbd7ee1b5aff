package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter is one bucketed window counter to admit against
type Counter struct {
	Key   string
	Limit int           // admitting fails when count+1 > Limit
	TTL   time.Duration // expiry applied on increment
}

// CounterStore is a key-value counter store with expiry.
//
// Admit must be atomic across all counters: either every counter is
// incremented, or none is and the index of the first counter that would
// exceed its limit is returned. It returns -1 when all were admitted.
type CounterStore interface {
	Admit(ctx context.Context, counters []Counter, now time.Time) (int, error)
	Counts(ctx context.Context, keys []string, now time.Time) ([]int, error)
	Close() error
}

type memoryEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryStore is an in-process CounterStore. A single mutex serializes
// admissions; expired entries are dropped lazily and by a periodic sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory store. sweepInterval <= 0 disables the
// background sweep (expired entries are still ignored on read).
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep removes entries expired at now and returns how many were removed
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) current(key string, now time.Time) int {
	e, ok := s.entries[key]
	if !ok {
		return 0
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return 0
	}
	return e.count
}

// Admit implements CounterStore
func (s *MemoryStore) Admit(ctx context.Context, counters []Counter, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range counters {
		if s.current(c.Key, now)+1 > c.Limit {
			return i, nil
		}
	}

	for _, c := range counters {
		s.entries[c.Key] = memoryEntry{
			count:     s.current(c.Key, now) + 1,
			expiresAt: now.Add(c.TTL),
		}
	}
	return -1, nil
}

// Counts implements CounterStore
func (s *MemoryStore) Counts(ctx context.Context, keys []string, now time.Time) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make([]int, len(keys))
	for i, k := range keys {
		counts[i] = s.current(k, now)
	}
	return counts, nil
}

// Len returns the number of stored entries, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweep
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
