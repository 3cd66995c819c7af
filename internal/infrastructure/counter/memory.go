package counter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type numEntry struct {
	value     int64
	expiresAt time.Time // zero = no expiry
}

type strEntry struct {
	value     string
	expiresAt time.Time
}

type marker struct {
	member string
	at     time.Time
}

type windowEntry struct {
	markers   []marker
	expiresAt time.Time
}

// MemoryStore implements Store with mutex-guarded maps. Atomicity per key
// is trivially satisfied by the lock, so it honors the same contract as
// the Redis store. Suitable for single-instance deployments and as the
// engine's test double.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]numEntry
	values   map[string]strEntry
	windows  map[string]*windowEntry

	// now is replaceable in tests to drive window expiry deterministically.
	now func() time.Time

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryStore creates an in-memory counter store and starts a
// background sweep of expired entries.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		counters: make(map[string]numEntry),
		values:   make(map[string]strEntry),
		windows:  make(map[string]*windowEntry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return s
}

// SetClock replaces the store's time source. Test hook; not safe to call
// concurrently with store operations.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.liveCounter(key)
	e.value += amount
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.counters[key] = e
	return e.value, nil
}

// IncrementIfBelow implements Store.
func (s *MemoryStore) IncrementIfBelow(ctx context.Context, key string, amount, limit int64, ttl time.Duration) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.liveCounter(key)
	if e.value+amount > limit {
		return false, e.value, nil
	}
	e.value += amount
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.counters[key] = e
	return true, e.value, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.liveCounter(key).value, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, key)
	delete(s.values, key)
	delete(s.windows, key)
	return nil
}

// SetIfAbsent implements Store. Expired entries count as absent and a
// losing call leaves the winner's TTL untouched.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.values[key]; ok && s.now().Before(e.expiresAt) {
		return false, nil
	}
	s.values[key] = strEntry{value: value, expiresAt: s.now().Add(ttl)}
	return true, nil
}

// Expire implements Store.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.now().Add(ttl)
	if e, ok := s.counters[key]; ok {
		e.expiresAt = deadline
		s.counters[key] = e
	}
	if e, ok := s.values[key]; ok {
		e.expiresAt = deadline
		s.values[key] = e
	}
	if w, ok := s.windows[key]; ok {
		w.expiresAt = deadline
	}
	return nil
}

// WindowAdmit implements Store. The whole trim/count/insert runs under the
// store lock, matching the atomicity of the Redis script.
func (s *MemoryStore) WindowAdmit(ctx context.Context, key string, maxCalls int64, window, ttl time.Duration) (WindowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || (!w.expiresAt.IsZero() && !now.Before(w.expiresAt)) {
		w = &windowEntry{}
		s.windows[key] = w
	}

	// Purge markers that fell out of the trailing window.
	cutoff := now.Add(-window)
	kept := w.markers[:0]
	for _, m := range w.markers {
		if !m.at.Before(cutoff) {
			kept = append(kept, m)
		}
	}
	w.markers = kept

	if int64(len(w.markers)) >= maxCalls {
		return WindowResult{Allowed: false, Count: int64(len(w.markers))}, nil
	}

	member := uuid.NewString()
	w.markers = append(w.markers, marker{member: member, at: now})
	w.expiresAt = now.Add(ttl)

	return WindowResult{Allowed: true, Count: int64(len(w.markers)), Member: member}, nil
}

// WindowRevoke implements Store.
func (s *MemoryStore) WindowRevoke(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return nil
	}
	for i, m := range w.markers {
		if m.member == member {
			w.markers = append(w.markers[:i], w.markers[i+1:]...)
			break
		}
	}
	return nil
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// liveCounter returns the counter entry at key, resetting it when expired.
// Caller must hold the lock.
func (s *MemoryStore) liveCounter(key string) numEntry {
	e, ok := s.counters[key]
	if !ok {
		return numEntry{}
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.counters, key)
		return numEntry{}
	}
	return e
}

// sweepLoop periodically removes expired entries.
func (s *MemoryStore) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.counters {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.counters, key)
		}
	}
	for key, e := range s.values {
		if !now.Before(e.expiresAt) {
			delete(s.values, key)
		}
	}
	for key, w := range s.windows {
		if !w.expiresAt.IsZero() && !now.Before(w.expiresAt) {
			delete(s.windows, key)
		}
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
