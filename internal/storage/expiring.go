package storage

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// Expiring is implemented by every value kept in an ExpiringStore. The
// expiry lives on the entry itself so lazy reads and the sweeper agree.
type Expiring interface {
	Expiry() time.Time
}

// ExpiringStore is a keyed registry with per-entry TTL. Reads check expiry
// lazily; Sweep evicts in bulk. A zero expiry never expires.
type ExpiringStore[T Expiring] struct {
	kind     string
	mu       sync.RWMutex
	entries  map[string]T
	now      func() time.Time
	release  func(id string, v T) error
	onExpire []func(id string)
}

// NewExpiringStore creates an empty store; kind names entries in errors.
func NewExpiringStore[T Expiring](kind string) *ExpiringStore[T] {
	return &ExpiringStore[T]{
		kind:    kind,
		entries: make(map[string]T),
		now:     time.Now,
	}
}

// SetClock replaces time.Now, mainly for tests.
func (s *ExpiringStore[T]) SetClock(now func() time.Time) {
	s.now = now
}

// SetRelease registers the function that frees an entry's backing
// resource. It runs before the entry is dropped.
func (s *ExpiringStore[T]) SetRelease(fn func(id string, v T) error) {
	s.release = fn
}

// OnExpire registers a hook called once after an expired entry is evicted.
func (s *ExpiringStore[T]) OnExpire(fn func(id string)) {
	s.onExpire = append(s.onExpire, fn)
}

func (s *ExpiringStore[T]) expired(v T, now time.Time) bool {
	exp := v.Expiry()
	return !exp.IsZero() && !now.Before(exp)
}

func (s *ExpiringStore[T]) notFound(id string) error {
	return &types.NotFoundError{Kind: s.kind, ID: id}
}

// Put inserts or replaces an entry.
func (s *ExpiringStore[T]) Put(id string, v T) {
	s.mu.Lock()
	s.entries[id] = v
	s.mu.Unlock()
}

// Get returns a copy of the entry. Expired entries are evicted on the spot.
func (s *ExpiringStore[T]) Get(id string) (T, error) {
	s.mu.RLock()
	v, ok := s.entries[id]
	s.mu.RUnlock()

	var zero T
	if !ok {
		return zero, s.notFound(id)
	}
	if s.expired(v, s.now()) {
		s.evict(id)
		return zero, s.notFound(id)
	}
	return v, nil
}

// Update applies fn to a copy of the entry and stores the result, all
// under the write lock. If fn fails the stored entry is left untouched.
func (s *ExpiringStore[T]) Update(id string, fn func(*T) error) (T, error) {
	s.mu.Lock()
	v, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		var zero T
		return zero, s.notFound(id)
	}
	if s.expired(v, s.now()) {
		s.mu.Unlock()
		s.evict(id)
		var zero T
		return zero, s.notFound(id)
	}

	next := v
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return v, err
	}
	s.entries[id] = next
	s.mu.Unlock()
	return next, nil
}

// Remove deletes an entry regardless of its expiry and releases it.
func (s *ExpiringStore[T]) Remove(id string) bool {
	s.mu.Lock()
	v, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if ok {
		s.releaseEntry(id, v)
	}
	return ok
}

// Sweep evicts every expired entry and returns how many were removed.
func (s *ExpiringStore[T]) Sweep() int {
	now := s.now()

	s.mu.RLock()
	var due []string
	for id, v := range s.entries {
		if s.expired(v, now) {
			due = append(due, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range due {
		if s.evict(id) {
			removed++
		}
	}
	return removed
}

// Range calls fn for a snapshot of the live entries.
func (s *ExpiringStore[T]) Range(fn func(id string, v T) bool) {
	now := s.now()

	s.mu.RLock()
	snapshot := make(map[string]T, len(s.entries))
	for id, v := range s.entries {
		if !s.expired(v, now) {
			snapshot[id] = v
		}
	}
	s.mu.RUnlock()

	for id, v := range snapshot {
		if !fn(id, v) {
			return
		}
	}
}

// Len counts entries including ones not yet swept.
func (s *ExpiringStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evict drops the entry if the current value under id is still expired and
// releases that value's backing resource before the entry disappears. A
// fresh value put under the same id in the meantime is left alone. Release
// failures are logged, never fatal.
func (s *ExpiringStore[T]) evict(id string) bool {
	s.mu.Lock()
	cur, ok := s.entries[id]
	deleted := ok && s.expired(cur, s.now())
	if deleted {
		s.releaseEntry(id, cur)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if deleted {
		for _, fn := range s.onExpire {
			fn(id)
		}
	}
	return deleted
}

func (s *ExpiringStore[T]) releaseEntry(id string, v T) {
	if s.release == nil {
		return
	}
	if err := s.release(id, v); err != nil {
		logrus.WithFields(logrus.Fields{"kind": s.kind, "id": id}).
			Warnf("Failed to release backing resource: %v", err)
	}
}
