package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// MemoryStore is an in-memory Store with per-key compute de-duplication and
// a tag index.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	tags    map[string]map[string]struct{}
	group   singleflight.Group
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	writtenAt time.Time
	expiresAt time.Time // zero: never
	tags      []string
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	o := newStoreOptions(opts)
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		tags:    make(map[string]map[string]struct{}),
		now:     o.now,
	}
}

// Get retrieves an unexpired value. Returns (nil, false) on miss or expiry.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	return s.lookup(key, Options{})
}

// lookup returns the value for key if it is unexpired and fresh for opts.
// Expired entries are removed; entries too old for opts are left for callers
// with a wider window.
func (s *MemoryStore) lookup(key string, opts Options) ([]byte, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	now := s.now()
	if entry.expired(now) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur == entry {
			s.removeLocked(key)
		}
		s.mu.Unlock()
		return nil, false
	}
	if !opts.fresh(entry.writtenAt, now) {
		return nil, false
	}

	return entry.value, true
}

// GetOrCompute returns the value for key that is fresh for opts, or computes
// it. Concurrent callers of one key share a single compute.
func (s *MemoryStore) GetOrCompute(ctx context.Context, key string, compute ComputeFunc, opts Options) ([]byte, error) {
	if compute == nil {
		return nil, ErrNilCompute
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	if v, ok := s.lookup(key, opts); ok {
		return v, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		// Filled by a compute that finished while we were not looking.
		if v, ok := s.lookup(key, opts); ok {
			return v, nil
		}
		v, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.set(key, v, opts)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) set(key string, value []byte, opts Options) {
	now := s.now()
	expiresAt, store := opts.expiry(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(key)
	if !store {
		return
	}
	s.entries[key] = &memoryEntry{
		value:     value,
		writtenAt: now,
		expiresAt: expiresAt,
		tags:      append([]string(nil), opts.Tags...),
	}
	for _, tag := range opts.Tags {
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// removeLocked drops key and its tag associations. s.mu must be held.
func (s *MemoryStore) removeLocked(key string) {
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	for _, tag := range entry.tags {
		keys := s.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.tags, tag)
		}
	}
}

// InvalidateTag drops every entry carrying tag.
func (s *MemoryStore) InvalidateTag(_ context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.tags[tag] {
		s.removeLocked(key)
	}
	return nil
}

// Delete removes a value. Idempotent - no error on miss.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	s.removeLocked(key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Purge removes every entry.
func (s *MemoryStore) Purge() {
	s.mu.Lock()
	s.entries = make(map[string]*memoryEntry)
	s.tags = make(map[string]map[string]struct{})
	s.mu.Unlock()
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
