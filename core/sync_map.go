package core

import "sync"

// SyncMap is a map that is safe for concurrent usage.
type SyncMap[K comparable, V any] struct {
	m  map[K]V
	mu sync.RWMutex
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: make(map[K]V),
	}
}

func (s *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok = s.m[key]
	return
}

// LoadAndStore retrieves the value for a key, applies f to it and stores the result.
// The whole operation is atomic. It returns the stored value.
func (s *SyncMap[K, V]) LoadAndStore(key K, f func(value V, ok bool) V) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.m[key]
	value = f(value, ok)
	s.m[key] = value
	return value
}

// Update is like LoadAndStore but f can decline the write by returning false.
// It reports whether the value was stored.
func (s *SyncMap[K, V]) Update(key K, f func(value V, ok bool) (V, bool)) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.m[key]
	value, store := f(old, ok)
	if !store {
		return old, false
	}
	s.m[key] = value
	return value, true
}

func (s *SyncMap[K, V]) Store(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *SyncMap[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

func (s *SyncMap[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// RRange calls f for each entry under the read lock until f returns false.
func (s *SyncMap[K, V]) RRange(f func(key K, value V) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.m {
		if !f(k, v) {
			break
		}
	}
}
