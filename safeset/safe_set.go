// Package safeset provides a set that is safe for concurrent use.
package safeset

import "sync"

// SafeSet is a thread-safe set of comparable elements. The zero value is an
// empty set ready to use.
type SafeSet[T comparable] struct {
	m map[T]struct{}
	sync.RWMutex
}

// NewSafeSet creates and returns a new empty SafeSet.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add adds value and reports whether it was not already present.
//
// Parameters:
//   - value: The element to add
//
// Returns:
//   - true if value was added, false if the set already held it
func (s *SafeSet[T]) Add(value T) bool {
	s.Lock()
	defer s.Unlock()

	if s.m == nil {
		s.m = make(map[T]struct{})
	}

	if _, ok := s.m[value]; ok {
		return false
	}

	s.m[value] = struct{}{}
	return true
}

// Remove removes value and reports whether it was present.
func (s *SafeSet[T]) Remove(value T) bool {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.m[value]; !ok {
		return false
	}

	delete(s.m, value)
	return true
}

// Contains reports whether the set contains value.
func (s *SafeSet[T]) Contains(value T) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.m[value]
	return ok
}

// Size returns the number of elements in the set.
func (s *SafeSet[T]) Size() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.m)
}

// Values returns a snapshot of the elements in no particular order.
func (s *SafeSet[T]) Values() []T {
	s.RLock()
	defer s.RUnlock()

	values := make([]T, 0, len(s.m))
	for k := range s.m {
		values = append(values, k)
	}
	return values
}

// Range calls f for each element. Iteration stops if f returns false. f must
// not modify the set.
func (s *SafeSet[T]) Range(f func(value T) bool) {
	s.RLock()
	defer s.RUnlock()
	for k := range s.m {
		if !f(k) {
			break
		}
	}
}
