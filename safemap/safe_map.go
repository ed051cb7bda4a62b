// Package safemap provides a generic concurrent map built on sync.Map. The
// server keeps its live-session registry in one.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// Len, Values and DeleteFunc are O(n).
//
// SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns an empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for key k, replacing any existing value.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value for key k and whether it was present.
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// LoadAndDelete removes key k and returns its previous value, if any.
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	v, found := m.m.LoadAndDelete(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Delete removes key k. Deleting a missing key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted concurrently may or may not be visited.
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// DeleteFunc removes every entry for which del returns true and reports how
// many were removed.
func (m *SafeMap[K, V]) DeleteFunc(del func(k K, v V) bool) int {
	removed := 0
	m.Range(func(k K, v V) bool {
		if del(k, v) {
			if _, ok := m.m.LoadAndDelete(k); ok {
				removed++
			}
		}
		return true
	})

	return removed
}

// Values returns a snapshot of the stored values in no particular order.
func (m *SafeMap[K, V]) Values() []V {
	var out []V
	m.Range(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})

	return out
}

// Len returns the number of entries.
func (m *SafeMap[K, V]) Len() int {
	length := 0
	m.Range(func(K, V) bool {
		length++
		return true
	})

	return length
}
