package lx

import (
	"maps"
	"slices"
)

// Readable is any node whose value can be read with tracking.
type Readable[T any] interface {
	Get() T
}

// Select derives a projection of src. Listeners of the result are only
// notified when the projected value changes.
func Select[C, P any](src Readable[C], projector func(C) P, opts ...Option) *Computed[P] {
	return NewComputed(func() P { return projector(src.Get()) }, opts...)
}

// =============================================================================
// List
// =============================================================================

// List is a cell over a slice with copy-on-write mutations. Each mutation
// produces a new slice and one notification.
type List[T any] struct {
	*Cell[[]T]
}

// NewList creates a list holding a copy of initial.
func NewList[T any](initial []T, opts ...Option) *List[T] {
	items := slices.Clone(initial)
	if items == nil {
		items = []T{}
	}
	return &List[T]{newCell(KindList, items, opts)}
}

// Append adds items to the end.
func (l *List[T]) Append(items ...T) error {
	if len(items) == 0 {
		return nil
	}
	return l.Update(func(cur []T) []T {
		next := make([]T, 0, len(cur)+len(items))
		next = append(next, cur...)
		return append(next, items...)
	})
}

// Insert inserts item at index. Out-of-range indexes are ignored.
func (l *List[T]) Insert(index int, item T) error {
	return l.Update(func(cur []T) []T {
		if index < 0 || index > len(cur) {
			return cur
		}
		return slices.Insert(slices.Clone(cur), index, item)
	})
}

// RemoveAt removes the item at index. Out-of-range indexes are ignored.
func (l *List[T]) RemoveAt(index int) error {
	return l.Update(func(cur []T) []T {
		if index < 0 || index >= len(cur) {
			return cur
		}
		return slices.Delete(slices.Clone(cur), index, index+1)
	})
}

// SetAt replaces the item at index. Out-of-range indexes are ignored.
func (l *List[T]) SetAt(index int, item T) error {
	return l.Update(func(cur []T) []T {
		if index < 0 || index >= len(cur) {
			return cur
		}
		next := slices.Clone(cur)
		next[index] = item
		return next
	})
}

// RemoveWhere removes every item for which pred returns true.
func (l *List[T]) RemoveWhere(pred func(T) bool) error {
	return l.Update(func(cur []T) []T {
		if !slices.ContainsFunc(cur, pred) {
			return cur
		}
		return slices.DeleteFunc(slices.Clone(cur), pred)
	})
}

// Clear removes all items.
func (l *List[T]) Clear() error {
	return l.Set([]T{})
}

// Len returns the number of items. Tracked.
func (l *List[T]) Len() int {
	return len(l.Get())
}

// At returns the item at index. Tracked.
func (l *List[T]) At(index int) (T, bool) {
	items := l.Get()
	if index < 0 || index >= len(items) {
		var zero T
		return zero, false
	}
	return items[index], true
}

// Items returns a copy of the items. Tracked.
func (l *List[T]) Items() []T {
	return slices.Clone(l.Get())
}

// =============================================================================
// Map
// =============================================================================

// Map is a cell over a map with copy-on-write mutations.
type Map[K comparable, V any] struct {
	*Cell[map[K]V]
}

// NewMap creates a map holding a copy of initial.
func NewMap[K comparable, V any](initial map[K]V, opts ...Option) *Map[K, V] {
	m := maps.Clone(initial)
	if m == nil {
		m = make(map[K]V)
	}
	return &Map[K, V]{newCell(KindMap, m, opts)}
}

// Put sets key to value.
func (m *Map[K, V]) Put(key K, value V) error {
	return m.Update(func(cur map[K]V) map[K]V {
		next := make(map[K]V, len(cur)+1)
		maps.Copy(next, cur)
		next[key] = value
		return next
	})
}

// Delete removes key. Missing keys are ignored.
func (m *Map[K, V]) Delete(key K) error {
	return m.Update(func(cur map[K]V) map[K]V {
		if _, ok := cur[key]; !ok {
			return cur
		}
		next := maps.Clone(cur)
		delete(next, key)
		return next
	})
}

// Clear removes every key.
func (m *Map[K, V]) Clear() error {
	return m.Set(make(map[K]V))
}

// Lookup returns the value for key. Tracked.
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	v, ok := m.Get()[key]
	return v, ok
}

// Has reports whether key is present. Tracked.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get()[key]
	return ok
}

// Len returns the number of keys. Tracked.
func (m *Map[K, V]) Len() int {
	return len(m.Get())
}

// Keys returns the keys in unspecified order. Tracked.
func (m *Map[K, V]) Keys() []K {
	return slices.Collect(maps.Keys(m.Get()))
}

// SelectKey derives the value stored under key; the zero V while absent.
// Its listeners only fire when that entry changes.
func (m *Map[K, V]) SelectKey(key K, opts ...Option) *Computed[V] {
	return Select[map[K]V](m, func(cur map[K]V) V { return cur[key] }, opts...)
}

// =============================================================================
// Set
// =============================================================================

// Set is a cell over a set of keys with copy-on-write mutations.
type Set[K comparable] struct {
	*Cell[map[K]struct{}]
}

// NewSet creates a set holding items.
func NewSet[K comparable](items []K, opts ...Option) *Set[K] {
	m := make(map[K]struct{}, len(items))
	for _, k := range items {
		m[k] = struct{}{}
	}
	return &Set[K]{newCell(KindSet, m, opts)}
}

// Add inserts keys. Present keys are ignored.
func (s *Set[K]) Add(keys ...K) error {
	return s.Update(func(cur map[K]struct{}) map[K]struct{} {
		var next map[K]struct{}
		for _, k := range keys {
			if _, ok := cur[k]; ok {
				continue
			}
			if next == nil {
				next = maps.Clone(cur)
			}
			next[k] = struct{}{}
		}
		if next == nil {
			return cur
		}
		return next
	})
}

// Remove deletes keys. Missing keys are ignored.
func (s *Set[K]) Remove(keys ...K) error {
	return s.Update(func(cur map[K]struct{}) map[K]struct{} {
		var next map[K]struct{}
		for _, k := range keys {
			if _, ok := cur[k]; !ok {
				continue
			}
			if next == nil {
				next = maps.Clone(cur)
			}
			delete(next, k)
		}
		if next == nil {
			return cur
		}
		return next
	})
}

// Has reports whether key is present. Tracked.
func (s *Set[K]) Has(key K) bool {
	_, ok := s.Get()[key]
	return ok
}

// Len returns the number of keys. Tracked.
func (s *Set[K]) Len() int {
	return len(s.Get())
}

// Items returns the keys in unspecified order. Tracked.
func (s *Set[K]) Items() []K {
	return slices.Collect(maps.Keys(s.Get()))
}

// Clear removes every key.
func (s *Set[K]) Clear() error {
	return s.Set(make(map[K]struct{}))
}
