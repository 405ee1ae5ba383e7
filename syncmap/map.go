// Copyright (c) 2023 BVK Chaitanya

// Package syncmap is a typed wrapper over sync.Map.
package syncmap

import (
	"cmp"
	"slices"
	"sync"
)

type Map[K comparable, V any] struct {
	v sync.Map
}

func (m *Map[K, V]) Delete(key K) {
	m.v.Delete(key)
}

func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.v.Load(key)
	if !ok {
		return value, ok
	}
	return v.(V), ok
}

func (m *Map[K, V]) Store(key K, value V) {
	m.v.Store(key, value)
}

func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	a, loaded := m.v.LoadOrStore(key, value)
	return a.(V), loaded
}

// Range can be used as a range-over-func iterator.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.v.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// SortedKeys returns the keys of the map in ascending order.
func SortedKeys[K cmp.Ordered, V any](m *Map[K, V]) []K {
	var keys []K
	for k := range m.Range {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
