/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package keyzone provides an LRU-bounded set of per-key limiter states.
// When the number of tracked keys exceeds the configured maximum,
// the least recently used key is evicted together with its state.
package keyzone

import (
	"container/list"
	"fmt"
	"sync"
)

type zoneEntry[V any] struct {
	key   string
	value V
}

// Zone holds per-key values with LRU eviction.
// The zero number of tracked keys is not allowed, use a plain value instead.
type Zone[V any] struct {
	maxKeys int

	mu      sync.Mutex
	lruList *list.List
	entries map[string]*list.Element
}

// New creates a new Zone limited to maxKeys tracked keys.
func New[V any](maxKeys int) (*Zone[V], error) {
	if maxKeys <= 0 {
		return nil, fmt.Errorf("max keys should be positive, got %d", maxKeys)
	}
	return &Zone[V]{
		maxKeys: maxKeys,
		lruList: list.New(),
		entries: make(map[string]*list.Element),
	}, nil
}

// GetOrAdd returns the value stored for the key, creating it with
// valueProvider when the key is not tracked yet. The key is marked
// as recently used in both cases.
func (z *Zone[V]) GetOrAdd(key string, valueProvider func() V) (value V, exists bool) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if elem, ok := z.entries[key]; ok {
		z.lruList.MoveToFront(elem)
		return elem.Value.(*zoneEntry[V]).value, true
	}

	value = valueProvider()
	z.entries[key] = z.lruList.PushFront(&zoneEntry[V]{key: key, value: value})
	if len(z.entries) > z.maxKeys {
		z.evictOldest()
	}
	return value, false
}

// Get returns the value stored for the key.
func (z *Zone[V]) Get(key string) (value V, ok bool) {
	z.mu.Lock()
	defer z.mu.Unlock()

	elem, ok := z.entries[key]
	if !ok {
		return value, false
	}
	z.lruList.MoveToFront(elem)
	return elem.Value.(*zoneEntry[V]).value, true
}

// Remove removes the key and its value from the zone.
func (z *Zone[V]) Remove(key string) bool {
	z.mu.Lock()
	defer z.mu.Unlock()

	elem, ok := z.entries[key]
	if !ok {
		return false
	}
	z.lruList.Remove(elem)
	delete(z.entries, key)
	return true
}

// Len returns the number of tracked keys.
func (z *Zone[V]) Len() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return len(z.entries)
}

func (z *Zone[V]) evictOldest() {
	elem := z.lruList.Back()
	if elem == nil {
		return
	}
	z.lruList.Remove(elem)
	delete(z.entries, elem.Value.(*zoneEntry[V]).key)
}
