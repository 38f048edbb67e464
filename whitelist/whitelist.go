/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package whitelist provides a registry of client identifiers that are exempted
// from rate limiting. The registry is an explicitly constructed object that is
// passed to the code doing the limiting. Checking the registry and bypassing
// the limiter is always the caller's duty, limiters never consult it themselves.
package whitelist

import (
	"sync"

	"github.com/vasayxtx/go-glob"
)

// Registry holds exact client identifiers and glob patterns exempted from rate
// limiting. All methods are safe for concurrent use. Registrations are kept for
// the lifetime of the Registry, there is no eviction.
type Registry struct {
	mu       sync.RWMutex
	ids      map[string]struct{}
	patterns map[string]func(s string) bool
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ids:      make(map[string]struct{}),
		patterns: make(map[string]func(s string) bool),
	}
}

// Add registers exact client identifiers.
// Adding an identifier that is already registered has no additional effect.
func (r *Registry) Add(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
}

// AddPattern registers glob patterns (e.g. "internal-*") that Contains matches
// after the exact lookup. Registering a pattern twice has no additional effect.
func (r *Registry) AddPattern(patterns ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pattern := range patterns {
		if _, ok := r.patterns[pattern]; ok {
			continue
		}
		r.patterns[pattern] = glob.Compile(pattern)
	}
}

// Contains reports whether the passed identifier is whitelisted, that is
// registered exactly or matched by one of the registered patterns.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ids[id]; ok {
		return true
	}
	for _, match := range r.patterns {
		if match(id) {
			return true
		}
	}
	return false
}

// Len returns the total number of registered identifiers and patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids) + len(r.patterns)
}
