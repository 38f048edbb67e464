/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package audit provides an in-memory, append-only trail of rate limiting
// decisions. The trail is intended for external inspection: it keeps immutable
// records for the lifetime of the process and is never consulted by limiters
// themselves. Like the whitelist registry, a Trail is an explicitly
// constructed object passed to the code doing the limiting.
package audit

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-ratelimit/clock"
	"github.com/acronis/go-ratelimit/log"
)

// Decision is the recorded verdict of a single limiting check.
type Decision string

// Decision values.
const (
	DecisionAllowed  Decision = "allowed"
	DecisionRejected Decision = "rejected"
	DecisionBypassed Decision = "bypassed"
)

// Event is a single immutable record in the Trail.
type Event struct {
	ID       string
	Action   string
	Decision Decision
	Metadata map[string]string
	Time     time.Time
}

// Trail is an in-memory, append-only record of rate limiting decisions.
// All methods are safe for concurrent use.
type Trail struct {
	mu     sync.RWMutex
	events []Event

	clock      clock.Clock
	logger     log.FieldLogger
	maxEntries int
	newID      func() string
}

// TrailOption is a function type for configuring a Trail.
type TrailOption func(*Trail)

// WithClock sets the time source used to timestamp events.
func WithClock(c clock.Clock) TrailOption {
	return func(t *Trail) {
		t.clock = c
	}
}

// WithLogger makes the Trail mirror every appended event to the passed logger.
func WithLogger(logger log.FieldLogger) TrailOption {
	return func(t *Trail) {
		t.logger = logger
	}
}

// WithMaxEntries bounds the Trail to the n most recent events,
// the oldest ones are dropped on overflow. Zero means unbounded.
func WithMaxEntries(n int) TrailOption {
	return func(t *Trail) {
		t.maxEntries = n
	}
}

// WithIDGenerator sets the function for generating event IDs.
func WithIDGenerator(generator func() string) TrailOption {
	return func(t *Trail) {
		t.newID = generator
	}
}

// NewTrail creates a new Trail. Unless options say otherwise, events are
// timestamped with the system clock, IDs are generated with xid,
// the trail is unbounded, and nothing is mirrored to a logger.
func NewTrail(options ...TrailOption) *Trail {
	t := &Trail{
		clock: clock.System(),
		newID: func() string { return xid.New().String() },
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Append records a decision and returns the stored event.
// The passed metadata map is copied, the caller may reuse it.
func (t *Trail) Append(action string, decision Decision, metadata map[string]string) Event {
	event := Event{
		ID:       t.newID(),
		Action:   action,
		Decision: decision,
		Time:     t.clock.Now(),
	}
	if len(metadata) != 0 {
		event.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			event.Metadata[k] = v
		}
	}

	t.mu.Lock()
	t.events = append(t.events, event)
	if t.maxEntries > 0 && len(t.events) > t.maxEntries {
		n := copy(t.events, t.events[len(t.events)-t.maxEntries:])
		t.events = t.events[:n]
	}
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Info("audit event",
			log.String("id", event.ID),
			log.String("action", event.Action),
			log.String("decision", string(event.Decision)),
			log.Any("metadata", event.Metadata),
		)
	}
	return event
}

// Events returns a copy of all recorded events in append order.
func (t *Trail) Events() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := make([]Event, len(t.events))
	copy(events, t.events)
	return events
}

// Len returns the number of recorded events.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Find returns the first event matched by the passed filter.
func (t *Trail) Find(filter func(Event) bool) (Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.events {
		if filter(t.events[i]) {
			return t.events[i], true
		}
	}
	return Event{}, false
}

// FindAll returns all events matched by the passed filter in append order.
func (t *Trail) FindAll(filter func(Event) bool) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var events []Event
	for i := range t.events {
		if filter(t.events[i]) {
			events = append(events, t.events[i])
		}
	}
	return events
}

// Reset removes all recorded events.
func (t *Trail) Reset() {
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()
}
