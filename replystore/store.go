// Package replystore holds the registry of outstanding RPC calls the
// transport core is waiting on a reply for, keyed by correlation id.
package replystore

import (
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Pending is one outstanding RPC call. Resolve is invoked exactly once,
// either by the router on a matching reply or by the timer on
// expiration; Timer is armed the moment the Pending is pushed and must
// be stopped by whichever side fires first. headers carries whatever
// AMQP headers the resolving delivery had, nil when there was none
// (timeout, context cancellation, transport close).
type Pending struct {
	CorrelationID string
	RoutingKey    string
	Resolve       func(body []byte, headers amqp.Table, err error)
	Timer         *time.Timer
}

// Store is the mutex-guarded map of correlation id to Pending entry.
// All three operations are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Pending
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*Pending)}
}

// Push registers p under p.CorrelationID. Push panics if p.Timer is nil
// or p.CorrelationID already has a pending entry — both indicate a
// caller bug, never a runtime condition.
func (s *Store) Push(p *Pending) {
	if p.Timer == nil {
		panic("replystore: Push requires an armed timer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[p.CorrelationID]; exists {
		panic("replystore: duplicate correlation id " + p.CorrelationID)
	}
	s.entries[p.CorrelationID] = p
}

// Pop removes and returns the entry for correlationID, stopping its
// timer. The second return value is false if no such entry exists
// (already resolved, expired, or never registered).
func (s *Store) Pop(correlationID string) (*Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[correlationID]
	if !ok {
		return nil, false
	}
	delete(s.entries, correlationID)
	p.Timer.Stop()
	return p, true
}

// Reject pops correlationID, if present, and resolves it with err.
// Reject is a no-op if the entry was already popped by the time it
// runs — the usual race between a late reply and a firing timer.
func (s *Store) Reject(correlationID string, err error) {
	p, ok := s.Pop(correlationID)
	if !ok {
		return
	}
	p.Resolve(nil, nil, err)
}

// Len reports the number of pending entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RejectAll pops and resolves every pending entry with err. Used by
// Transport.Close so no caller is left waiting on a reply that will
// never arrive.
func (s *Store) RejectAll(err error) {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*Pending)
	s.mu.Unlock()

	for _, p := range entries {
		p.Timer.Stop()
		p.Resolve(nil, nil, err)
	}
}
