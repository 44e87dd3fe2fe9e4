// Package memory contains an in-memory pass-event publisher for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/oeistools/oeissync/internal/oeis"
)

// Publisher records published pass events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []PublishedEvent
}

// PublishedEvent captures one publish call.
type PublishedEvent struct {
	Topic string
	Event oeis.PassEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, event oeis.PassEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{Topic: topic, Event: event})
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns the recorded publishes.
func (p *Publisher) Events() []PublishedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}
