package events

import (
	"sync"

	"p2pescrow/core/types"
)

// Event represents a structured state change emitted by the escrow.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render their canonical attribute
// map.
type Payload interface {
	Event
	Event() *types.Event
}

// OrderEvent is implemented by events scoped to a single order.
type OrderEvent interface {
	Payload
	OrderRef() uint64
}

// Emitter broadcasts events to downstream subscribers (e.g. journal, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout forwards every event to each registered emitter in registration
// order.
type Fanout struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewFanout returns a fanout over the supplied emitters, skipping nils.
func NewFanout(emitters ...Emitter) *Fanout {
	f := &Fanout{}
	for _, em := range emitters {
		f.Add(em)
	}
	return f
}

// Add registers another downstream emitter.
func (f *Fanout) Add(em Emitter) {
	if f == nil || em == nil {
		return
	}
	f.mu.Lock()
	f.emitters = append(f.emitters, em)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt Event) {
	if f == nil || evt == nil {
		return
	}
	f.mu.RLock()
	targets := append([]Emitter(nil), f.emitters...)
	f.mu.RUnlock()
	for _, em := range targets {
		em.Emit(evt)
	}
}

// Recorder keeps every emitted event in memory. Tests use it to assert on
// emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}
