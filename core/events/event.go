package events

import "sync"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the journal, HTTP
// streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// Buffer holds events until the surrounding operation commits. Events of a
// failed operation are dropped with it.
type Buffer struct {
	events []Event
}

// Emit queues the event.
func (b *Buffer) Emit(e Event) {
	if b == nil || e == nil {
		return
	}
	b.events = append(b.events, e)
}

// Events returns the queued events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Flush forwards every queued event to dst and empties the buffer.
func (b *Buffer) Flush(dst Emitter) {
	if b == nil {
		return
	}
	for _, e := range b.events {
		if dst != nil {
			dst.Emit(e)
		}
	}
	b.events = nil
}

// Fanout delivers each event to every registered emitter.
type Fanout struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// Add registers an emitter.
func (f *Fanout) Add(e Emitter) {
	if f == nil || e == nil {
		return
	}
	f.mu.Lock()
	f.emitters = append(f.emitters, e)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(e Event) {
	if f == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, emitter := range f.emitters {
		emitter.Emit(e)
	}
}
