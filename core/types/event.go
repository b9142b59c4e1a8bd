package types

import "time"

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Receipt describes one committed ledger operation and the events it
// produced, in emission order.
type Receipt struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Committed time.Time `json:"committed"`
	Events    []Event   `json:"events"`
}

// EventsOfType filters the receipt's events.
func (r Receipt) EventsOfType(eventType string) []Event {
	out := make([]Event, 0)
	for _, ev := range r.Events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
