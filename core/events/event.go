package events

// Event is the wire form of a state change emitted during an execution unit.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Payload is implemented by structured events that know how to render
// themselves.
type Payload interface {
	EventType() string
	Event() *Event
}

// Emitter collects events. The state manager buffers them per unit and only
// publishes them in the receipt of a committed unit.
type Emitter interface {
	Emit(Payload)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Payload) {}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return Event{Type: e.Type, Attributes: attrs}
}
