package bus

import "time"

// Event is a canonical domain event produced from a raw client callback
// or an internal state change.
type Event struct {
	// Kind identifies the event, e.g. "qr", "message", "session.status_changed".
	Kind string
	// Account is the owning account id (phone number). Empty for
	// service-wide events, which only reach global subscribers.
	Account string
	// Payload is event-specific data.
	Payload any
	// Timestamp is when the event was produced.
	Timestamp time.Time
}
