package audit

import "time"

// Event is an immutable, append-only audit log record of one committed queue
// transition.
//
// Invariants:
// - Events are never updated or deleted, even after the call row is reaped.
// - Recording is best-effort; the queue never blocks on audit failures.
type Event struct {
	ID     string    `json:"id" db:"id"`
	CallID string    `json:"callSid" db:"call_sid"`
	Type   EventType `json:"type" db:"type"`

	// Op is the state machine operation (enqueue, answer, provider_leave, ...).
	Op         string `json:"op" db:"op"`
	FromStatus string `json:"from,omitempty" db:"from_status"`
	ToStatus   string `json:"to" db:"to_status"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type EventType string

const (
	// EventTypeTransition is a status change driven by the provider or the agent.
	EventTypeTransition EventType = "transition"
)
