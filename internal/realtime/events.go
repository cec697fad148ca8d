package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"softphone-queue/internal/calls"

	"github.com/google/uuid"
)

type Kind string

const (
	KindQueueUpdated Kind = "queue-updated"
	KindIncomingCall Kind = "incoming-call"
	KindCallUpdated  Kind = "call-updated"
)

var ErrUnknownKind = errors.New("realtime: unknown event kind")

// Event is the closed set of payloads that cross the broadcast channel.
// Only the three types below implement it.
type Event interface {
	Kind() Kind
	sealed()
}

// QueueUpdated carries the full active queue. Subscribers replace their view with it.
type QueueUpdated struct {
	calls.Snapshot
}

// IncomingCall announces a newly queued caller for alerting.
type IncomingCall struct {
	Caller calls.CallEntry `json:"caller"`
}

// CallUpdated carries the call in the agent slot. Call is nil when the slot is empty.
type CallUpdated struct {
	Call *calls.CallEntry `json:"call"`
}

func (QueueUpdated) Kind() Kind { return KindQueueUpdated }
func (IncomingCall) Kind() Kind { return KindIncomingCall }
func (CallUpdated) Kind() Kind  { return KindCallUpdated }

func (QueueUpdated) sealed() {}
func (IncomingCall) sealed() {}
func (CallUpdated) sealed()  {}

// Envelope is the wire frame. ID lets subscribers drop redelivered copies.
type Envelope struct {
	ID   string          `json:"id"`
	Kind Kind            `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

func NewEnvelope(ev Event, at time.Time) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("realtime: encode %s: %w", ev.Kind(), err)
	}
	return Envelope{ID: uuid.NewString(), Kind: ev.Kind(), At: at.UTC(), Data: data}, nil
}

// Decode returns the typed payload. Unknown kinds fail with ErrUnknownKind.
func (e Envelope) Decode() (Event, error) {
	switch e.Kind {
	case KindQueueUpdated:
		var ev QueueUpdated
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", e.Kind, err)
		}
		if ev.Entries == nil {
			ev.Entries = []calls.CallEntry{}
		}
		return ev, nil
	case KindIncomingCall:
		var ev IncomingCall
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", e.Kind, err)
		}
		return ev, nil
	case KindCallUpdated:
		var ev CallUpdated
		if len(e.Data) == 0 {
			return ev, nil
		}
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", e.Kind, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}
