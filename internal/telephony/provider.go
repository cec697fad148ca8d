package telephony

import (
	"errors"
	"strings"
)

// InboundEvent is a provider callback reduced to the fields the queue acts on.
// Adapters (Twilio forms today) build it; business logic never sees wire formats.
type InboundEvent struct {
	// DestinationAddress is the dialed number. Conference callbacks leave it empty.
	DestinationAddress string `json:"destination_address,omitempty"`

	CallID      string `json:"call_id"`
	FromAddress string `json:"from_address,omitempty"`
	CallerName  string `json:"caller_name,omitempty"`

	Kind EventKind `json:"kind"`

	// SubReason is the conference StatusCallbackEvent (participant-leave, ...).
	SubReason string `json:"sub_reason,omitempty"`
	// CallStatus is the provider's call status on plain call status callbacks.
	CallStatus string `json:"call_status,omitempty"`
}

type EventKind string

const (
	EventCallInitiated EventKind = "call-initiated"
	EventStatusChanged EventKind = "status-changed"
)

const SubReasonParticipantLeave = "participant-leave"

var (
	// ErrInvalidDestination rejects events addressed to a number this service does not own.
	ErrInvalidDestination = errors.New("telephony: invalid destination")
	// ErrInvalidEvent rejects actionable events missing the fields needed to act on them.
	ErrInvalidEvent = errors.New("telephony: invalid event")
	// ErrCallNotFound is returned by Hangup when the provider no longer knows the call.
	ErrCallNotFound = errors.New("telephony: call not found")
)

// terminalCallStatuses are provider call statuses after which the caller is gone.
var terminalCallStatuses = map[string]struct{}{
	"completed": {},
	"busy":      {},
	"failed":    {},
	"no-answer": {},
	"canceled":  {},
}

func isTerminalCallStatus(s string) bool {
	_, ok := terminalCallStatuses[strings.ToLower(strings.TrimSpace(s))]
	return ok
}
