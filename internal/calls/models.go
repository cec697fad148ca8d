package calls

import (
	"sort"
	"time"
)

// DefaultCallerName is stored when the provider does not supply caller ID name.
const DefaultCallerName = "Unknown Name"

// CallEntry is one caller's queue record.
//
// Invariants:
// - CallID is the provider call identifier (Twilio CallSid) and never changes.
// - CallerNumber, CallerName and CreatedAt are fixed at creation.
// - Status only moves along the edges in transitions.go.
type CallEntry struct {
	CallID       string     `json:"callSid" db:"call_sid"`
	CallerNumber string     `json:"callerNumber" db:"caller_number"`
	CallerName   string     `json:"callerName" db:"caller_name"`
	Status       CallStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusOnHold     CallStatus = "on_hold"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusQueued, CallStatusOnHold, CallStatusInProgress, CallStatusCompleted, CallStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are permitted.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// Waiting reports whether the entry belongs in the queue listing shown to agents.
// in_progress calls occupy the agent slot instead.
func (s CallStatus) Waiting() bool {
	return s == CallStatusQueued || s == CallStatusOnHold
}

// Snapshot is the ordered listing of waiting entries at a point in time.
// It is always derived from the store and never persisted on its own.
type Snapshot struct {
	Entries []CallEntry `json:"queue"`
	TakenAt time.Time   `json:"takenAt"`
}

func (s Snapshot) Len() int { return len(s.Entries) }

// Contains reports whether callID is present in the snapshot.
func (s Snapshot) Contains(callID string) bool {
	for _, e := range s.Entries {
		if e.CallID == callID {
			return true
		}
	}
	return false
}

// SortFIFO orders entries oldest caller first, ties broken by CallID.
func SortFIFO(entries []CallEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CallID < entries[j].CallID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
