package realtime

import (
	"context"
	"fmt"
	"time"

	"softphone-queue/internal/calls"
)

// QueueLister reads the active queue for snapshots.
type QueueLister interface {
	List(ctx context.Context, activeOnly bool) ([]calls.CallEntry, error)
}

// Broadcaster implements calls.Announcer: it turns one committed mutation into the
// ordered events subscribers need and publishes them in a single call.
type Broadcaster struct {
	Queue     QueueLister
	Publisher Publisher
	Now       func() time.Time
}

func NewBroadcaster(queue QueueLister, pub Publisher) *Broadcaster {
	return &Broadcaster{Queue: queue, Publisher: pub, Now: time.Now}
}

func (b *Broadcaster) Announce(ctx context.Context, m calls.Mutation) error {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	// Stamp before reading so a slow read never outranks a fresher snapshot.
	takenAt := now().UTC()
	entries, err := b.Queue.List(ctx, true)
	if err != nil {
		return fmt.Errorf("realtime: snapshot queue: %w", err)
	}
	snap := calls.Snapshot{Entries: entries, TakenAt: takenAt}
	return b.Publisher.Publish(ctx, EventsFor(m, snap)...)
}

// EventsFor maps a mutation to its events. queue-updated always comes first.
func EventsFor(m calls.Mutation, snap calls.Snapshot) []Event {
	if snap.Entries == nil {
		snap.Entries = []calls.CallEntry{}
	}
	events := []Event{QueueUpdated{Snapshot: snap}}

	after := m.After
	switch {
	case m.Op == calls.OpEnqueue:
		events = append(events, IncomingCall{Caller: after})
	case after.Status == calls.CallStatusInProgress || after.Status == calls.CallStatusOnHold:
		events = append(events, CallUpdated{Call: &after})
	case after.Status.Terminal() && heldAgentSlot(m.Before):
		events = append(events, CallUpdated{Call: nil})
	}
	return events
}

func heldAgentSlot(before *calls.CallEntry) bool {
	if before == nil {
		return false
	}
	return before.Status == calls.CallStatusInProgress || before.Status == calls.CallStatusOnHold
}
