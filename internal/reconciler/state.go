package reconciler

import (
	"sync"
	"time"

	"softphone-queue/internal/calls"
	"softphone-queue/internal/realtime"
)

const defaultSeenCapacity = 256

// View is a copy of the mirror at one instant.
type View struct {
	Queue   []calls.CallEntry
	Current *calls.CallEntry
	// TakenAt is the server time of the snapshot Queue came from.
	TakenAt time.Time
}

// Mirror is the client's local copy of the active queue and the agent's current
// call. Queue snapshots replace the local queue outright; older snapshots are dropped.
type Mirror struct {
	mu      sync.Mutex
	queue   []calls.CallEntry
	current *calls.CallEntry
	takenAt time.Time

	seen     map[string]struct{}
	seenRing []string
	seenNext int

	// OnAlert is called for every new incoming-call event.
	OnAlert func(caller calls.CallEntry)
	// OnChange is called after any applied change with the new view.
	OnChange func(View)
}

func NewMirror() *Mirror {
	return &Mirror{
		queue:    []calls.CallEntry{},
		seen:     make(map[string]struct{}, defaultSeenCapacity),
		seenRing: make([]string, defaultSeenCapacity),
	}
}

// Apply folds one broadcast envelope into the mirror. It reports whether the
// envelope changed anything. Redelivered envelopes are ignored.
func (m *Mirror) Apply(env realtime.Envelope) (bool, error) {
	ev, err := env.Decode()
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if env.ID != "" && m.markSeen(env.ID) {
		m.mu.Unlock()
		return false, nil
	}

	var (
		changed bool
		alert   *calls.CallEntry
	)
	switch e := ev.(type) {
	case realtime.QueueUpdated:
		changed = m.replaceQueueLocked(e.Snapshot)
	case realtime.IncomingCall:
		c := e.Caller
		alert = &c
	case realtime.CallUpdated:
		m.current = cloneEntry(e.Call)
		changed = true
	}
	view := m.viewLocked()
	onAlert, onChange := m.OnAlert, m.OnChange
	m.mu.Unlock()

	if alert != nil && onAlert != nil {
		onAlert(*alert)
	}
	if changed && onChange != nil {
		onChange(view)
	}
	return changed, nil
}

// ApplySnapshot replaces the queue with a polled snapshot unless a newer one is
// already applied.
func (m *Mirror) ApplySnapshot(s calls.Snapshot) bool {
	m.mu.Lock()
	changed := m.replaceQueueLocked(s)
	view := m.viewLocked()
	onChange := m.OnChange
	m.mu.Unlock()

	if changed && onChange != nil {
		onChange(view)
	}
	return changed
}

func (m *Mirror) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Mirror) replaceQueueLocked(s calls.Snapshot) bool {
	if !s.TakenAt.IsZero() && s.TakenAt.Before(m.takenAt) {
		return false
	}
	q := make([]calls.CallEntry, len(s.Entries))
	copy(q, s.Entries)
	calls.SortFIFO(q)
	m.queue = q
	if !s.TakenAt.IsZero() {
		m.takenAt = s.TakenAt
	}
	return true
}

func (m *Mirror) viewLocked() View {
	q := make([]calls.CallEntry, len(m.queue))
	copy(q, m.queue)
	return View{Queue: q, Current: cloneEntry(m.current), TakenAt: m.takenAt}
}

// markSeen records id and reports whether it was already present. The set keeps the
// most recent defaultSeenCapacity ids.
func (m *Mirror) markSeen(id string) bool {
	if _, ok := m.seen[id]; ok {
		return true
	}
	if old := m.seenRing[m.seenNext]; old != "" {
		delete(m.seen, old)
	}
	m.seenRing[m.seenNext] = id
	m.seenNext = (m.seenNext + 1) % len(m.seenRing)
	m.seen[id] = struct{}{}
	return false
}

func cloneEntry(e *calls.CallEntry) *calls.CallEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
