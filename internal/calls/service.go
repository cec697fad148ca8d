package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"softphone-queue/pkg/logger"
)

// Machine is the queue state machine. It validates transitions, serializes them per
// call id, persists through the Store and announces every committed mutation once.
//
// Benign outcomes (duplicates, stale actions, already-gone entries) are logged here and
// returned as Result outcomes with a nil error. Only ErrUnavailable escapes. When the
// store commit succeeded but the broadcast did not, the applied Result comes back
// together with ErrUnavailable.
type Machine struct {
	store    Store
	announce Announcer
	phone    Controller
	audit    Recorder

	locks *keyedMutex

	// OpTimeout bounds the store work of an operation. Post-commit steps (publish,
	// hangup) each get a fresh budget of the same size so one cannot starve the other.
	OpTimeout time.Duration

	clock func() time.Time
}

// Announcer publishes a committed mutation to subscribers.
type Announcer interface {
	Announce(ctx context.Context, m Mutation) error
}

// Controller is the outbound telephony side effect used on decline/end.
type Controller interface {
	Hangup(ctx context.Context, callID string) error
}

// Recorder receives every committed transition. Failures never block the queue.
type Recorder interface {
	RecordTransition(ctx context.Context, t Transition) error
}

// Mutation describes one committed change. Before is nil for Enqueue.
type Mutation struct {
	Op     Op
	Before *CallEntry
	After  CallEntry
}

// Transition is the audit view of a Mutation.
type Transition struct {
	CallID string
	Op     Op
	From   CallStatus
	To     CallStatus
	At     time.Time
}

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored"
)

type Result struct {
	Outcome Outcome   `json:"outcome"`
	Entry   CallEntry `json:"entry"`
	// Reason explains noop/ignored outcomes for logs and API responses.
	Reason string `json:"reason,omitempty"`
}

// NewCall is the input to Enqueue.
type NewCall struct {
	CallID       string
	CallerNumber string
	CallerName   string
}

const defaultOpTimeout = 5 * time.Second

func NewMachine(store Store, announce Announcer, phone Controller, audit Recorder) *Machine {
	return &Machine{
		store:     store,
		announce:  announce,
		phone:     phone,
		audit:     audit,
		locks:     newKeyedMutex(),
		OpTimeout: defaultOpTimeout,
		clock:     time.Now,
	}
}

// Enqueue creates a queued entry. A second Enqueue for the same call id is a noop.
func (m *Machine) Enqueue(ctx context.Context, in NewCall) (Result, error) {
	in.CallID = strings.TrimSpace(in.CallID)
	if in.CallID == "" {
		return Result{}, ErrInvalidArgument
	}
	if strings.TrimSpace(in.CallerName) == "" {
		in.CallerName = DefaultCallerName
	}

	unlock := m.locks.Lock(in.CallID)
	defer unlock()

	ctx, cancel := m.opContext(ctx)
	defer cancel()
	log := logger.From(ctx).With("call_sid", in.CallID, "op", OpEnqueue)

	entry := CallEntry{
		CallID:       in.CallID,
		CallerNumber: in.CallerNumber,
		CallerName:   in.CallerName,
		Status:       CallStatusQueued,
		CreatedAt:    m.clock().UTC(),
	}
	if err := m.store.Create(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			log.Info("enqueue ignored: call already known")
			existing, gerr := m.store.Get(ctx, in.CallID)
			if gerr != nil && !IsBenign(gerr) {
				return Result{}, gerr
			}
			return Result{Outcome: OutcomeNoop, Entry: existing, Reason: "duplicate"}, nil
		}
		log.Error("enqueue failed", "err", err)
		return Result{}, unavailable(err)
	}

	created, err := m.store.Get(ctx, in.CallID)
	if err != nil {
		if !IsBenign(err) {
			return Result{}, err
		}
		created = entry
	}
	log.Info("caller queued", "caller_number", created.CallerNumber)

	res := Result{Outcome: OutcomeApplied, Entry: created}
	if err := m.committed(ctx, Mutation{Op: OpEnqueue, After: created}); err != nil {
		return res, err
	}
	return res, nil
}

// Answer moves queued -> in_progress, or resumes an on_hold call.
func (m *Machine) Answer(ctx context.Context, callID string) (Result, error) {
	return m.transition(ctx, callID, OpAnswer)
}

// Hold moves in_progress -> on_hold.
func (m *Machine) Hold(ctx context.Context, callID string) (Result, error) {
	return m.transition(ctx, callID, OpHold)
}

// Resume moves on_hold -> in_progress.
func (m *Machine) Resume(ctx context.Context, callID string) (Result, error) {
	return m.transition(ctx, callID, OpResume)
}

// Decline finishes a non-terminal call and hangs it up.
func (m *Machine) Decline(ctx context.Context, callID string) (Result, error) {
	return m.transition(ctx, callID, OpDecline)
}

// End finishes a non-terminal call and hangs it up.
func (m *Machine) End(ctx context.Context, callID string) (Result, error) {
	return m.transition(ctx, callID, OpEnd)
}

// ProviderLeave records that the remote party disconnected. No hangup is sent.
func (m *Machine) ProviderLeave(ctx context.Context, callID string) (Result, error) {
	return m.transition(ctx, callID, OpProviderLeave)
}

// ListActive returns the waiting queue, oldest caller first.
func (m *Machine) ListActive(ctx context.Context) (Snapshot, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	// Stamped before the read: the rows are at least this fresh.
	takenAt := m.clock().UTC()
	entries, err := m.store.List(ctx, true)
	if err != nil {
		return Snapshot{}, unavailable(err)
	}
	return Snapshot{Entries: entries, TakenAt: takenAt}, nil
}

func (m *Machine) transition(ctx context.Context, callID string, op Op) (Result, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Result{}, ErrInvalidArgument
	}

	unlock := m.locks.Lock(callID)
	defer unlock()

	ctx, cancel := m.opContext(ctx)
	defer cancel()
	log := logger.From(ctx).With("call_sid", callID, "op", op)

	cur, err := m.store.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info("transition ignored: call not found")
			if op == OpProviderLeave {
				if err := m.tombstone(ctx, callID); err != nil {
					log.Error("tombstone failed", "err", err)
					return Result{}, err
				}
			}
			return Result{Outcome: OutcomeIgnored, Reason: "not_found"}, nil
		}
		log.Error("load call failed", "err", err)
		return Result{}, unavailable(err)
	}

	to, err := Next(cur.Status, op)
	if err != nil {
		log.Info("transition ignored: invalid from current status", "status", cur.Status)
		return Result{Outcome: OutcomeIgnored, Entry: cur, Reason: "invalid_transition"}, nil
	}

	after, err := m.store.UpdateStatus(ctx, callID, cur.Status, to)
	if err != nil {
		if IsBenign(err) {
			// Another process won the race on this row.
			log.Info("transition ignored: lost race", "err", err)
			return Result{Outcome: OutcomeIgnored, Entry: cur, Reason: "conflict"}, nil
		}
		log.Error("update status failed", "err", err)
		return Result{}, unavailable(err)
	}
	log.Info("call transitioned", "from", cur.Status, "to", after.Status)

	before := cur
	berr := m.committed(ctx, Mutation{Op: op, Before: &before, After: after})

	if op.hangsUp() && m.phone != nil {
		hctx, hcancel := m.opContext(ctx)
		err := m.phone.Hangup(hctx, callID)
		hcancel()
		if err != nil {
			log.Warn("hangup failed", "err", err)
		}
	}

	res := Result{Outcome: OutcomeApplied, Entry: after}
	if berr != nil {
		return res, berr
	}
	return res, nil
}

// tombstone records a provider leave that arrived before its enqueue, so the late
// create is absorbed as a duplicate. The reaper removes it with other terminal rows.
func (m *Machine) tombstone(ctx context.Context, callID string) error {
	err := m.store.Create(ctx, CallEntry{
		CallID:     callID,
		CallerName: DefaultCallerName,
		Status:     CallStatusFailed,
		CreatedAt:  m.clock().UTC(),
	})
	if err == nil || errors.Is(err, ErrDuplicateKey) {
		return nil
	}
	return unavailable(err)
}

// committed runs the post-commit hooks on a fresh budget. The commit stands either
// way; a failed broadcast is reported as ErrUnavailable and clients repair on the
// next poll. Audit failures are only logged.
func (m *Machine) committed(ctx context.Context, mu Mutation) error {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	log := logger.From(ctx).With("call_sid", mu.After.CallID, "op", mu.Op)

	if m.audit != nil {
		t := Transition{CallID: mu.After.CallID, Op: mu.Op, To: mu.After.Status, At: mu.After.UpdatedAt}
		if mu.Before != nil {
			t.From = mu.Before.Status
		}
		if err := m.audit.RecordTransition(ctx, t); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}

	if m.announce == nil {
		return nil
	}
	if err := m.announce.Announce(ctx, mu); err != nil {
		log.Error("broadcast failed; subscribers will catch up on next poll", "err", err)
		return unavailable(fmt.Errorf("broadcast: %w", err))
	}
	return nil
}

// opContext detaches from caller cancellation and applies the operation envelope.
func (m *Machine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := m.OpTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
