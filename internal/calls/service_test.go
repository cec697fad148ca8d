package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAnnouncer struct {
	mu        sync.Mutex
	mutations []Mutation
	err       error
}

func (r *recordingAnnouncer) Announce(ctx context.Context, m Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, m)
	return r.err
}

func (r *recordingAnnouncer) all() []Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Mutation, len(r.mutations))
	copy(out, r.mutations)
	return out
}

type fakePhone struct {
	mu      sync.Mutex
	hangups map[string]int
	err     error
}

func (f *fakePhone) Hangup(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hangups == nil {
		f.hangups = map[string]int{}
	}
	f.hangups[callID]++
	return f.err
}

func (f *fakePhone) count(callID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hangups[callID]
}

type memRecorder struct {
	mu    sync.Mutex
	items []Transition
}

func (m *memRecorder) RecordTransition(ctx context.Context, t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, t)
	return nil
}

// tickingClock returns strictly increasing times so CreatedAt ordering is deterministic.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Unix(1700000000, 0).UTC()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type fixture struct {
	store *MemoryStore
	ann   *recordingAnnouncer
	phone *fakePhone
	audit *memRecorder
	m     *Machine
}

func newFixture() fixture {
	clock := tickingClock()
	store := NewMemoryStore().WithClock(clock)
	ann := &recordingAnnouncer{}
	phone := &fakePhone{}
	rec := &memRecorder{}
	m := NewMachine(store, ann, phone, rec)
	m.clock = clock
	return fixture{store: store, ann: ann, phone: phone, audit: rec, m: m}
}

func TestMachine_EnqueueIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.m.Enqueue(ctx, NewCall{CallID: "C2", CallerNumber: "+15550199"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, DefaultCallerName, res.Entry.CallerName)

	res, err = f.m.Enqueue(ctx, NewCall{CallID: "C2", CallerNumber: "+15550199"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	assert.Len(t, f.store.Rows(), 1)
	assert.Len(t, f.ann.all(), 1, "duplicate enqueue must not broadcast")
}

func TestMachine_EnqueueRejectsEmptyCallID(t *testing.T) {
	f := newFixture()
	_, err := f.m.Enqueue(context.Background(), NewCall{CallID: "  "})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMachine_AnswerHoldEndScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.m.Enqueue(ctx, NewCall{CallID: "C1", CallerNumber: "+15550123"})
	require.NoError(t, err)
	snap, err := f.m.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, CallStatusQueued, snap.Entries[0].Status)

	res, err := f.m.Submit(ctx, Action{Kind: ActionAnswer, CallID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, CallStatusInProgress, res.Entry.Status)
	snap, _ = f.m.ListActive(ctx)
	assert.False(t, snap.Contains("C1"), "answered call leaves the waiting queue")

	res, err = f.m.Submit(ctx, Action{Kind: ActionHold, CallID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, CallStatusOnHold, res.Entry.Status)
	snap, _ = f.m.ListActive(ctx)
	assert.True(t, snap.Contains("C1"), "held call rejoins the queue listing")

	res, err = f.m.Submit(ctx, Action{Kind: ActionEnd, CallID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, CallStatusCompleted, res.Entry.Status)
	snap, _ = f.m.ListActive(ctx)
	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, 1, f.phone.count("C1"))

	muts := f.ann.all()
	require.Len(t, muts, 4)
	assert.Equal(t, []Op{OpEnqueue, OpAnswer, OpHold, OpEnd}, []Op{muts[0].Op, muts[1].Op, muts[2].Op, muts[3].Op})
	assert.Nil(t, muts[0].Before)
	assert.Equal(t, CallStatusOnHold, muts[3].Before.Status)

	require.Len(t, f.audit.items, 4)
	assert.Equal(t, CallStatusOnHold, f.audit.items[3].From)
	assert.Equal(t, CallStatusCompleted, f.audit.items[3].To)
}

func TestMachine_AnswerOnHoldResumes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.m.Enqueue(ctx, NewCall{CallID: "C1"})
	_, _ = f.m.Answer(ctx, "C1")
	_, _ = f.m.Hold(ctx, "C1")

	res, err := f.m.Answer(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, CallStatusInProgress, res.Entry.Status)
}

func TestMachine_InvalidTransitionIsIgnoredWithoutBroadcast(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.m.Enqueue(ctx, NewCall{CallID: "C1"})

	res, err := f.m.Hold(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, "invalid_transition", res.Reason)

	e, err := f.store.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, CallStatusQueued, e.Status)
	assert.Len(t, f.ann.all(), 1)
}

func TestMachine_ActionOnMissingCallIsIgnored(t *testing.T) {
	f := newFixture()
	res, err := f.m.End(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, 0, f.phone.count("nope"))
	assert.Empty(t, f.ann.all())
}

func TestMachine_DeclineHangsUpExactlyOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.m.Enqueue(ctx, NewCall{CallID: "C1"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Decline(ctx, "C1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.phone.count("C1"))
	e, _ := f.store.Get(ctx, "C1")
	assert.Equal(t, CallStatusFailed, e.Status)
	assert.Len(t, f.ann.all(), 2)
}

func TestMachine_HangupFailureDoesNotBlockRemoval(t *testing.T) {
	f := newFixture()
	f.phone.err = errors.New("provider down")
	ctx := context.Background()
	_, _ = f.m.Enqueue(ctx, NewCall{CallID: "C1"})

	res, err := f.m.End(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	snap, _ := f.m.ListActive(ctx)
	assert.Equal(t, 0, snap.Len())
}

func TestMachine_ProviderLeaveDoesNotHangUp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.m.Enqueue(ctx, NewCall{CallID: "C1"})

	res, err := f.m.ProviderLeave(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, CallStatusFailed, res.Entry.Status)
	assert.Equal(t, 0, f.phone.count("C1"))
}

func TestMachine_ProviderLeaveWinsRaceWithAnswer(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture()
		ctx := context.Background()
		_, err := f.m.Enqueue(ctx, NewCall{CallID: "C1"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = f.m.Answer(ctx, "C1") }()
		go func() { defer wg.Done(); _, _ = f.m.ProviderLeave(ctx, "C1") }()
		wg.Wait()

		e, err := f.store.Get(ctx, "C1")
		require.NoError(t, err)
		require.True(t, e.Status.Terminal(), "iteration %d left call %s", i, e.Status)

		all, err := f.store.List(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, all)
	}
}

func TestMachine_NoResurrectionAfterTerminal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.m.Enqueue(ctx, NewCall{CallID: "C1"})
	_, _ = f.m.ProviderLeave(ctx, "C1")

	res, err := f.m.Enqueue(ctx, NewCall{CallID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	snap, _ := f.m.ListActive(ctx)
	assert.Equal(t, 0, snap.Len())
}

func TestMachine_IndependentCallsProceedConcurrently(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ids := []string{"A", "B", "C", "D", "E", "F", "G", "H"}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.m.Enqueue(ctx, NewCall{CallID: id})
			assert.NoError(t, err)
			_, err = f.m.Answer(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	all, err := f.store.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, len(ids))
	for _, e := range all {
		assert.Equal(t, CallStatusInProgress, e.Status)
	}
	assert.Equal(t, 0, f.m.locks.size())
}

func TestMachine_ListActiveIsFIFO(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, id := range []string{"first", "second", "third"} {
		_, err := f.m.Enqueue(ctx, NewCall{CallID: id})
		require.NoError(t, err)
	}
	snap, err := f.m.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, snap.Len())
	assert.Equal(t, "first", snap.Entries[0].CallID)
	assert.Equal(t, "third", snap.Entries[2].CallID)
	for i := 1; i < snap.Len(); i++ {
		assert.True(t, snap.Entries[i-1].CreatedAt.Before(snap.Entries[i].CreatedAt))
	}
}

func TestMachine_StoreUnavailablePropagates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.m.Enqueue(ctx, NewCall{CallID: "C1"})
	f.store.Fail = errors.New("connection refused")

	_, err := f.m.Answer(ctx, "C1")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = f.m.Enqueue(ctx, NewCall{CallID: "C9"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = f.m.ListActive(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Len(t, f.ann.all(), 1, "failed operations must not broadcast")
}

func TestMachine_BroadcastFailureReportsUnavailable(t *testing.T) {
	f := newFixture()
	f.ann.err = errors.New("redis down")
	ctx := context.Background()

	res, err := f.m.Enqueue(ctx, NewCall{CallID: "C1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	e, gerr := f.store.Get(ctx, "C1")
	require.NoError(t, gerr, "the commit stands")
	assert.Equal(t, CallStatusQueued, e.Status)

	res, err = f.m.Answer(ctx, "C1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, CallStatusInProgress, res.Entry.Status)

	f.ann.mu.Lock()
	f.ann.err = nil
	f.ann.mu.Unlock()
	res, err = f.m.Answer(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome, "a retried action after a failed broadcast is absorbed")
}

type ctxAnnouncer struct {
	mu   sync.Mutex
	errs map[Op]error
}

func (a *ctxAnnouncer) Announce(ctx context.Context, m Mutation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.errs == nil {
		a.errs = map[Op]error{}
	}
	a.errs[m.Op] = ctx.Err()
	return ctx.Err()
}

// stuckPhone never answers; Hangup returns only when its context gives up.
type stuckPhone struct {
	deadline chan bool
}

func (p *stuckPhone) Hangup(ctx context.Context, callID string) error {
	_, ok := ctx.Deadline()
	p.deadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestMachine_SlowProviderDoesNotStarveBroadcast(t *testing.T) {
	ann := &ctxAnnouncer{}
	phone := &stuckPhone{deadline: make(chan bool, 1)}
	m := NewMachine(NewMemoryStore(), ann, phone, nil)
	m.OpTimeout = 50 * time.Millisecond
	ctx := context.Background()

	_, err := m.Enqueue(ctx, NewCall{CallID: "C1"})
	require.NoError(t, err)

	res, err := m.End(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.True(t, <-phone.deadline, "hangup must be bounded")

	ann.mu.Lock()
	defer ann.mu.Unlock()
	assert.NoError(t, ann.errs[OpEnd], "publish ran on an expired context")
}

func TestMachine_ProviderLeaveBeforeEnqueueLeavesTombstone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.m.ProviderLeave(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, "not_found", res.Reason)

	// The delayed create for the same caller must not queue a ghost.
	res, err = f.m.Enqueue(ctx, NewCall{CallID: "C1", CallerNumber: "+15550123"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	snap, err := f.m.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.Empty(t, f.ann.all())

	terminal, err := f.store.ListTerminal(ctx, time.Unix(1800000000, 0))
	require.NoError(t, err)
	require.Len(t, terminal, 1, "tombstone is reaped with other terminal rows")
	assert.Equal(t, CallStatusFailed, terminal[0].Status)
}

func TestMachine_SubmitUnknownAction(t *testing.T) {
	f := newFixture()
	_, err := f.m.Submit(context.Background(), Action{Kind: "transfer", CallID: "C1"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestParseActionKind(t *testing.T) {
	k, err := ParseActionKind(" Answer ")
	require.NoError(t, err)
	assert.Equal(t, ActionAnswer, k)

	_, err = ParseActionKind("mute")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

// readClockStore notes the time at which List actually reads.
type readClockStore struct {
	*MemoryStore
	clock  func() time.Time
	readAt time.Time
}

func (s *readClockStore) List(ctx context.Context, activeOnly bool) ([]CallEntry, error) {
	s.readAt = s.clock()
	return s.MemoryStore.List(ctx, activeOnly)
}

func TestMachine_ListActiveStampsBeforeRead(t *testing.T) {
	clock := tickingClock()
	st := &readClockStore{MemoryStore: NewMemoryStore(), clock: clock}
	m := NewMachine(st, nil, nil, nil)
	m.clock = clock

	snap, err := m.ListActive(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.TakenAt.Before(st.readAt), "taken %v, read %v", snap.TakenAt, st.readAt)
}
