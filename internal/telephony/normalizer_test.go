package telephony

import (
	"context"
	"testing"

	"softphone-queue/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceNumber = "+15557654321"

func TestNormalize_CallInitiatedEnqueues(t *testing.T) {
	n := Normalizer{ServiceNumber: serviceNumber}
	cmd, err := n.Normalize(InboundEvent{
		DestinationAddress: serviceNumber,
		CallID:             " CA1 ",
		FromAddress:        "+15550123",
		CallerName:         "Ada",
		Kind:               EventCallInitiated,
	})
	require.NoError(t, err)
	assert.Equal(t, CommandEnqueue, cmd.Op)
	assert.Equal(t, "CA1", cmd.CallID)
	assert.Equal(t, calls.NewCall{CallID: "CA1", CallerNumber: "+15550123", CallerName: "Ada"}, cmd.Call)
}

func TestNormalize_RejectsOtherDestination(t *testing.T) {
	n := Normalizer{ServiceNumber: serviceNumber}
	_, err := n.Normalize(InboundEvent{DestinationAddress: "+15550000000", CallID: "CA1", Kind: EventCallInitiated})
	assert.ErrorIs(t, err, ErrInvalidDestination)

	_, err = n.Normalize(InboundEvent{CallID: "CA1", Kind: EventCallInitiated})
	assert.ErrorIs(t, err, ErrInvalidDestination, "a new call must name its destination")

	_, err = n.Normalize(InboundEvent{DestinationAddress: "+15550000000", CallID: "CA1", Kind: EventStatusChanged, SubReason: "participant-leave"})
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestNormalize_MissingCallID(t *testing.T) {
	n := Normalizer{ServiceNumber: serviceNumber}
	_, err := n.Normalize(InboundEvent{DestinationAddress: serviceNumber, Kind: EventCallInitiated})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = n.Normalize(InboundEvent{Kind: EventStatusChanged, SubReason: "participant-leave"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestNormalize_StatusChanged(t *testing.T) {
	n := Normalizer{ServiceNumber: serviceNumber}
	cases := []struct {
		name string
		ev   InboundEvent
		want CommandOp
	}{
		{"participant leave", InboundEvent{CallID: "CA1", Kind: EventStatusChanged, SubReason: "participant-leave"}, CommandDequeue},
		{"participant join", InboundEvent{CallID: "CA1", Kind: EventStatusChanged, SubReason: "participant-join"}, CommandNoop},
		{"conference start without call", InboundEvent{Kind: EventStatusChanged, SubReason: "conference-start"}, CommandNoop},
		{"completed call", InboundEvent{CallID: "CA1", Kind: EventStatusChanged, CallStatus: "completed"}, CommandDequeue},
		{"no answer", InboundEvent{CallID: "CA1", Kind: EventStatusChanged, CallStatus: "no-answer"}, CommandDequeue},
		{"ringing", InboundEvent{CallID: "CA1", Kind: EventStatusChanged, CallStatus: "ringing"}, CommandNoop},
		{"unknown kind", InboundEvent{CallID: "CA1", Kind: "mystery"}, CommandNoop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := n.Normalize(tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cmd.Op)
			if tc.want == CommandNoop {
				assert.NotEmpty(t, cmd.Reason)
			}
		})
	}
}

func TestDispatcher_RoutesIntoMachine(t *testing.T) {
	store := calls.NewMemoryStore()
	m := calls.NewMachine(store, nil, nil, nil)
	d := Dispatcher{Normalizer: Normalizer{ServiceNumber: serviceNumber}, Machine: m}
	ctx := context.Background()

	cmd, res, err := d.Dispatch(ctx, InboundEvent{DestinationAddress: serviceNumber, CallID: "CA1", FromAddress: "+15550123", Kind: EventCallInitiated})
	require.NoError(t, err)
	assert.Equal(t, CommandEnqueue, cmd.Op)
	assert.Equal(t, calls.OutcomeApplied, res.Outcome)
	assert.Equal(t, calls.DefaultCallerName, res.Entry.CallerName)

	_, res, err = d.Dispatch(ctx, InboundEvent{DestinationAddress: serviceNumber, CallID: "CA1", Kind: EventCallInitiated})
	require.NoError(t, err)
	assert.Equal(t, calls.OutcomeNoop, res.Outcome)
	assert.Len(t, store.Rows(), 1)

	_, res, err = d.Dispatch(ctx, InboundEvent{CallID: "CA1", Kind: EventStatusChanged, SubReason: "participant-join"})
	require.NoError(t, err)
	assert.Equal(t, calls.OutcomeNoop, res.Outcome)

	_, res, err = d.Dispatch(ctx, InboundEvent{CallID: "CA1", Kind: EventStatusChanged, SubReason: "participant-leave"})
	require.NoError(t, err)
	assert.Equal(t, calls.OutcomeApplied, res.Outcome)
	assert.Equal(t, calls.CallStatusFailed, res.Entry.Status)

	active, err := m.ListActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, active.Len())
}

func TestDispatcher_RejectsWithoutSideEffects(t *testing.T) {
	store := calls.NewMemoryStore()
	d := Dispatcher{Normalizer: Normalizer{ServiceNumber: serviceNumber}, Machine: calls.NewMachine(store, nil, nil, nil)}

	_, _, err := d.Dispatch(context.Background(), InboundEvent{DestinationAddress: "+1999", CallID: "CA1", Kind: EventCallInitiated})
	assert.ErrorIs(t, err, ErrInvalidDestination)
	assert.Empty(t, store.Rows())
}
