package calls

// Op is a queue state machine operation.
type Op string

const (
	OpEnqueue       Op = "enqueue"
	OpAnswer        Op = "answer"
	OpHold          Op = "hold"
	OpResume        Op = "resume"
	OpDecline       Op = "decline"
	OpEnd           Op = "end"
	OpProviderLeave Op = "provider_leave"
)

type edge struct {
	from CallStatus
	op   Op
}

// edges is the complete transition table. Anything not listed is ErrInvalidTransition.
// Enqueue is not here: it is valid only when no entry exists.
var edges = map[edge]CallStatus{
	{CallStatusQueued, OpAnswer}:     CallStatusInProgress,
	{CallStatusOnHold, OpAnswer}:     CallStatusInProgress,
	{CallStatusOnHold, OpResume}:     CallStatusInProgress,
	{CallStatusInProgress, OpHold}:   CallStatusOnHold,

	{CallStatusQueued, OpDecline}:     CallStatusFailed,
	{CallStatusInProgress, OpDecline}: CallStatusCompleted,
	{CallStatusOnHold, OpDecline}:     CallStatusCompleted,

	{CallStatusQueued, OpEnd}:     CallStatusCompleted,
	{CallStatusInProgress, OpEnd}: CallStatusCompleted,
	{CallStatusOnHold, OpEnd}:     CallStatusCompleted,

	{CallStatusQueued, OpProviderLeave}:     CallStatusFailed,
	{CallStatusInProgress, OpProviderLeave}: CallStatusCompleted,
	{CallStatusOnHold, OpProviderLeave}:     CallStatusCompleted,
}

// Next returns the status reached by applying op from `from`.
func Next(from CallStatus, op Op) (CallStatus, error) {
	if from.Terminal() {
		return "", ErrInvalidTransition
	}
	to, ok := edges[edge{from: from, op: op}]
	if !ok {
		return "", ErrInvalidTransition
	}
	return to, nil
}

// hangsUp reports whether op triggers the outbound hangup side effect.
func (op Op) hangsUp() bool {
	return op == OpDecline || op == OpEnd
}
