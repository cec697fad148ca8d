package telephony

import (
	"context"
	"fmt"
	"strings"

	"softphone-queue/internal/calls"
	"softphone-queue/pkg/logger"
)

type CommandOp string

const (
	CommandEnqueue CommandOp = "enqueue"
	CommandDequeue CommandOp = "dequeue"
	CommandNoop    CommandOp = "noop"
)

// Command is what a provider event asks of the queue.
type Command struct {
	Op     CommandOp
	CallID string
	// Call is set for CommandEnqueue.
	Call calls.NewCall
	// Reason says why a Noop was produced.
	Reason string
}

// Normalizer turns provider events into queue commands. It holds no store handle.
type Normalizer struct {
	// ServiceNumber is the configured destination address.
	ServiceNumber string
}

func (n Normalizer) Normalize(ev InboundEvent) (Command, error) {
	if dest := strings.TrimSpace(ev.DestinationAddress); dest != "" && dest != strings.TrimSpace(n.ServiceNumber) {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	if ev.Kind == EventCallInitiated && strings.TrimSpace(ev.DestinationAddress) == "" {
		return Command{}, fmt.Errorf("%w: destination required for %s", ErrInvalidDestination, ev.Kind)
	}

	cmd := classify(ev)
	if cmd.Op == CommandNoop {
		return cmd, nil
	}
	callID := strings.TrimSpace(ev.CallID)
	if callID == "" {
		return Command{}, fmt.Errorf("%w: missing call id for %s", ErrInvalidEvent, ev.Kind)
	}
	cmd.CallID = callID
	if cmd.Op == CommandEnqueue {
		cmd.Call = calls.NewCall{CallID: callID, CallerNumber: ev.FromAddress, CallerName: ev.CallerName}
	}
	return cmd, nil
}

func classify(ev InboundEvent) Command {
	switch ev.Kind {
	case EventCallInitiated:
		return Command{Op: CommandEnqueue}
	case EventStatusChanged:
		if strings.EqualFold(strings.TrimSpace(ev.SubReason), SubReasonParticipantLeave) {
			return Command{Op: CommandDequeue}
		}
		if isTerminalCallStatus(ev.CallStatus) {
			return Command{Op: CommandDequeue}
		}
		reason := ev.SubReason
		if reason == "" {
			reason = "status:" + ev.CallStatus
		}
		return Command{Op: CommandNoop, Reason: reason}
	default:
		return Command{Op: CommandNoop, Reason: "unknown kind " + string(ev.Kind)}
	}
}

// QueueMachine is the slice of calls.Machine the provider side drives.
type QueueMachine interface {
	Enqueue(ctx context.Context, in calls.NewCall) (calls.Result, error)
	ProviderLeave(ctx context.Context, callID string) (calls.Result, error)
}

// Dispatcher normalizes an event and routes the command into the state machine.
type Dispatcher struct {
	Normalizer Normalizer
	Machine    QueueMachine
}

// Dispatch returns a noop Result for events that carry no state change. Validation
// failures come back as ErrInvalidDestination or ErrInvalidEvent; store outages as
// calls.ErrUnavailable.
func (d Dispatcher) Dispatch(ctx context.Context, ev InboundEvent) (Command, calls.Result, error) {
	log := logger.From(ctx).With("call_sid", ev.CallID, "kind", ev.Kind)

	cmd, err := d.Normalizer.Normalize(ev)
	if err != nil {
		log.Warn("inbound event rejected", "err", err, "to", ev.DestinationAddress)
		return Command{}, calls.Result{}, err
	}

	switch cmd.Op {
	case CommandEnqueue:
		res, err := d.Machine.Enqueue(ctx, cmd.Call)
		return cmd, res, err
	case CommandDequeue:
		res, err := d.Machine.ProviderLeave(ctx, cmd.CallID)
		return cmd, res, err
	default:
		log.Debug("inbound event ignored", "reason", cmd.Reason)
		return cmd, calls.Result{Outcome: calls.OutcomeNoop, Reason: cmd.Reason}, nil
	}
}
