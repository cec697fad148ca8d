package calls

import (
	"context"
	"fmt"
	"strings"
)

// ActionKind is an agent console action. Each maps 1:1 onto a Machine operation.
type ActionKind string

const (
	ActionAnswer  ActionKind = "answer"
	ActionDecline ActionKind = "decline"
	ActionHold    ActionKind = "hold"
	ActionEnd     ActionKind = "end"
	ActionResume  ActionKind = "resume"
)

// Action is what the console submits.
type Action struct {
	Kind   ActionKind
	CallID string
}

func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case ActionAnswer, ActionDecline, ActionHold, ActionEnd, ActionResume:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Submit applies an agent action.
func (m *Machine) Submit(ctx context.Context, a Action) (Result, error) {
	switch a.Kind {
	case ActionAnswer:
		return m.Answer(ctx, a.CallID)
	case ActionDecline:
		return m.Decline(ctx, a.CallID)
	case ActionHold:
		return m.Hold(ctx, a.CallID)
	case ActionEnd:
		return m.End(ctx, a.CallID)
	case ActionResume:
		return m.Resume(ctx, a.CallID)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
}
