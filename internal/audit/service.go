package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"softphone-queue/internal/calls"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. Reads return events oldest first.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service logs the queue's transition history. It implements calls.Recorder.
//
// IMPORTANT:
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if strings.TrimSpace(e.CallID) == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" || e.ToStatus == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// RecordTransition appends one committed state machine transition.
func (s *Service) RecordTransition(ctx context.Context, t calls.Transition) error {
	msg := fmt.Sprintf("%s: %s", t.Op, t.To)
	if t.From != "" {
		msg = fmt.Sprintf("%s: %s -> %s", t.Op, t.From, t.To)
	}
	return s.Append(ctx, Event{
		CallID:     t.CallID,
		Type:       EventTypeTransition,
		Op:         string(t.Op),
		FromStatus: string(t.From),
		ToStatus:   string(t.To),
		Message:    msg,
		CreatedAt:  t.At,
	})
}

// History returns a call's transitions, oldest first.
func (s *Service) History(ctx context.Context, callID string) ([]Event, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, callID)
}
