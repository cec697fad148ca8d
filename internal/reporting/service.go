package reporting

import (
	"context"
	"errors"
	"time"

	"softphone-queue/internal/audit"
	"softphone-queue/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// MaxRange bounds one summary query.
const MaxRange = 31 * 24 * time.Hour

// Repository reads the transition log. Implementations return events with
// from <= created_at < to, oldest first.
type Repository interface {
	ListRange(ctx context.Context, from, to time.Time) ([]audit.Event, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

type callTimes struct {
	enqueued time.Time
	answered time.Time
}

func (s *Service) QueueSummary(ctx context.Context, req QueueSummaryRequest) (QueueSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return QueueSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > MaxRange {
		return QueueSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return QueueSummary{}, errors.New("reporting: repository not configured")
	}

	events, err := s.repo.ListRange(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return QueueSummary{}, err
	}

	out := QueueSummary{Range: req.Range}
	byCall := map[string]*callTimes{}
	times := func(id string) *callTimes {
		ct, ok := byCall[id]
		if !ok {
			ct = &callTimes{}
			byCall[id] = ct
		}
		return ct
	}

	var (
		waitTotal, talkTotal time.Duration
		waits, talks         int
	)
	for _, e := range events {
		ct := times(e.CallID)
		op := calls.Op(e.Op)
		switch {
		case op == calls.OpEnqueue:
			out.EnqueuedCalls++
			ct.enqueued = e.CreatedAt
		case op == calls.OpAnswer && ct.answered.IsZero():
			out.AnsweredCalls++
			ct.answered = e.CreatedAt
			if !ct.enqueued.IsZero() {
				w := e.CreatedAt.Sub(ct.enqueued)
				waitTotal += w
				waits++
				if sec := int(w / time.Second); sec > out.LongestWaitSeconds {
					out.LongestWaitSeconds = sec
				}
			}
		case op == calls.OpHold:
			out.Holds++
		case !calls.CallStatus(e.ToStatus).Terminal():
			continue
		case e.FromStatus == string(calls.CallStatusQueued):
			// Ending a waiting call is an agent decision, like a decline.
			if op == calls.OpProviderLeave {
				out.AbandonedCalls++
			} else {
				out.DeclinedCalls++
			}
		default:
			out.CompletedCalls++
			if !ct.answered.IsZero() {
				talkTotal += e.CreatedAt.Sub(ct.answered)
				talks++
			}
		}
	}
	if waits > 0 {
		out.AverageWaitSeconds = int(waitTotal / time.Duration(waits) / time.Second)
	}
	if talks > 0 {
		out.AverageTalkSeconds = int(talkTotal / time.Duration(talks) / time.Second)
	}
	return out, nil
}
