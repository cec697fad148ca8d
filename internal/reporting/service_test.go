package reporting

import (
	"context"
	"testing"
	"time"

	"softphone-queue/internal/audit"
	"softphone-queue/internal/calls"
)

func transition(callID string, op calls.Op, from, to calls.CallStatus, at time.Time) audit.Event {
	return audit.Event{
		ID:         callID + string(op),
		CallID:     callID,
		Type:       audit.EventTypeTransition,
		Op:         string(op),
		FromStatus: string(from),
		ToStatus:   string(to),
		CreatedAt:  at,
	}
}

func seed(t *testing.T, events ...audit.Event) *audit.MemoryRepo {
	t.Helper()
	repo := audit.NewMemoryRepo()
	for _, e := range events {
		if err := repo.Append(context.Background(), e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return repo
}

func TestQueueSummary_Aggregates(t *testing.T) {
	t0 := time.Unix(1700000000, 0).UTC()
	at := func(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

	repo := seed(t,
		// answered after 30s, held, resumed, ended 120s after answer
		transition("A", calls.OpEnqueue, "", calls.CallStatusQueued, at(0)),
		transition("A", calls.OpAnswer, calls.CallStatusQueued, calls.CallStatusInProgress, at(30)),
		transition("A", calls.OpHold, calls.CallStatusInProgress, calls.CallStatusOnHold, at(60)),
		transition("A", calls.OpResume, calls.CallStatusOnHold, calls.CallStatusInProgress, at(90)),
		transition("A", calls.OpEnd, calls.CallStatusInProgress, calls.CallStatusCompleted, at(150)),
		// caller hung up while waiting
		transition("B", calls.OpEnqueue, "", calls.CallStatusQueued, at(5)),
		transition("B", calls.OpProviderLeave, calls.CallStatusQueued, calls.CallStatusFailed, at(50)),
		// agent declined
		transition("C", calls.OpEnqueue, "", calls.CallStatusQueued, at(10)),
		transition("C", calls.OpDecline, calls.CallStatusQueued, calls.CallStatusFailed, at(20)),
		// answered after 90s, caller hung up
		transition("D", calls.OpEnqueue, "", calls.CallStatusQueued, at(10)),
		transition("D", calls.OpAnswer, calls.CallStatusQueued, calls.CallStatusInProgress, at(100)),
		transition("D", calls.OpProviderLeave, calls.CallStatusInProgress, calls.CallStatusCompleted, at(160)),
	)

	out, err := NewService(repo).QueueSummary(context.Background(), QueueSummaryRequest{Range: TimeRange{From: t0, To: t0.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.EnqueuedCalls != 4 || out.AnsweredCalls != 2 {
		t.Fatalf("expected 4 enqueued and 2 answered, got %+v", out)
	}
	if out.AbandonedCalls != 1 || out.DeclinedCalls != 1 || out.CompletedCalls != 2 {
		t.Fatalf("unexpected outcome counts: %+v", out)
	}
	if out.Holds != 1 {
		t.Fatalf("expected 1 hold, got %d", out.Holds)
	}
	if out.AverageWaitSeconds != 60 || out.LongestWaitSeconds != 90 {
		t.Fatalf("unexpected waits: avg=%d longest=%d", out.AverageWaitSeconds, out.LongestWaitSeconds)
	}
	if out.AverageTalkSeconds != 90 {
		t.Fatalf("expected avg talk 90s, got %d", out.AverageTalkSeconds)
	}
}

func TestQueueSummary_WindowExcludesOutside(t *testing.T) {
	t0 := time.Unix(1700000000, 0).UTC()
	repo := seed(t,
		transition("A", calls.OpEnqueue, "", calls.CallStatusQueued, t0.Add(-time.Minute)),
		transition("A", calls.OpAnswer, calls.CallStatusQueued, calls.CallStatusInProgress, t0.Add(time.Minute)),
	)

	out, err := NewService(repo).QueueSummary(context.Background(), QueueSummaryRequest{Range: TimeRange{From: t0, To: t0.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.EnqueuedCalls != 0 || out.AnsweredCalls != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.AverageWaitSeconds != 0 {
		t.Fatalf("wait needs the enqueue inside the window, got %d", out.AverageWaitSeconds)
	}
}

func TestQueueSummary_InvalidRange(t *testing.T) {
	svc := NewService(audit.NewMemoryRepo())
	now := time.Unix(1700000000, 0).UTC()

	cases := []TimeRange{
		{},
		{From: now, To: now},
		{From: now, To: now.Add(-time.Hour)},
		{From: now, To: now.Add(MaxRange + time.Hour)},
	}
	for _, r := range cases {
		if _, err := svc.QueueSummary(context.Background(), QueueSummaryRequest{Range: r}); err != ErrInvalidRequest {
			t.Fatalf("range %+v: expected ErrInvalidRequest, got %v", r, err)
		}
	}
}
