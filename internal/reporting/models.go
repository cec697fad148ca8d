package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// QueueSummaryRequest requests aggregated queue metrics over a window.
type QueueSummaryRequest struct {
	Range TimeRange `json:"range"`
}

// QueueSummary is derived from the immutable transition log. Waits and talk times
// count only calls whose relevant transitions both fall inside the window.
type QueueSummary struct {
	Range TimeRange `json:"range"`

	EnqueuedCalls  int `json:"enqueued_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	DeclinedCalls  int `json:"declined_calls"`
	AbandonedCalls int `json:"abandoned_calls"`
	CompletedCalls int `json:"completed_calls"`
	Holds          int `json:"holds"`

	AverageWaitSeconds int `json:"average_wait_seconds"`
	LongestWaitSeconds int `json:"longest_wait_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`
}
