package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"softphone-queue/internal/audit"
	"softphone-queue/internal/auth"
	"softphone-queue/internal/calls"
	"softphone-queue/internal/reporting"
	"softphone-queue/pkg/logger"

	"github.com/gin-gonic/gin"
)

// QueueService is the agent-facing side of calls.Machine.
type QueueService interface {
	ListActive(ctx context.Context) (calls.Snapshot, error)
	Submit(ctx context.Context, a calls.Action) (calls.Result, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Queue   QueueService
	Tokens  *auth.VoiceTokenIssuer
	Audit   *audit.Service
	Reports *reporting.Service

	// Checks are run by Health; each name maps to a dependency ping.
	Checks map[string]func(ctx context.Context) error

	Now func() time.Time
}

// --- Queue ---

// ListQueue returns the waiting callers, oldest first.
func (h Handlers) ListQueue(c *gin.Context) {
	snap, err := h.Queue.ListActive(c.Request.Context())
	if err != nil {
		abortWithQueueErr(c, err)
		return
	}
	if snap.Entries == nil {
		snap.Entries = []calls.CallEntry{}
	}
	c.JSON(http.StatusOK, snap)
}

type callControlRequest struct {
	Action  string `json:"action"`
	CallSid string `json:"callSid"`
	// CallData is accepted for console compatibility and not interpreted.
	CallData json.RawMessage `json:"callData,omitempty"`
}

// CallControl applies an agent action. Stale or duplicate actions succeed with an
// ignored/noop outcome.
func (h Handlers) CallControl(c *gin.Context) {
	var req callControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	kind, err := calls.ParseActionKind(req.Action)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
		return
	}
	if strings.TrimSpace(req.CallSid) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callSid required"})
		return
	}

	res, err := h.Queue.Submit(c.Request.Context(), calls.Action{Kind: kind, CallID: req.CallSid})
	if err != nil {
		abortWithQueueErr(c, err)
		return
	}

	body := gin.H{"message": messageFor(res.Outcome), "outcome": res.Outcome}
	if res.Reason != "" {
		body["reason"] = res.Reason
	}
	if res.Outcome == calls.OutcomeApplied {
		body["entry"] = res.Entry
	}
	c.JSON(http.StatusOK, body)
}

// CallHistory returns the audit trail of one call.
func (h Handlers) CallHistory(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "audit not configured"})
		return
	}
	events, err := h.Audit.History(c.Request.Context(), c.Param("callSid"))
	if err != nil {
		if errors.Is(err, audit.ErrInvalidEvent) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callSid required"})
			return
		}
		logger.FromGin(c).Error("audit history failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"callSid": c.Param("callSid"), "events": events})
}

// QueueSummary aggregates the transition log over ?from=&to= (RFC 3339). The
// default window is the last 24 hours.
func (h Handlers) QueueSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "reporting not configured"})
		return
	}
	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return
		}
		from = to.Add(-24 * time.Hour)
	}
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
	}

	out, err := h.Reports.QueueSummary(c.Request.Context(), reporting.QueueSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("queue summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "reporting unavailable"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Softphone ---

// VoiceToken issues a Twilio access token for the browser Voice SDK.
func (h Handlers) VoiceToken(c *gin.Context) {
	if h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Missing Twilio credentials"})
		return
	}
	tok, err := h.Tokens.Issue(h.now(), c.Query("identity"))
	if err != nil {
		logger.FromGin(c).Error("voice token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate Twilio token"})
		return
	}
	c.JSON(http.StatusOK, tok)
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			logger.FromGin(c).Warn("health check failed", "check", name, "err", err)
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func messageFor(o calls.Outcome) string {
	switch o {
	case calls.OutcomeApplied:
		return "Action completed"
	case calls.OutcomeNoop:
		return "Nothing to do"
	default:
		return "Action ignored"
	}
}

func abortWithQueueErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrUnknownAction):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid argument"})
	case errors.Is(err, calls.ErrUnavailable):
		logger.FromGin(c).Error("queue unavailable", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
	default:
		logger.FromGin(c).Error("queue request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
