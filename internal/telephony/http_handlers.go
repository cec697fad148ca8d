package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"softphone-queue/internal/calls"
	"softphone-queue/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler converts Twilio webhooks to InboundEvents, delegates to the
// Dispatcher and writes TwiML or a small JSON ack.
//
// No business logic here.
type WebhookHandler struct {
	Dispatcher interface {
		Dispatch(ctx context.Context, ev InboundEvent) (Command, calls.Result, error)
	}

	// CallbackURL turns a path into an absolute URL reachable by Twilio.
	CallbackURL func(path string) string
}

// HandleIncomingCall enqueues the caller and answers with the hold-room TwiML.
func (h WebhookHandler) HandleIncomingCall(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	_, res, err := h.Dispatcher.Dispatch(c.Request.Context(), form.InitiatedEvent())
	if err != nil {
		abortWithDispatchErr(c, err)
		return
	}
	log.Info("incoming call handled", "call_sid", form.CallSid, "outcome", res.Outcome)

	twiml, err := IncomingCallTwiML(h.url(PathHoldMusic), h.url(PathCallStatus))
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	writeTwiML(c, twiml)
}

// HandleCallStatus consumes conference and call status callbacks.
func (h WebhookHandler) HandleCallStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioForm(c.Request)
	if err != nil {
		log.Warn("twilio status callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	cmd, res, err := h.Dispatcher.Dispatch(c.Request.Context(), form.StatusEvent())
	if err != nil {
		abortWithDispatchErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "status processed", "command": cmd.Op, "outcome": res.Outcome})
}

// HandleJoinConference returns the TwiML the agent's softphone runs to reach a caller.
func (h WebhookHandler) HandleJoinConference(c *gin.Context) {
	callID := strings.TrimSpace(c.PostForm("callSid"))
	if callID == "" {
		callID = strings.TrimSpace(c.PostForm("CallSid"))
	}
	twiml, err := JoinConferenceTwiML(callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callSid is required"})
		return
	}
	logger.FromGin(c).Info("agent joining conference", "call_sid", callID)
	writeTwiML(c, twiml)
}

// StaticTwiML serves one of the fixed hold/wait loops.
func StaticTwiML(render func() (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		twiml, err := render()
		if err != nil {
			logger.FromGin(c).Error("twiml render failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
			return
		}
		writeTwiML(c, twiml)
	}
}

func (h WebhookHandler) url(path string) string {
	if h.CallbackURL == nil {
		return path
	}
	return h.CallbackURL(path)
}

func writeTwiML(c *gin.Context, twiml string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func abortWithDispatchErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidDestination):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid number"})
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
	case errors.Is(err, calls.ErrUnavailable):
		logger.FromGin(c).Error("queue unavailable", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
	default:
		logger.FromGin(c).Error("webhook failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
