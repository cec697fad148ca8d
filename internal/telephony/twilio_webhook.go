package telephony

import (
	"net/http"
	"strings"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// The same struct covers the incoming-call webhook and the conference/call status
// callbacks; fields the callback does not send stay empty.
type TwilioInboundForm struct {
	CallSid       string
	AccountSid    string
	From          string
	To            string
	Direction     string
	CallStatus    string
	CallerName    string
	ForwardedFrom string

	// Conference status callbacks.
	StatusCallbackEvent   string
	ConferenceSid         string
	FriendlyName          string
	ReasonParticipantLeft string
}

func ParseTwilioForm(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:               strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:            r.PostFormValue("AccountSid"),
		From:                  normalizePhone(r.PostFormValue("From")),
		To:                    normalizePhone(r.PostFormValue("To")),
		Direction:             r.PostFormValue("Direction"),
		CallStatus:            strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallerName:            strings.TrimSpace(r.PostFormValue("CallerName")),
		ForwardedFrom:         normalizePhone(r.PostFormValue("ForwardedFrom")),
		StatusCallbackEvent:   strings.TrimSpace(r.PostFormValue("StatusCallbackEvent")),
		ConferenceSid:         r.PostFormValue("ConferenceSid"),
		FriendlyName:          r.PostFormValue("FriendlyName"),
		ReasonParticipantLeft: r.PostFormValue("ReasonParticipantLeft"),
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// InitiatedEvent maps the incoming-call webhook.
func (f TwilioInboundForm) InitiatedEvent() InboundEvent {
	return InboundEvent{
		DestinationAddress: f.To,
		CallID:             f.CallSid,
		FromAddress:        f.From,
		CallerName:         f.CallerName,
		Kind:               EventCallInitiated,
		CallStatus:         f.CallStatus,
	}
}

// StatusEvent maps a conference or call status callback.
func (f TwilioInboundForm) StatusEvent() InboundEvent {
	return InboundEvent{
		DestinationAddress: f.To,
		CallID:             f.CallSid,
		FromAddress:        f.From,
		Kind:               EventStatusChanged,
		SubReason:          f.StatusCallbackEvent,
		CallStatus:         f.CallStatus,
	}
}

// formParams flattens the posted form for signature validation.
func formParams(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
