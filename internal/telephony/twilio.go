package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// callUpdater is the slice of the Twilio REST API the controller needs.
type callUpdater interface {
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioController performs outbound call control against the Twilio REST API.
// It implements calls.Controller.
type TwilioController struct {
	api callUpdater
}

func NewTwilioController(accountSID, authToken string) *TwilioController {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioController{api: rc.Api}
}

// Hangup completes the call at the provider. A call Twilio no longer knows maps to
// ErrCallNotFound.
func (p *TwilioController) Hangup(ctx context.Context, callID string) error {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return ErrInvalidEvent
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")

	return p.do(ctx, func() error {
		_, err := p.api.UpdateCall(callID, params)
		return err
	})
}

// do runs a blocking SDK call and gives up when ctx ends. The SDK has no context
// parameter, so an abandoned request finishes in the background.
func (p *TwilioController) do(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()

	select {
	case err := <-done:
		return classifyTwilioErr(err)
	case <-ctx.Done():
		return fmt.Errorf("telephony: twilio request abandoned: %w", ctx.Err())
	}
}

func classifyTwilioErr(err error) error {
	if err == nil {
		return nil
	}
	var rest *twclient.TwilioRestError
	if errors.As(err, &rest) && rest.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrCallNotFound, rest.Message)
	}
	return fmt.Errorf("telephony: twilio: %w", err)
}
