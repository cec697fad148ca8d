package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder. twilio-go has no
// TwiML package, so the documents are built with encoding/xml.
//
// Only include primitives the queue flow uses.

const (
	HoldRoom        = "hold-room"
	greeting        = "Please hold while we connect you to an agent."
	holdMusicURL    = "http://com.twilio.music.classical.s3.amazonaws.com/BusyStrings.wav"
	waitingMusicURL = "http://com.twilio.music.ambient.s3.amazonaws.com/Long_Northern_Lights.wav"

	PathHoldMusic    = "/api/twiml/hold-music"
	PathWaitForAgent = "/api/twiml/wait-for-agent"
	PathResumeCall   = "/api/twiml/resume-call"
	PathCallStatus   = "/api/webhooks/call-status"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Loop    string   `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  string   `xml:"length,attr,omitempty"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName    xml.Name         `xml:"Dial"`
	Conference *twimlConference `xml:"Conference,omitempty"`
}

type twimlConference struct {
	WaitURL                string `xml:"waitUrl,attr,omitempty"`
	StatusCallback         string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent    string `xml:"statusCallbackEvent,attr,omitempty"`
	StartConferenceOnEnter string `xml:"startConferenceOnEnter,attr,omitempty"`
	EndConferenceOnExit    string `xml:"endConferenceOnExit,attr,omitempty"`
	Muted                  string `xml:"muted,attr,omitempty"`
	Name                   string `xml:",chardata"`
}

// IncomingCallTwiML greets the caller and parks them in the shared hold room. The
// conference reports participant events to statusCallback.
func IncomingCallTwiML(waitURL, statusCallback string) (string, error) {
	if strings.TrimSpace(statusCallback) == "" {
		return "", errors.New("telephony: status callback url required")
	}
	return render(
		twimlSay{Text: greeting},
		twimlDial{Conference: &twimlConference{
			WaitURL:             waitURL,
			StatusCallback:      statusCallback,
			StatusCallbackEvent: "start end join leave",
			Name:                HoldRoom,
		}},
	)
}

// JoinConferenceTwiML bridges the agent into the caller's private room.
func JoinConferenceTwiML(callID string) (string, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return "", ErrInvalidEvent
	}
	return render(twimlDial{Conference: &twimlConference{
		StartConferenceOnEnter: "true",
		EndConferenceOnExit:    "true",
		Muted:                  "false",
		Name:                   HoldRoom + "-" + callID,
	}})
}

func HoldMusicTwiML() (string, error) {
	return render(
		twimlPlay{Loop: "0", URL: holdMusicURL},
		twimlRedirect{URL: PathHoldMusic},
	)
}

func WaitForAgentTwiML() (string, error) {
	return render(
		twimlPlay{Loop: "0", URL: waitingMusicURL},
		twimlPause{Length: "10"},
		twimlRedirect{URL: PathWaitForAgent},
	)
}

func ResumeCallTwiML() (string, error) {
	return render(
		twimlSay{Voice: "alice", Text: greeting},
		twimlPause{Length: "1"},
		twimlRedirect{URL: PathWaitForAgent},
	)
}

func render(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
