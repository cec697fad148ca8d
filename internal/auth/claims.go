package auth

import "github.com/golang-jwt/jwt/v5"

// VoiceClaims is the Twilio access token payload for the browser Voice SDK.
// jti, iss (API key sid), sub (account sid) and exp come from RegisteredClaims.
type VoiceClaims struct {
	jwt.RegisteredClaims

	Grants Grants `json:"grants"`
}

type Grants struct {
	Identity string      `json:"identity"`
	Voice    *VoiceGrant `json:"voice,omitempty"`
}

type VoiceGrant struct {
	Incoming *IncomingGrant `json:"incoming,omitempty"`
	Outgoing *OutgoingGrant `json:"outgoing,omitempty"`
}

type IncomingGrant struct {
	Allow bool `json:"allow"`
}

type OutgoingGrant struct {
	ApplicationSID string `json:"application_sid"`
}
