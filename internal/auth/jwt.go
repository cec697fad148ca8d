package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"softphone-queue/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// twilioContentType marks the token as a Twilio access token.
const twilioContentType = "twilio-fpa;v=1"

var ErrNotConfigured = errors.New("auth: twilio api key credentials missing")

// VoiceTokenIssuer signs Twilio Voice access tokens with an API key secret.
type VoiceTokenIssuer struct {
	accountSID  string
	apiKeySID   string
	apiSecret   []byte
	twimlAppSID string
	ttl         time.Duration
	identity    string
}

func NewVoiceTokenIssuer(cfg config.TwilioConfig) (*VoiceTokenIssuer, error) {
	if cfg.AccountSID == "" || cfg.APIKeySID == "" || cfg.APIKeySecret == "" {
		return nil, ErrNotConfigured
	}
	ttl := cfg.VoiceTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	identity := cfg.VoiceIdentity
	if identity == "" {
		identity = "user"
	}
	return &VoiceTokenIssuer{
		accountSID:  cfg.AccountSID,
		apiKeySID:   cfg.APIKeySID,
		apiSecret:   []byte(cfg.APIKeySecret),
		twimlAppSID: cfg.TwiMLAppSID,
		ttl:         ttl,
		identity:    identity,
	}, nil
}

type VoiceToken struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issue signs a token for identity, or the configured default identity when empty.
// Incoming calls are always allowed; outgoing calls need a TwiML app sid.
func (m *VoiceTokenIssuer) Issue(now time.Time, identity string) (VoiceToken, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = m.identity
	}
	exp := now.Add(m.ttl)

	grant := &VoiceGrant{Incoming: &IncomingGrant{Allow: true}}
	if m.twimlAppSID != "" {
		grant.Outgoing = &OutgoingGrant{ApplicationSID: m.twimlAppSID}
	}

	claims := VoiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", m.apiKeySID, now.Unix()),
			Issuer:    m.apiKeySID,
			Subject:   m.accountSID,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Grants: Grants{Identity: identity, Voice: grant},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["cty"] = twilioContentType
	signed, err := t.SignedString(m.apiSecret)
	if err != nil {
		return VoiceToken{}, err
	}
	return VoiceToken{Token: signed, Identity: identity, ExpiresAt: exp.UTC()}, nil
}
