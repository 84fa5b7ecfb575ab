package twofactor

import (
	"context"
	"errors"

	"github.com/sycy-station/misskey/internal/account"
	"github.com/sycy-station/misskey/internal/webauthn"
)

// Path identifies which verification branch a signin request takes.
type Path int

const (
	// PathNone: no second factor enrolled, password decides alone.
	PathNone Path = iota
	// PathTOTP: request carries a one-time token.
	PathTOTP
	// PathWebAuthnAssert: request carries a signed assertion.
	PathWebAuthnAssert
	// PathWebAuthnChallenge: neither token nor assertion present, a new
	// challenge is issued instead of a verdict.
	PathWebAuthnChallenge
)

// ErrNoSecret is returned when the TOTP path is taken but the profile has
// no secret enrolled.
var ErrNoSecret = errors.New("no totp secret enrolled")

// ErrTokenMismatch is returned when the submitted one-time token does not
// verify against the enrolled secret.
var ErrTokenMismatch = errors.New("totp token mismatch")

// PathFor selects the verification branch from the profile's enrollment
// state and the request shape.
func PathFor(profile account.Profile, hasToken, hasAssertion bool) Path {
	if !profile.TwoFactorEnabled {
		return PathNone
	}
	if hasToken {
		return PathTOTP
	}
	if hasAssertion {
		return PathWebAuthnAssert
	}
	return PathWebAuthnChallenge
}

// Engine verifies second factors.
type Engine struct {
	totp     TOTPVerifier
	webauthn *webauthn.Verifier
}

// NewEngine builds a second-factor engine.
func NewEngine(totp TOTPVerifier, wa *webauthn.Verifier) *Engine {
	return &Engine{totp: totp, webauthn: wa}
}

// CheckTOTP verifies a one-time token against the profile's secret.
func (e *Engine) CheckTOTP(profile account.Profile, token string) error {
	if profile.TwoFactorSecret == nil || *profile.TwoFactorSecret == "" {
		return ErrNoSecret
	}
	if !e.totp.Check(*profile.TwoFactorSecret, token) {
		return ErrTokenMismatch
	}
	return nil
}

// CheckAssertion verifies a WebAuthn assertion against the account's
// outstanding challenge and registered credentials.
func (e *Engine) CheckAssertion(ctx context.Context, accountID string, assertion webauthn.Assertion) (bool, error) {
	return e.webauthn.Verify(ctx, accountID, assertion)
}

// BeginChallenge issues a fresh WebAuthn challenge for the account.
func (e *Engine) BeginChallenge(ctx context.Context, accountID string) (webauthn.Options, error) {
	return e.webauthn.Initiate(ctx, accountID)
}
