// Package webauthn manages WebAuthn authentication challenges for the
// signin flow. Assertion signature verification itself is delegated to a
// CredentialChecker; this package owns the challenge lifecycle: issue,
// expire, consume exactly once.
package webauthn

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ChallengeTTL bounds how long an issued challenge stays valid.
const ChallengeTTL = 5 * time.Minute

const challengeBytes = 32

// ErrNoChallenge is returned when no outstanding challenge exists for the
// account, either because none was issued, it expired, or it was already
// consumed.
var ErrNoChallenge = errors.New("no outstanding webauthn challenge")

// Options is the challenge payload returned to the client, shaped like a
// PublicKeyCredentialRequestOptions object.
type Options struct {
	Challenge        string `json:"challenge"`
	Timeout          int64  `json:"timeout"`
	RPID             string `json:"rpId,omitempty"`
	UserVerification string `json:"userVerification"`
}

// Assertion is the authentication response a client submits after signing
// a challenge.
type Assertion struct {
	ID       string            `json:"id"`
	RawID    string            `json:"rawId"`
	Type     string            `json:"type"`
	Response AssertionResponse `json:"response"`
}

// AssertionResponse holds the signed material, base64url encoded.
type AssertionResponse struct {
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle,omitempty"`
}

// ChallengeStore persists outstanding challenges keyed by account id.
// Create replaces any previous challenge; Consume removes atomically so a
// challenge verifies at most once.
type ChallengeStore interface {
	Create(ctx context.Context, accountID, challenge string, ttl time.Duration) error
	Consume(ctx context.Context, accountID string) (string, error)
}

// CredentialChecker validates an assertion's signature against the
// account's registered credentials and the expected challenge. The
// cryptographic verification lives outside this core.
type CredentialChecker interface {
	Check(ctx context.Context, accountID, challenge string, assertion Assertion) (bool, error)
}

// Verifier issues and settles WebAuthn authentication challenges.
type Verifier struct {
	store   ChallengeStore
	checker CredentialChecker
	rpID    string
}

// NewVerifier builds a challenge verifier.
func NewVerifier(store ChallengeStore, checker CredentialChecker, rpID string) *Verifier {
	return &Verifier{store: store, checker: checker, rpID: rpID}
}

// Initiate issues a fresh challenge for the account, invalidating any
// outstanding one.
func (v *Verifier) Initiate(ctx context.Context, accountID string) (Options, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return Options{}, fmt.Errorf("generate challenge: %w", err)
	}
	challenge := base64.RawURLEncoding.EncodeToString(buf)

	if err := v.store.Create(ctx, accountID, challenge, ChallengeTTL); err != nil {
		return Options{}, fmt.Errorf("store challenge: %w", err)
	}

	return Options{
		Challenge:        challenge,
		Timeout:          ChallengeTTL.Milliseconds(),
		RPID:             v.rpID,
		UserVerification: "preferred",
	}, nil
}

// Verify consumes the account's outstanding challenge and checks the
// assertion against it. A missing or expired challenge reports not
// authorized rather than an error; replaying an assertion after its
// challenge was consumed therefore always fails.
func (v *Verifier) Verify(ctx context.Context, accountID string, assertion Assertion) (bool, error) {
	challenge, err := v.store.Consume(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNoChallenge) {
			return false, nil
		}
		return false, err
	}
	return v.checker.Check(ctx, accountID, challenge, assertion)
}
