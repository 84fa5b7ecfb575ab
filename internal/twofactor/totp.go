// Package twofactor selects and verifies the second authentication factor
// during signin.
package twofactor

import (
	"github.com/pquerna/otp/totp"
)

// TOTPVerifier checks time-based one-time passwords.
type TOTPVerifier interface {
	Check(secret, token string) bool
}

// TOTP verifies tokens with the standard 30-second step.
type TOTP struct{}

// NewTOTP returns the production TOTP verifier.
func NewTOTP() *TOTP {
	return &TOTP{}
}

// Check reports whether token is currently valid for secret.
func (TOTP) Check(secret, token string) bool {
	return totp.Validate(token, secret)
}
