package signin

import "net/http"

// Error is a terminal signin failure. Every branch carries a stable ID so
// clients can disambiguate programmatically without parsing messages; the
// IDs are part of the wire contract and must never change.
type Error struct {
	Status  int
	Code    string
	ID      string
	Message string

	// Outcome labels the branch for metrics.
	Outcome string
	// Recorded marks branches that persist a failed signin attempt.
	Recorded bool
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "signin failed: " + e.ID
}

var (
	// ErrRateLimited rejects before any credential work happens.
	ErrRateLimited = &Error{
		Status:  http.StatusTooManyRequests,
		Code:    "TOO_MANY_AUTHENTICATION_FAILURES",
		ID:      "22d05606-fbcf-421a-a2db-b32610dcfd1b",
		Message: "Too many failed attempts to sign in. Try again later.",
		Outcome: "rate_limited",
	}

	// ErrIdentityNotFound reports an unknown username. Deliberately
	// distinguishable from a wrong password; see DESIGN.md.
	ErrIdentityNotFound = &Error{
		Status:  http.StatusNotFound,
		ID:      "6cc579cc-885d-43d8-95c2-b8c7fc963280",
		Outcome: "not_found",
	}

	// ErrSuspended rejects suspended accounts.
	ErrSuspended = &Error{
		Status:  http.StatusForbidden,
		ID:      "e03a5f46-d309-4865-9b69-56282d94e1eb",
		Outcome: "suspended",
	}

	// ErrSystemAccount rejects instance-internal actors with the same
	// externally observable shape as a suspension.
	ErrSystemAccount = &Error{
		Status:  http.StatusForbidden,
		ID:      "s8dhsj9s-a93j-493j-ja9k-kas9sj20aml2",
		Outcome: "system_account",
	}

	// ErrApprovalPending rejects accounts an admin has not approved yet.
	ErrApprovalPending = &Error{
		Status:  http.StatusForbidden,
		Code:    "NOT_APPROVED",
		ID:      "22d05606-fbcf-421a-a2db-b32241faft1b",
		Message: "The account has not been approved by an admin yet. Try again later.",
		Outcome: "approval_pending",
	}

	// ErrInvalidCredentials reports a password mismatch. A failure record
	// is written.
	ErrInvalidCredentials = &Error{
		Status:   http.StatusForbidden,
		ID:       "932c904e-9460-45b7-9ce6-7ed33be7eb2c",
		Outcome:  "invalid_credentials",
		Recorded: true,
	}

	// ErrInvalidTOTP reports a one-time token that failed to verify. A
	// failure record is written.
	ErrInvalidTOTP = &Error{
		Status:   http.StatusForbidden,
		ID:       "cdf1235b-ac71-46d4-a3a6-84ccce48df6f",
		Outcome:  "invalid_totp",
		Recorded: true,
	}

	// ErrInvalidWebAuthn reports an assertion that failed to verify. A
	// failure record is written.
	ErrInvalidWebAuthn = &Error{
		Status:   http.StatusForbidden,
		ID:       "93b86c4b-72f9-40eb-9815-798928603d1e",
		Outcome:  "invalid_webauthn",
		Recorded: true,
	}

	// ErrCaptchaFailed rejects when an enabled captcha provider did not
	// accept the response. Precedes credential-outcome recording.
	ErrCaptchaFailed = &Error{
		Status:  http.StatusBadRequest,
		ID:      "0b4fcf93-5c46-4e4e-8c82-53ca36a56bc9",
		Outcome: "captcha_failed",
	}

	// ErrInternal covers storage and collaborator failures during
	// verification.
	ErrInternal = &Error{
		Status:  http.StatusInternalServerError,
		ID:      "4e30e80c-e338-45a0-8c8f-44455efa3b76",
		Outcome: "internal_error",
	}
)

// withMessage clones the branch error with a human-readable message,
// keeping the stable ID.
func (e *Error) withMessage(msg string) *Error {
	clone := *e
	clone.Message = msg
	return &clone
}
