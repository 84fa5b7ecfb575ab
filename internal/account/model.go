package account

import (
	"strings"
	"time"
)

// Account represents a locally-hosted user account. Accounts are created
// elsewhere; the signin flow only reads them, except for the opportunistic
// approval grant.
type Account struct {
	ID          string
	Username    string
	Host        string // empty for local accounts
	Token       string // native API token, returned on successful signin
	IsSuspended bool
	Approved    bool
	CreatedAt   time.Time
}

// IsSystem reports whether the account is an instance-internal actor
// rather than a human user. System account usernames contain a dot,
// which registration forbids for humans.
func (a Account) IsSystem() bool {
	return strings.Contains(a.Username, ".")
}

// Profile holds the per-account credential material, owned 1:1 by Account.
type Profile struct {
	AccountID            string
	Password             *string // argon2id or legacy bcrypt hash; nil for passwordless-only accounts
	TwoFactorEnabled     bool
	TwoFactorSecret      *string
	UsePasswordlessLogin bool
	Email                *string
	EmailVerified        bool
}

// VerifiedEmail returns the profile's email when it exists and has been
// confirmed, otherwise the empty string.
func (p Profile) VerifiedEmail() string {
	if p.Email != nil && p.EmailVerified {
		return *p.Email
	}
	return ""
}
