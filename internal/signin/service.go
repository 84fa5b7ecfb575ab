package signin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sycy-station/misskey/internal/account"
	"github.com/sycy-station/misskey/internal/captcha"
	"github.com/sycy-station/misskey/internal/id"
	"github.com/sycy-station/misskey/internal/metrics"
	"github.com/sycy-station/misskey/internal/password"
	"github.com/sycy-station/misskey/internal/ratelimit"
	"github.com/sycy-station/misskey/internal/twofactor"
	"github.com/sycy-station/misskey/internal/webauthn"
)

// Policy applied to the signin action: at most one attempt per second and
// ten per hour from the same client.
var signinRatePolicy = ratelimit.Policy{
	Window:      time.Hour,
	Max:         10,
	MinInterval: time.Second,
}

const signinAction = "signin"

// Request is a parsed, shape-validated signin request.
type Request struct {
	Username   string
	Password   string
	Token      string
	Credential *webauthn.Assertion
	Captcha    captcha.Responses

	IP      string
	Headers map[string]string
}

// Result is the positive outcome of a signin call: either a granted
// session or a WebAuthn challenge to answer in a follow-up call.
type Result struct {
	Session   *Session
	Challenge *webauthn.Options
}

// PasswordVerifier compares candidate passwords against stored hashes
// and produces hashes in the modern scheme.
type PasswordVerifier interface {
	Verify(stored *string, candidate string) (password.Result, error)
	Hash(candidate string) (string, error)
}

// Deps aggregates the collaborators the orchestrator sequences.
type Deps struct {
	Accounts  account.Repository
	Attempts  AttemptRepository
	Limiter   ratelimit.Limiter
	Passwords PasswordVerifier
	Captcha   *captcha.Gate
	Engine    *twofactor.Engine
	Issuer    *Issuer
	IDs       id.Generator
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	// ApprovalRequired gates unapproved accounts. When false, unapproved
	// accounts are approved opportunistically on successful signin.
	ApprovalRequired bool
}

// Service sequences the signin decision flow.
type Service struct {
	d Deps
}

// NewService builds the signin orchestrator.
func NewService(d Deps) *Service {
	return &Service{d: d}
}

// Signin decides whether a session may be granted. The returned error is
// always a *Error for policy rejections; collaborator failures come back
// as ErrInternal.
func (s *Service) Signin(ctx context.Context, req Request) (Result, error) {
	// Throttle before any credential work so existence probing stays
	// expensive for unauthenticated callers.
	key := ratelimit.Key(signinAction, ratelimit.IPHash(req.IP))
	if err := s.d.Limiter.Limit(ctx, key, signinRatePolicy); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			return s.reject(ErrRateLimited)
		}
		return s.internal("rate limiter", err)
	}

	acct, err := s.d.Accounts.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return s.reject(ErrIdentityNotFound)
		}
		return s.internal("account lookup", err)
	}

	if acct.IsSuspended {
		return s.reject(ErrSuspended)
	}
	if acct.IsSystem() {
		return s.reject(ErrSystemAccount)
	}

	profile, err := s.d.Accounts.FindProfile(ctx, acct.ID)
	if err != nil {
		return s.internal("profile lookup", err)
	}

	if !acct.Approved && s.d.ApprovalRequired {
		return s.reject(ErrApprovalPending)
	}

	verdict, err := s.d.Passwords.Verify(profile.Password, req.Password)
	if err != nil {
		return s.internal("password verify", err)
	}

	switch twofactor.PathFor(profile, req.Token != "", req.Credential != nil) {
	case twofactor.PathNone:
		return s.signinPasswordOnly(ctx, req, acct, verdict)
	case twofactor.PathTOTP:
		return s.signinTOTP(ctx, req, acct, profile, verdict)
	case twofactor.PathWebAuthnAssert:
		return s.signinWebAuthn(ctx, req, acct, profile, verdict)
	default:
		return s.signinChallenge(ctx, req, acct, profile, verdict)
	}
}

func (s *Service) signinPasswordOnly(ctx context.Context, req Request, acct account.Account, verdict password.Result) (Result, error) {
	// Captcha runs even when the password already matched: failing fast
	// on abuse signals takes priority over the credential outcome. Every
	// captcha failure is a client error, provider transport problems
	// included; an unreachable provider must not turn into a 500.
	if err := s.d.Captcha.Check(ctx, req.Captcha); err != nil {
		return s.reject(ErrCaptchaFailed.withMessage(err.Error()))
	}

	if !verdict.Matched {
		return s.fail(ctx, req, acct, ErrInvalidCredentials)
	}

	s.rehash(ctx, acct.ID, req.Password, verdict)
	return s.grant(ctx, req, acct)
}

func (s *Service) signinTOTP(ctx context.Context, req Request, acct account.Account, profile account.Profile, verdict password.Result) (Result, error) {
	if !verdict.Matched {
		return s.fail(ctx, req, acct, ErrInvalidCredentials)
	}

	// Rehash now that the password is confirmed: a failed token check
	// below must not void a legitimate hash upgrade.
	s.rehash(ctx, acct.ID, req.Password, verdict)

	if err := s.d.Engine.CheckTOTP(profile, req.Token); err != nil {
		return s.fail(ctx, req, acct, ErrInvalidTOTP)
	}

	return s.grant(ctx, req, acct)
}

func (s *Service) signinWebAuthn(ctx context.Context, req Request, acct account.Account, profile account.Profile, verdict password.Result) (Result, error) {
	if !verdict.Matched && !profile.UsePasswordlessLogin {
		return s.fail(ctx, req, acct, ErrInvalidCredentials)
	}

	authorized, err := s.d.Engine.CheckAssertion(ctx, acct.ID, *req.Credential)
	if err != nil {
		return s.internal("webauthn verify", err)
	}
	if !authorized {
		return s.fail(ctx, req, acct, ErrInvalidWebAuthn)
	}

	return s.grant(ctx, req, acct)
}

func (s *Service) signinChallenge(ctx context.Context, req Request, acct account.Account, profile account.Profile, verdict password.Result) (Result, error) {
	if !verdict.Matched && !profile.UsePasswordlessLogin {
		return s.fail(ctx, req, acct, ErrInvalidCredentials)
	}

	options, err := s.d.Engine.BeginChallenge(ctx, acct.ID)
	if err != nil {
		return s.internal("webauthn challenge", err)
	}

	s.d.Metrics.Observe("challenge")
	return Result{Challenge: &options}, nil
}

// grant approves the account when the deployment allows it and issues the
// session. Side effects run after the response; see Issuer.
func (s *Service) grant(ctx context.Context, req Request, acct account.Account) (Result, error) {
	if !s.d.ApprovalRequired && !acct.Approved {
		if err := s.d.Accounts.Approve(ctx, acct.ID); err != nil {
			s.d.Logger.Warn("opportunistic approval failed", "account_id", acct.ID, "error", err)
		}
	}

	session := s.d.Issuer.Issue(acct, req.IP, req.Headers)
	s.d.Metrics.Observe("success")
	return Result{Session: &session}, nil
}

// fail persists the failure record and returns the branch error. The
// record write is on the critical path: a storage error here outranks
// the credential outcome.
func (s *Service) fail(ctx context.Context, req Request, acct account.Account, serr *Error) (Result, error) {
	attempt := Attempt{
		ID:        s.d.IDs.New(),
		AccountID: acct.ID,
		IP:        req.IP,
		Headers:   req.Headers,
		Success:   false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.d.Attempts.Insert(ctx, attempt); err != nil {
		return s.internal("attempt record", err)
	}
	return s.reject(serr)
}

func (s *Service) reject(serr *Error) (Result, error) {
	s.d.Metrics.Observe(serr.Outcome)
	return Result{}, serr
}

func (s *Service) internal(op string, err error) (Result, error) {
	s.d.Logger.Error("signin collaborator failure", "op", op, "error", err)
	s.d.Metrics.Observe(ErrInternal.Outcome)
	return Result{}, ErrInternal
}

// rehash migrates a legacy hash to the modern scheme. Best effort: the
// current call's outcome never changes because of it.
func (s *Service) rehash(ctx context.Context, accountID, candidate string, verdict password.Result) {
	if !verdict.NeedsRehash {
		return
	}
	newHash, err := s.d.Passwords.Hash(candidate)
	if err != nil {
		s.d.Logger.Error("password rehash failed", "account_id", accountID, "error", err)
		return
	}
	if err := s.d.Accounts.UpdatePassword(ctx, accountID, newHash); err != nil {
		s.d.Logger.Error("password rehash persist failed", "account_id", accountID, "error", err)
	}
}
