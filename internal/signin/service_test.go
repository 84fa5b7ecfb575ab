package signin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sycy-station/misskey/internal/account"
	"github.com/sycy-station/misskey/internal/captcha"
	"github.com/sycy-station/misskey/internal/config"
	"github.com/sycy-station/misskey/internal/email"
	"github.com/sycy-station/misskey/internal/events"
	"github.com/sycy-station/misskey/internal/id"
	"github.com/sycy-station/misskey/internal/logging"
	"github.com/sycy-station/misskey/internal/metrics"
	"github.com/sycy-station/misskey/internal/notification"
	"github.com/sycy-station/misskey/internal/password"
	"github.com/sycy-station/misskey/internal/ratelimit"
	"github.com/sycy-station/misskey/internal/twofactor"
	"github.com/sycy-station/misskey/internal/webauthn"
)

// allowAll passes every request through the limiter.
type allowAll struct{}

func (allowAll) Limit(context.Context, string, ratelimit.Policy) error { return nil }

// fakeTOTP accepts exactly one token value.
type fakeTOTP struct {
	valid string
	calls int
}

func (f *fakeTOTP) Check(_, token string) bool {
	f.calls++
	return token == f.valid
}

// countingVerifier wraps the real verifier and counts invocations.
type countingVerifier struct {
	inner *password.Verifier
	calls int
}

func (c *countingVerifier) Verify(stored *string, candidate string) (password.Result, error) {
	c.calls++
	return c.inner.Verify(stored, candidate)
}

func (c *countingVerifier) Hash(candidate string) (string, error) {
	return c.inner.Hash(candidate)
}

// signerChecker authorizes assertions carrying the challenge it signed.
type signerChecker struct {
	signed string
}

func (s *signerChecker) Check(_ context.Context, _, challenge string, _ webauthn.Assertion) (bool, error) {
	return challenge == s.signed, nil
}

type fixture struct {
	repo     *account.MemoryRepository
	attempts *MemoryAttemptRepository
	totp     *fakeTOTP
	checker  *signerChecker
	verifier *countingVerifier
	issuer   *Issuer
	svc      *Service
}

type fixtureOpts struct {
	limiter          ratelimit.Limiter
	gate             *captcha.Gate
	approvalRequired bool
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	logger := logging.Discard()
	repo := account.NewMemoryRepository()
	attempts := NewMemoryAttemptRepository()
	ids := id.NewSequence("att")

	totp := &fakeTOTP{valid: "123456"}
	checker := &signerChecker{}
	waVerifier := webauthn.NewVerifier(webauthn.NewMemoryChallengeStore(), checker, "example.test")

	issuer := NewIssuer(
		repo,
		attempts,
		notification.NewLoggerNotifier(logger),
		events.NewLoggerPublisher(logger),
		email.NewLoggerSender(logger),
		ids,
		logger,
	)
	t.Cleanup(issuer.Close)

	limiter := opts.limiter
	if limiter == nil {
		limiter = allowAll{}
	}
	gate := opts.gate
	if gate == nil {
		gate = captcha.NewGate(config.Captcha{}, false, nil)
	}

	verifier := &countingVerifier{inner: password.NewVerifier()}
	svc := NewService(Deps{
		Accounts:         repo,
		Attempts:         attempts,
		Limiter:          limiter,
		Passwords:        verifier,
		Captcha:          gate,
		Engine:           twofactor.NewEngine(totp, waVerifier),
		Issuer:           issuer,
		IDs:              ids,
		Logger:           logger,
		Metrics:          metrics.New(),
		ApprovalRequired: opts.approvalRequired,
	})

	return &fixture{
		repo:     repo,
		attempts: attempts,
		totp:     totp,
		checker:  checker,
		verifier: verifier,
		issuer:   issuer,
		svc:      svc,
	}
}

func mustHash(t *testing.T, candidate string) *string {
	t.Helper()
	hash, err := password.NewVerifier().Hash(candidate)
	require.NoError(t, err)
	return &hash
}

func bcryptHash(t *testing.T, candidate string) string {
	t.Helper()
	raw, err := bcrypt.GenerateFromPassword([]byte(candidate), bcrypt.MinCost)
	require.NoError(t, err)
	return string(raw)
}

// failingGate enables hcaptcha so that the empty submitted response is
// rejected without any network round trip.
func failingGate(t *testing.T) *captcha.Gate {
	t.Helper()
	return captcha.NewGate(config.Captcha{
		EnableHcaptcha: true,
		HcaptchaSecret: "secret",
	}, false, nil)
}

func baseRequest() Request {
	return Request{
		Username: "alice",
		Password: "pass",
		IP:       "198.51.100.7",
		Headers:  map[string]string{"User-Agent": "test"},
	}
}

func (f *fixture) putAlice(profile account.Profile) account.Account {
	acct := account.Account{ID: "acct-1", Username: "alice", Token: "native-token", Approved: true}
	f.repo.Put(acct, profile)
	return acct
}

// drain waits until the issuer has processed queued side effects.
func (f *fixture) drain() {
	f.issuer.Close()
}

func failures(attempts []Attempt) int {
	n := 0
	for _, a := range attempts {
		if !a.Success {
			n++
		}
	}
	return n
}

func successes(attempts []Attempt) int {
	n := 0
	for _, a := range attempts {
		if a.Success {
			n++
		}
	}
	return n
}

func TestPasswordOnlySuccess(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.putAlice(account.Profile{Password: mustHash(t, "pass")})

	res, err := f.svc.Signin(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "acct-1", res.Session.ID)
	assert.Equal(t, "native-token", res.Session.Token)
	assert.Nil(t, res.Challenge)

	f.drain()
	all := f.attempts.All()
	assert.Equal(t, 1, successes(all), "exactly one success record")
	assert.Equal(t, 0, failures(all))
}

func TestPasswordOnlyWrongPassword(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.putAlice(account.Profile{Password: mustHash(t, "pass")})

	req := baseRequest()
	req.Password = "nope"
	_, err := f.svc.Signin(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	f.drain()
	all := f.attempts.All()
	assert.Equal(t, 1, failures(all), "exactly one failure record")
	assert.Equal(t, 0, successes(all))
}

func TestUsernameIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.putAlice(account.Profile{Password: mustHash(t, "pass")})

	req := baseRequest()
	req.Username = "ALICE"
	res, err := f.svc.Signin(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
}

func TestUnknownUsername(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.svc.Signin(context.Background(), baseRequest())
	assert.ErrorIs(t, err, ErrIdentityNotFound)

	f.drain()
	assert.Empty(t, f.attempts.All(), "no record before identity resolution")
}

func TestSuspendedAccountNeverReachesVerifier(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	acct := account.Account{ID: "acct-1", Username: "alice", Token: "tok", Approved: true, IsSuspended: true}
	f.repo.Put(acct, account.Profile{Password: mustHash(t, "pass")})

	_, err := f.svc.Signin(context.Background(), baseRequest())
	assert.ErrorIs(t, err, ErrSuspended)
	assert.Zero(t, f.verifier.calls, "suspended account must not reach password verification")

	f.drain()
	assert.Empty(t, f.attempts.All())
}

func TestSystemAccountNeverReachesVerifier(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	acct := account.Account{ID: "acct-1", Username: "instance.actor", Token: "tok", Approved: true}
	f.repo.Put(acct, account.Profile{Password: mustHash(t, "pass")})

	req := baseRequest()
	req.Username = "instance.actor"
	_, err := f.svc.Signin(context.Background(), req)
	assert.ErrorIs(t, err, ErrSystemAccount)
	assert.Zero(t, f.verifier.calls)
}

func TestApprovalPending(t *testing.T) {
	f := newFixture(t, fixtureOpts{approvalRequired: true})
	acct := account.Account{ID: "acct-1", Username: "alice", Token: "tok", Approved: false}
	f.repo.Put(acct, account.Profile{Password: mustHash(t, "pass")})

	_, err := f.svc.Signin(context.Background(), baseRequest())
	assert.ErrorIs(t, err, ErrApprovalPending)

	f.drain()
	assert.Empty(t, f.attempts.All())
}

func TestApprovalAutoGrant(t *testing.T) {
	f := newFixture(t, fixtureOpts{approvalRequired: false})
	acct := account.Account{ID: "acct-1", Username: "alice", Token: "tok", Approved: false}
	f.repo.Put(acct, account.Profile{Password: mustHash(t, "pass")})

	res, err := f.svc.Signin(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Session)

	got, ok := f.repo.Get("acct-1")
	require.True(t, ok)
	assert.True(t, got.Approved, "unapproved account must be approved on success")
}

func TestRateLimitBeforeIdentityLookup(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)
	limiter.SetClock(func() time.Time { return now })

	f := newFixture(t, fixtureOpts{limiter: limiter})
	f.putAlice(account.Profile{Password: mustHash(t, "pass")})

	// First attempt passes, the immediate second one violates the
	// minimum spacing even with correct credentials.
	_, err := f.svc.Signin(context.Background(), baseRequest())
	require.NoError(t, err)

	_, err = f.svc.Signin(context.Background(), baseRequest())
	assert.ErrorIs(t, err, ErrRateLimited)

	// Eleventh spaced attempt inside the hour hits the window cap.
	for i := 0; i < 9; i++ {
		now = now.Add(2 * time.Second)
		_, err = f.svc.Signin(context.Background(), baseRequest())
		require.NoError(t, err, "attempt %d", i+2)
	}
	now = now.Add(2 * time.Second)
	_, err = f.svc.Signin(context.Background(), baseRequest())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestLegacyHashMigrationOnSuccess(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	legacy := bcryptHash(t, "pass")
	f.putAlice(account.Profile{Password: &legacy})

	res, err := f.svc.Signin(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Session)

	profile, err := f.repo.FindProfile(context.Background(), "acct-1")
	require.NoError(t, err)
	require.NotNil(t, profile.Password)
	assert.Contains(t, *profile.Password, "$argon2id$", "hash must be migrated")

	verdict, err := password.NewVerifier().Verify(profile.Password, "pass")
	require.NoError(t, err)
	assert.True(t, verdict.Matched)
	assert.False(t, verdict.NeedsRehash, "migrated hash no longer needs the legacy path")
}

func TestTOTPSuccess(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	secret := "JBSWY3DPEHPK3PXP"
	f.putAlice(account.Profile{
		Password:         mustHash(t, "pass"),
		TwoFactorEnabled: true,
		TwoFactorSecret:  &secret,
	})

	req := baseRequest()
	req.Token = "123456"
	res, err := f.svc.Signin(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
}

func TestTOTPWrongToken(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	secret := "JBSWY3DPEHPK3PXP"
	f.putAlice(account.Profile{
		Password:         mustHash(t, "pass"),
		TwoFactorEnabled: true,
		TwoFactorSecret:  &secret,
	})

	req := baseRequest()
	req.Token = "000000"
	_, err := f.svc.Signin(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidTOTP)

	f.drain()
	assert.Equal(t, 1, failures(f.attempts.All()))
}

func TestTOTPWrongPasswordSkipsTokenCheck(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	secret := "JBSWY3DPEHPK3PXP"
	f.putAlice(account.Profile{
		Password:         mustHash(t, "pass"),
		TwoFactorEnabled: true,
		TwoFactorSecret:  &secret,
	})

	req := baseRequest()
	req.Password = "nope"
	req.Token = "123456"
	_, err := f.svc.Signin(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Zero(t, f.totp.calls, "TOTP must not be evaluated on password mismatch")

	f.drain()
	assert.Equal(t, 1, failures(f.attempts.All()))
}

func TestTOTPRehashSurvivesTokenFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	legacy := bcryptHash(t, "pass")
	secret := "JBSWY3DPEHPK3PXP"
	f.putAlice(account.Profile{
		Password:         &legacy,
		TwoFactorEnabled: true,
		TwoFactorSecret:  &secret,
	})

	req := baseRequest()
	req.Token = "000000"
	_, err := f.svc.Signin(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidTOTP)

	profile, err := f.repo.FindProfile(context.Background(), "acct-1")
	require.NoError(t, err)
	require.NotNil(t, profile.Password)
	assert.Contains(t, *profile.Password, "$argon2id$",
		"rehash happens after password match, before the token check")
}

func TestWebAuthnChallengeIssued(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.putAlice(account.Profile{
		Password:         mustHash(t, "pass"),
		TwoFactorEnabled: true,
	})

	res, err := f.svc.Signin(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Challenge)
	assert.NotEmpty(t, res.Challenge.Challenge)
	assert.Nil(t, res.Session)

	f.drain()
	assert.Empty(t, f.attempts.All(), "issuing a challenge records nothing")
}

func TestWebAuthnAssertionFlow(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.putAlice(account.Profile{
		Password:         mustHash(t, "pass"),
		TwoFactorEnabled: true,
	})
	ctx := context.Background()

	res, err := f.svc.Signin(ctx, baseRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Challenge)
	f.checker.signed = res.Challenge.Challenge

	req := baseRequest()
	req.Credential = &webauthn.Assertion{ID: "cred-1"}
	res, err = f.svc.Signin(ctx, req)
	require.NoError(t, err)
	assert.NotNil(t, res.Session)

	// Replaying the same assertion fails: the challenge was consumed.
	_, err = f.svc.Signin(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidWebAuthn)
}

func TestWebAuthnReinitiateInvalidatesChallenge(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.putAlice(account.Profile{
		Password:         mustHash(t, "pass"),
		TwoFactorEnabled: true,
	})
	ctx := context.Background()

	first, err := f.svc.Signin(ctx, baseRequest())
	require.NoError(t, err)
	second, err := f.svc.Signin(ctx, baseRequest())
	require.NoError(t, err)
	require.NotEqual(t, first.Challenge.Challenge, second.Challenge.Challenge)

	// Assertion signed over the first challenge must fail.
	f.checker.signed = first.Challenge.Challenge
	req := baseRequest()
	req.Credential = &webauthn.Assertion{ID: "cred-1"}
	_, err = f.svc.Signin(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidWebAuthn)
}

func TestWebAuthnRequiresPasswordOrPasswordless(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.putAlice(account.Profile{
		Password:         mustHash(t, "pass"),
		TwoFactorEnabled: true,
	})

	req := baseRequest()
	req.Password = "nope"
	req.Credential = &webauthn.Assertion{ID: "cred-1"}
	_, err := f.svc.Signin(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordlessLoginAllowsAssertionWithoutPassword(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.putAlice(account.Profile{
		TwoFactorEnabled:     true,
		UsePasswordlessLogin: true,
	})
	ctx := context.Background()

	req := baseRequest()
	req.Password = ""
	res, err := f.svc.Signin(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Challenge)
	f.checker.signed = res.Challenge.Challenge

	req.Credential = &webauthn.Assertion{ID: "cred-1"}
	res, err = f.svc.Signin(ctx, req)
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
}

func TestCaptchaFailureBeforeCredentialOutcome(t *testing.T) {
	gate := failingGate(t)
	f := newFixture(t, fixtureOpts{gate: gate})
	f.putAlice(account.Profile{Password: mustHash(t, "pass")})

	// Password is correct, captcha still aborts first.
	_, err := f.svc.Signin(context.Background(), baseRequest())
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrCaptchaFailed.ID, serr.ID)

	f.drain()
	assert.Empty(t, f.attempts.All(), "captcha failure precedes attempt recording")
}

func TestCaptchaProviderErrorIsClientError(t *testing.T) {
	// An unreachable or broken provider is still a captcha rejection,
	// never an internal error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := captcha.NewClient()
	client.HcaptchaEndpoint = srv.URL
	gate := captcha.NewGate(config.Captcha{
		EnableHcaptcha: true,
		HcaptchaSecret: "secret",
	}, false, client)

	f := newFixture(t, fixtureOpts{gate: gate})
	f.putAlice(account.Profile{Password: mustHash(t, "pass")})

	req := baseRequest()
	req.Captcha.Hcaptcha = "token"
	_, err := f.svc.Signin(context.Background(), req)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrCaptchaFailed.ID, serr.ID)
	assert.Equal(t, http.StatusBadRequest, serr.Status)

	f.drain()
	assert.Empty(t, f.attempts.All())
}

func TestCaptchaSkippedWhenSecondFactorEnrolled(t *testing.T) {
	gate := failingGate(t)
	f := newFixture(t, fixtureOpts{gate: gate})
	secret := "JBSWY3DPEHPK3PXP"
	f.putAlice(account.Profile{
		Password:         mustHash(t, "pass"),
		TwoFactorEnabled: true,
		TwoFactorSecret:  &secret,
	})

	req := baseRequest()
	req.Token = "123456"
	res, err := f.svc.Signin(context.Background(), req)
	require.NoError(t, err, "captcha only gates the no-second-factor path")
	assert.NotNil(t, res.Session)
}
