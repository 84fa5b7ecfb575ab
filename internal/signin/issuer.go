package signin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sycy-station/misskey/internal/account"
	"github.com/sycy-station/misskey/internal/email"
	"github.com/sycy-station/misskey/internal/events"
	"github.com/sycy-station/misskey/internal/id"
	"github.com/sycy-station/misskey/internal/notification"
)

const (
	issuerQueueSize   = 256
	sideEffectTimeout = 30 * time.Second

	securityNoticeSubject = "New login / 有一个新登录"
	securityNoticeText    = "There is a new login. If you do not recognize this login, " +
		"update the security status of your account, including changing your password. / " +
		"有新的登录记录。如果您不认识此登录，请及时更新您账户的安全设置，包括更改密码。"
)

// Session is the successful signin response body. The token field is
// named "i" on the wire for client compatibility.
type Session struct {
	ID    string `json:"id"`
	Token string `json:"i"`
}

type issueTask struct {
	account account.Account
	ip      string
	headers map[string]string
}

// Issuer grants sessions and runs the post-success side effects off the
// request path: login notification, success record, live event, and a
// security notice email when a verified address exists. The caller gets
// its session back immediately; side-effect failures are logged and
// swallowed, never surfaced, and never roll back the session.
type Issuer struct {
	accounts account.Repository
	attempts AttemptRepository
	notifier notification.Notifier
	events   events.Publisher
	mailer   email.Sender
	ids      id.Generator
	logger   *slog.Logger

	queue   chan issueTask
	done    chan struct{}
	closing sync.Once
}

// NewIssuer builds an Issuer and starts its worker.
func NewIssuer(
	accounts account.Repository,
	attempts AttemptRepository,
	notifier notification.Notifier,
	publisher events.Publisher,
	mailer email.Sender,
	ids id.Generator,
	logger *slog.Logger,
) *Issuer {
	i := &Issuer{
		accounts: accounts,
		attempts: attempts,
		notifier: notifier,
		events:   publisher,
		mailer:   mailer,
		ids:      ids,
		logger:   logger,
		queue:    make(chan issueTask, issuerQueueSize),
		done:     make(chan struct{}),
	}
	go i.run()
	return i
}

// Issue grants a session for a verified account. The side effects are
// handed to the worker queue; this call never waits on them.
func (i *Issuer) Issue(acct account.Account, ip string, headers map[string]string) Session {
	select {
	case i.queue <- issueTask{account: acct, ip: ip, headers: headers}:
	default:
		// Side effects are best-effort; a full queue must not stall signin.
		i.logger.Warn("issuer queue full, dropping side effects", "account_id", acct.ID)
	}
	return Session{ID: acct.ID, Token: acct.Token}
}

// Close stops accepting work and waits for queued side effects to finish.
// Safe to call more than once.
func (i *Issuer) Close() {
	i.closing.Do(func() { close(i.queue) })
	<-i.done
}

func (i *Issuer) run() {
	defer close(i.done)
	for task := range i.queue {
		i.process(task)
	}
}

func (i *Issuer) process(task issueTask) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	acct := task.account

	if err := i.notifier.Send(ctx, notification.Message{
		Kind:      notification.KindLogin,
		AccountID: acct.ID,
	}); err != nil {
		i.logger.Warn("login notification failed", "account_id", acct.ID, "error", err)
	}

	attempt := Attempt{
		ID:        i.ids.New(),
		AccountID: acct.ID,
		IP:        task.ip,
		Headers:   task.headers,
		Success:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := i.attempts.Insert(ctx, attempt); err != nil {
		i.logger.Error("success attempt record failed", "account_id", acct.ID, "error", err)
	}

	if err := i.events.PublishMainStream(ctx, acct.ID, "signin", attempt); err != nil {
		i.logger.Warn("signin event publish failed", "account_id", acct.ID, "error", err)
	}

	profile, err := i.accounts.FindProfile(ctx, acct.ID)
	if err != nil {
		i.logger.Warn("profile lookup for security notice failed", "account_id", acct.ID, "error", err)
		return
	}
	if to := profile.VerifiedEmail(); to != "" {
		if err := i.mailer.Send(ctx, to, securityNoticeSubject, securityNoticeText); err != nil {
			i.logger.Warn("security notice email failed", "account_id", acct.ID, "error", err)
		}
	}
}
