package captcha

import (
	"context"

	"github.com/sycy-station/misskey/internal/config"
)

// Responses carries the per-provider tokens submitted with a request.
type Responses struct {
	Hcaptcha  string
	Mcaptcha  string
	Recaptcha string
	Turnstile string
}

// Gate applies the instance captcha policy: every provider that is both
// enabled and fully configured must pass. Partially configured providers
// are skipped, and nothing runs in test mode.
type Gate struct {
	settings config.Captcha
	testMode bool
	client   *Client
}

// NewGate builds a Gate from instance settings.
func NewGate(settings config.Captcha, testMode bool, client *Client) *Gate {
	if client == nil {
		client = NewClient()
	}
	return &Gate{settings: settings, testMode: testMode, client: client}
}

// Check verifies the submitted responses against all applicable
// providers. The first failure aborts with an error wrapping ErrFailed.
func (g *Gate) Check(ctx context.Context, responses Responses) error {
	if g.testMode {
		return nil
	}
	s := g.settings

	if s.EnableHcaptcha && s.HcaptchaSecret != "" {
		if err := g.client.VerifyHcaptcha(ctx, s.HcaptchaSecret, responses.Hcaptcha); err != nil {
			return err
		}
	}
	if s.EnableMcaptcha && s.McaptchaSecret != "" && s.McaptchaSitekey != "" && s.McaptchaInstanceURL != "" {
		if err := g.client.VerifyMcaptcha(ctx, s.McaptchaSecret, s.McaptchaSitekey, s.McaptchaInstanceURL, responses.Mcaptcha); err != nil {
			return err
		}
	}
	if s.EnableRecaptcha && s.RecaptchaSecret != "" {
		if err := g.client.VerifyRecaptcha(ctx, s.RecaptchaSecret, responses.Recaptcha); err != nil {
			return err
		}
	}
	if s.EnableTurnstile && s.TurnstileSecret != "" {
		if err := g.client.VerifyTurnstile(ctx, s.TurnstileSecret, responses.Turnstile); err != nil {
			return err
		}
	}
	return nil
}
