package signin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sycy-station/misskey/internal/webauthn"
)

// Handler exposes the signin endpoint.
type Handler struct {
	svc         *Service
	instanceURL string
}

// NewHandler builds the signin HTTP handler.
func NewHandler(svc *Service, instanceURL string) *Handler {
	return &Handler{svc: svc, instanceURL: instanceURL}
}

// The username, password and token fields are decoded as raw JSON first
// so a non-string value is a 400 instead of a silent coercion.
type signinBody struct {
	Username   json.RawMessage `json:"username"`
	Password   json.RawMessage `json:"password"`
	Token      json.RawMessage `json:"token"`
	Credential json.RawMessage `json:"credential"`

	HcaptchaResponse  string `json:"hcaptcha-response"`
	McaptchaResponse  string `json:"m-captcha-response"`
	RecaptchaResponse string `json:"g-recaptcha-response"`
	TurnstileResponse string `json:"turnstile-response"`
}

type errorBody struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	ID      string `json:"id"`
}

// Signin handles POST /api/signin.
func (h *Handler) Signin(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAccessControlAllowOrigin, h.instanceURL)
	c.Set(fiber.HeaderAccessControlAllowCredentials, "true")

	var body signinBody
	if err := c.BodyParser(&body); err != nil {
		return c.SendStatus(http.StatusBadRequest)
	}

	req := Request{
		IP:      c.IP(),
		Headers: requestHeaders(c),
	}

	var ok bool
	if req.Username, ok = asString(body.Username, false); !ok {
		return c.SendStatus(http.StatusBadRequest)
	}
	if req.Password, ok = asString(body.Password, false); !ok {
		return c.SendStatus(http.StatusBadRequest)
	}
	if req.Token, ok = asString(body.Token, true); !ok {
		return c.SendStatus(http.StatusBadRequest)
	}
	if len(body.Credential) > 0 && !isJSONNull(body.Credential) {
		var assertion webauthn.Assertion
		if err := json.Unmarshal(body.Credential, &assertion); err != nil {
			return c.SendStatus(http.StatusBadRequest)
		}
		req.Credential = &assertion
	}

	req.Captcha.Hcaptcha = body.HcaptchaResponse
	req.Captcha.Mcaptcha = body.McaptchaResponse
	req.Captcha.Recaptcha = body.RecaptchaResponse
	req.Captcha.Turnstile = body.TurnstileResponse

	result, err := h.svc.Signin(c.UserContext(), req)
	if err != nil {
		var serr *Error
		if !errors.As(err, &serr) {
			serr = ErrInternal
		}
		return c.Status(serr.Status).JSON(fiber.Map{"error": errorBody{
			Message: serr.Message,
			Code:    serr.Code,
			ID:      serr.ID,
		}})
	}

	if result.Challenge != nil {
		return c.Status(http.StatusOK).JSON(result.Challenge)
	}
	return c.Status(http.StatusOK).JSON(result.Session)
}

// asString decodes a raw JSON value that must be a string. When optional,
// absence and null are allowed and yield the empty string.
func asString(raw json.RawMessage, optional bool) (string, bool) {
	if len(raw) == 0 || isJSONNull(raw) {
		return "", optional
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func requestHeaders(c *fiber.Ctx) map[string]string {
	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	return headers
}
