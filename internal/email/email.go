// Package email sends transactional mail.
package email

import (
	"context"
	"log/slog"
)

// Sender delivers a plain-text email.
type Sender interface {
	Send(ctx context.Context, to, subject, text string) error
}

// LoggerSender is a stub implementation that writes mail to the logger.
// Production deployments plug in a real delivery backend here.
type LoggerSender struct {
	logger *slog.Logger
}

// NewLoggerSender constructs a logging sender stub.
func NewLoggerSender(logger *slog.Logger) *LoggerSender {
	return &LoggerSender{logger: logger}
}

// Send writes the mail to the structured logger.
func (s *LoggerSender) Send(_ context.Context, to, subject, text string) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Info("email", "to", to, "subject", subject, "text", text)
	return nil
}
