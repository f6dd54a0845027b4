package notification

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the logger instead of delivering them. It is
// meant for development. Bodies are only logged at debug level.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a new log sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendEmail implements EmailSender.
func (l *LogSender) SendEmail(ctx context.Context, msg Email) error {
	l.logger.InfoContext(ctx, "email not delivered (log provider)", "to", msg.To, "subject", msg.Subject)
	l.logger.DebugContext(ctx, "email body", "to", msg.To, "text", msg.Text)
	return nil
}

// SendSMS implements SMSSender.
func (l *LogSender) SendSMS(ctx context.Context, msg SMS) error {
	l.logger.InfoContext(ctx, "sms not delivered (log provider)", "to", msg.To)
	l.logger.DebugContext(ctx, "sms body", "to", msg.To, "body", msg.Body)
	return nil
}
