package notification

import (
	"fmt"
	"log/slog"

	"github.com/tendant/musa-idm/internal/config"
)

// Senders are the email and SMS senders selected by configuration.
type Senders struct {
	Email EmailSender
	SMS   SMSSender

	publisher *RabbitPublisher
}

// Close releases the queue connection, if any.
func (s *Senders) Close() error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Close()
}

// NewSenders builds the senders named by cfg.EmailProvider and cfg.SMSProvider.
func NewSenders(cfg config.NotificationConfig, logger *slog.Logger) (*Senders, error) {
	s := &Senders{}

	var queue *QueueSender
	if cfg.EmailProvider == "queue" || cfg.SMSProvider == "queue" {
		pub, err := NewRabbitPublisher(cfg.RabbitMQURL, cfg.EmailQueue, cfg.SMSQueue)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		s.publisher = pub
		queue = NewQueueSender(pub, cfg.EmailQueue, cfg.SMSQueue)
	}

	switch cfg.EmailProvider {
	case "smtp":
		s.Email = NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	case "mailgun":
		s.Email = NewMailgunSender(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender)
	case "queue":
		s.Email = queue
	case "log", "":
		s.Email = NewLogSender(logger)
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}

	switch cfg.SMSProvider {
	case "queue":
		s.SMS = queue
	case "log", "":
		s.SMS = NewLogSender(logger)
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unknown sms provider %q", cfg.SMSProvider)
	}
	return s, nil
}
