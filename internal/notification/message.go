package notification

import "context"

// Email is a rendered email ready for delivery.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
}

// SMS is a rendered text message ready for delivery.
type SMS struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// EmailSender delivers emails.
type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) error
}

// SMSSender delivers text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, msg SMS) error
}
