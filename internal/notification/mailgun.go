package notification

import (
	"context"
	"time"

	mg "github.com/mailgun/mailgun-go/v4"
)

const mailgunTimeout = 10 * time.Second

// MailgunSender delivers emails through the Mailgun API.
type MailgunSender struct {
	client *mg.MailgunImpl
	sender string
}

// NewMailgunSender creates a sender for domain authenticated with apiKey.
func NewMailgunSender(domain, apiKey, sender string) *MailgunSender {
	return &MailgunSender{client: mg.NewMailgun(domain, apiKey), sender: sender}
}

// SendEmail implements EmailSender.
func (m *MailgunSender) SendEmail(ctx context.Context, msg Email) error {
	message := m.client.NewMessage(m.sender, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}
	ctx, cancel := context.WithTimeout(ctx, mailgunTimeout)
	defer cancel()
	_, _, err := m.client.Send(ctx, message)
	return err
}
