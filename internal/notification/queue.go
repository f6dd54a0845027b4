package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitPublisher publishes JSON jobs to durable RabbitMQ queues through the
// default exchange.
type RabbitPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitPublisher dials url and declares every queue in queues.
func NewRabbitPublisher(url string, queues ...string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(
			q,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,
		); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}
	return &RabbitPublisher{conn: conn, ch: ch}, nil
}

// Close closes the channel and the connection.
func (p *RabbitPublisher) Close() error {
	if p == nil {
		return nil
	}
	return errors.Join(p.ch.Close(), p.conn.Close())
}

// PublishJSON publishes body as a persistent message on queue.
func (p *RabbitPublisher) PublishJSON(ctx context.Context, queue string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         b,
		},
	)
}

// JSONPublisher puts a job on a named queue.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, queue string, body any) error
}

// QueueSender hands emails and text messages to out-of-process workers as
// queue jobs.
type QueueSender struct {
	publisher  JSONPublisher
	emailQueue string
	smsQueue   string
}

// NewQueueSender creates a sender publishing to emailQueue and smsQueue.
func NewQueueSender(publisher JSONPublisher, emailQueue, smsQueue string) *QueueSender {
	return &QueueSender{publisher: publisher, emailQueue: emailQueue, smsQueue: smsQueue}
}

// SendEmail implements EmailSender.
func (q *QueueSender) SendEmail(ctx context.Context, msg Email) error {
	return q.publisher.PublishJSON(ctx, q.emailQueue, msg)
}

// SendSMS implements SMSSender.
func (q *QueueSender) SendSMS(ctx context.Context, msg SMS) error {
	return q.publisher.PublishJSON(ctx, q.smsQueue, msg)
}
