package notify

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/giftbox/internal/domain/order"
)

const (
	exchangeName = "giftbox.notifications"
	routingKey   = "email.order_confirmation"
	queueName    = "giftbox.email.q"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ order.Notifier = (*EmailQueue)(nil)

// EmailQueue publishes order confirmation email jobs.
type EmailQueue struct {
	ch publisher
}

// Dial opens a connection and channel to the broker at url.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// NewEmailQueue declares the exchange, queue and binding once at startup.
func NewEmailQueue(ch *amqp.Channel) (*EmailQueue, error) {
	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	return &EmailQueue{ch: ch}, nil
}

// Notify enqueues the confirmation email for o. The order number is used as
// the message ID so the mail worker can drop duplicates.
func (q *EmailQueue) Notify(ctx context.Context, o *order.Order) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    o.Number,
		Body:         encodeEmailJob(o),
	}
	if err := q.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish email job: %w", err)
	}
	return nil
}
