package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"room-broker/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange  = "chat.events"
	InboundExchange = "chat.inbound"
	InboundQueue    = "chat.inbound"

	MessagePublishedKey = "message.published"
	InboundSendKey      = "message.send"

	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// MessageEvent announces a message that was durably appended and broadcast.
type MessageEvent struct {
	Type        string         `json:"type"`
	Message     domain.Message `json:"message"`
	PublishedAt int64          `json:"published_at"`
}

// InboundMessage is a message another service asks the broker to publish,
// e.g. a bot reply or a system notice.
type InboundMessage struct {
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry keeps dialing with exponential backoff until the
// broker accepts the connection or ctx is done.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	backoff := initialBackoff
	for {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up connecting to RabbitMQ: %w", errors.Join(ctx.Err(), err))
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}

	if err := r.channel.ExchangeDeclare(
		InboundExchange, // name
		"direct",        // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	); err != nil {
		return fmt.Errorf("failed to declare inbound exchange: %w", err)
	}

	if _, err := r.channel.QueueDeclare(
		InboundQueue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", InboundQueue, err)
	}

	if err := r.channel.QueueBind(
		InboundQueue,    // queue name
		InboundSendKey,  // routing key
		InboundExchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind %s queue: %w", InboundQueue, err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// PublishMessageEvent implements domain.EventPublisher.
func (r *RabbitMQ) PublishMessageEvent(ctx context.Context, msg domain.Message) error {
	body, err := json.Marshal(MessageEvent{
		Type:        MessagePublishedKey,
		Message:     msg,
		PublishedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message event: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		EventsExchange,
		MessagePublishedKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message event: %w", err)
	}

	slog.Debug("published message event",
		slog.String("room_id", msg.RoomID),
		slog.String("message_id", msg.ID))
	return nil
}

// PublishInbound queues a message for the broker to publish. Other services
// use the same exchange and routing key.
func (r *RabbitMQ) PublishInbound(ctx context.Context, in InboundMessage) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal inbound message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		InboundExchange,
		InboundSendKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish inbound message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) ConsumeInbound() (<-chan amqp.Delivery, error) {
	msgs, err := r.channel.Consume(
		InboundQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming inbound messages",
		slog.String("queue", InboundQueue))
	return msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
