package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"room-broker/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher admits a message into a room.
type Publisher interface {
	Publish(ctx context.Context, roomID, senderID, content string) (domain.Message, error)
}

// InboundConsumer feeds messages queued by other services into the broker.
type InboundConsumer struct {
	rmq       *RabbitMQ
	publisher Publisher
}

func NewInboundConsumer(rmq *RabbitMQ, publisher Publisher) *InboundConsumer {
	return &InboundConsumer{
		rmq:       rmq,
		publisher: publisher,
	}
}

func (c *InboundConsumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.ConsumeInbound()
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping inbound consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("inbound consumer channel closed")
					return
				}
				c.handle(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *InboundConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	err := c.process(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			slog.Error("failed to ack inbound message", slog.String("error", ackErr.Error()))
		}
	case domain.IsRetryable(err):
		slog.Warn("requeueing inbound message",
			slog.String("error", err.Error()))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			slog.Error("failed to nack inbound message", slog.String("error", nackErr.Error()))
		}
	default:
		slog.Error("dropping inbound message",
			slog.String("error", err.Error()),
			slog.String("body", string(msg.Body)))
		if nackErr := msg.Nack(false, false); nackErr != nil {
			slog.Error("failed to nack inbound message", slog.String("error", nackErr.Error()))
		}
	}
}

// process publishes one queued message. Malformed payloads are reported as
// ErrInvalidInput so they are dropped instead of redelivered forever.
func (c *InboundConsumer) process(ctx context.Context, body []byte) error {
	var in InboundMessage
	if err := json.Unmarshal(body, &in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	msg, err := c.publisher.Publish(ctx, in.RoomID, in.SenderID, in.Content)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("failed to publish inbound message: %w", err)
	}

	slog.Info("published inbound message",
		slog.String("room_id", msg.RoomID),
		slog.String("sender_id", msg.SenderID),
		slog.String("message_id", msg.ID))
	return nil
}
