package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"room-broker/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// MessageOptions allows customizing message fixture creation
type MessageOptions struct {
	ID        string
	RoomID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// NewTestMessage creates a test message with sensible defaults.
// Pass options to override specific fields
func NewTestMessage(opts ...func(*MessageOptions)) domain.Message {
	o := &MessageOptions{
		RoomID:    nextID("room"),
		SenderID:  nextID("user"),
		Content:   "Hello, World!",
		Timestamp: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(o)
	}

	// Derive the id from the final timestamp so id order matches time order
	if o.ID == "" {
		o.ID = domain.NewMessageID(o.Timestamp)
	}

	return domain.Message{
		ID:        o.ID,
		RoomID:    o.RoomID,
		SenderID:  o.SenderID,
		Content:   o.Content,
		Timestamp: o.Timestamp,
	}
}

// Message option functions

// WithMessageID sets the message ID
func WithMessageID(id string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ID = id
	}
}

// WithRoomID sets the room of the message
func WithRoomID(roomID string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.RoomID = roomID
	}
}

// WithSenderID sets the sender of the message
func WithSenderID(userID string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.SenderID = userID
	}
}

// WithContent sets the message content
func WithContent(content string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Content = content
	}
}

// WithTimestamp sets the message timestamp
func WithTimestamp(t time.Time) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Timestamp = t.UTC()
	}
}

// Batch creation helpers

// NewTestMessages creates count messages in the same room, one second apart
func NewTestMessages(roomID string, count int) []domain.Message {
	base := time.Now().UTC()
	messages := make([]domain.Message, count)
	for i := 0; i < count; i++ {
		messages[i] = NewTestMessage(
			WithRoomID(roomID),
			WithTimestamp(base.Add(time.Duration(i)*time.Second)),
		)
	}
	return messages
}

// ResetIDCounter resets the ID counter (useful for deterministic tests)
func ResetIDCounter() {
	idCounter.Store(0)
}
