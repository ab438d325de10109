package domain

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Message is an immutable chat message accepted by the broker.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStore is the durable, append-only per-room message log.
type MessageStore interface {
	// Append atomically persists one message. Appending an already stored
	// (room, id) pair succeeds without writing a second record.
	Append(ctx context.Context, msg Message) error
	// History returns a snapshot of the room ordered by timestamp, then id.
	History(ctx context.Context, roomID string) ([]Message, error)
	Close() error
}

// NewMessageID derives an id from the send time. The zero padded nanosecond
// prefix makes lexicographic id order match timestamp order.
func NewMessageID(ts time.Time) string {
	return fmt.Sprintf("%019d-%s", ts.UnixNano(), uuid.NewString())
}

// Before reports whether a sorts before b in room order.
func (m Message) Before(b Message) bool {
	return CompareMessages(m, b) < 0
}

// CompareMessages orders by timestamp with the id as tie-break.
func CompareMessages(a, b Message) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortMessages sorts msgs in place in room order.
func SortMessages(msgs []Message) {
	slices.SortFunc(msgs, CompareMessages)
}

// MergeByID unions a locally cached view with freshly fetched history.
// Fetched records win on id conflicts; the result is in room order.
func MergeByID(cached, fetched []Message) []Message {
	byID := lo.KeyBy(cached, func(m Message) string { return m.ID })
	for _, m := range fetched {
		byID[m.ID] = m
	}
	merged := lo.Values(byID)
	SortMessages(merged)
	return merged
}
