package domain

import "context"

// RoomDirectory answers whether a well-formed room id names an existing room.
// It is owned by the room-management collaborator.
type RoomDirectory interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
}

// PresenceTracker records which users hold an open session in a room.
type PresenceTracker interface {
	Join(ctx context.Context, roomID, userID, sessionID string) error
	// Refresh keeps an open session's entry from expiring.
	Refresh(ctx context.Context, roomID, userID, sessionID string) error
	Leave(ctx context.Context, roomID, userID, sessionID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
}

// EventPublisher notifies downstream consumers about accepted messages.
type EventPublisher interface {
	PublishMessageEvent(ctx context.Context, msg Message) error
}
