// Package registry tracks which sessions are subscribed to which rooms.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"room-broker/internal/domain"
)

// Subscriber is a session that can receive live room traffic.
type Subscriber interface {
	ID() string
	UserID() string
	Deliver(msg domain.Message) error
}

type room struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	retired     bool
}

// Registry maps room ids to their subscriber sets. Every room is locked on its
// own; the room index itself is a sync.Map so activity in one room never
// waits on another.
type Registry struct {
	rooms       sync.Map // room id -> *room
	memberships sync.Map // subscriber id -> room id
}

// New creates an empty registry
func New() *Registry {
	return &Registry{}
}

// Subscribe adds s to the room, creating the room on first use. Subscribing a
// session that is already in the room is a no-op.
func (r *Registry) Subscribe(roomID string, s Subscriber) error {
	if actual, loaded := r.memberships.LoadOrStore(s.ID(), roomID); loaded && actual.(string) != roomID {
		return fmt.Errorf("%w: session %s already subscribed to room %s", domain.ErrInvalidInput, s.ID(), actual)
	}

	for {
		v, _ := r.rooms.LoadOrStore(roomID, &room{subscribers: make(map[string]Subscriber)})
		rm := v.(*room)

		rm.mu.Lock()
		if rm.retired {
			// Lost a race with the last Unsubscribe; the next LoadOrStore creates a fresh room.
			rm.mu.Unlock()
			continue
		}
		rm.subscribers[s.ID()] = s
		rm.mu.Unlock()

		slog.Debug("subscriber added",
			slog.String("room_id", roomID),
			slog.String("session_id", s.ID()),
			slog.String("user_id", s.UserID()))
		return nil
	}
}

// Unsubscribe removes s from the room. Removing an absent session is not an error.
func (r *Registry) Unsubscribe(roomID string, s Subscriber) {
	r.memberships.CompareAndDelete(s.ID(), roomID)

	v, ok := r.rooms.Load(roomID)
	if !ok {
		return
	}
	rm := v.(*room)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.subscribers[s.ID()]; !ok {
		return
	}
	delete(rm.subscribers, s.ID())
	slog.Debug("subscriber removed",
		slog.String("room_id", roomID),
		slog.String("session_id", s.ID()))

	if len(rm.subscribers) == 0 && !rm.retired {
		rm.retired = true
		r.rooms.CompareAndDelete(roomID, rm)
	}
}

// ListSubscribers returns a snapshot of the room's subscribers. The slice is
// owned by the caller and unaffected by later subscribe/unsubscribe calls.
func (r *Registry) ListSubscribers(roomID string) []Subscriber {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return nil
	}
	rm := v.(*room)

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	out := make([]Subscriber, 0, len(rm.subscribers))
	for _, s := range rm.subscribers {
		out = append(out, s)
	}
	return out
}

// Count returns the number of subscribers currently in the room.
func (r *Registry) Count(roomID string) int {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return 0
	}
	rm := v.(*room)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.subscribers)
}

// Rooms lists the ids of rooms with at least one subscriber.
func (r *Registry) Rooms() []string {
	var ids []string
	r.rooms.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// RoomOf reports the room a subscriber id is registered in.
func (r *Registry) RoomOf(subscriberID string) (string, bool) {
	v, ok := r.memberships.Load(subscriberID)
	if !ok {
		return "", false
	}
	return v.(string), true
}
