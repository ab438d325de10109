// Package memory provides an in-process MessageStore used by tests and
// single-node development setups.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"room-broker/internal/domain"
)

type roomLog struct {
	mu       sync.RWMutex
	messages []domain.Message
	ids      map[string]struct{}
}

// MessageStore keeps each room's log behind its own lock.
type MessageStore struct {
	rooms       sync.Map // room id -> *roomLog
	unavailable atomic.Bool
	closed      atomic.Bool
}

// NewMessageStore creates an empty in-memory store
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// SetUnavailable simulates a backend outage: every call fails with
// domain.ErrStoreUnavailable until it is reset.
func (s *MessageStore) SetUnavailable(unavailable bool) {
	s.unavailable.Store(unavailable)
}

func (s *MessageStore) check() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store closed", domain.ErrStoreUnavailable)
	}
	if s.unavailable.Load() {
		return fmt.Errorf("%w: simulated outage", domain.ErrStoreUnavailable)
	}
	return nil
}

func (s *MessageStore) room(roomID string) *roomLog {
	if r, ok := s.rooms.Load(roomID); ok {
		return r.(*roomLog)
	}
	r, _ := s.rooms.LoadOrStore(roomID, &roomLog{ids: make(map[string]struct{})})
	return r.(*roomLog)
}

// Append inserts msg at its ordered position in the room log.
func (s *MessageStore) Append(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := s.check(); err != nil {
		return err
	}
	if err := domain.ValidateRoomID(msg.RoomID); err != nil {
		return err
	}

	r := s.room(msg.RoomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.ids[msg.ID]; dup {
		return nil
	}
	r.ids[msg.ID] = struct{}{}

	// Appends normally arrive in order; keep the log sorted regardless.
	i := len(r.messages)
	for i > 0 && msg.Before(r.messages[i-1]) {
		i--
	}
	r.messages = append(r.messages, domain.Message{})
	copy(r.messages[i+1:], r.messages[i:])
	r.messages[i] = msg
	return nil
}

// History returns a copy of the room log.
func (s *MessageStore) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	v, ok := s.rooms.Load(roomID)
	if !ok {
		return []domain.Message{}, nil
	}
	r := v.(*roomLog)
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out, nil
}

// Close marks the store closed; later calls report ErrStoreUnavailable.
func (s *MessageStore) Close() error {
	s.closed.Store(true)
	return nil
}
