// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the room broker.
package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"

	"room-broker/internal/domain"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockUnavailable    = errors.New("mock: backend unavailable")
)

// MockMessageStore implements domain.MessageStore for testing
type MockMessageStore struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	AppendFunc  func(ctx context.Context, msg domain.Message) error
	HistoryFunc func(ctx context.Context, roomID string) ([]domain.Message, error)

	// In-memory storage for simple tests
	Messages map[string][]domain.Message
	Appends  int
}

// NewMockMessageStore creates a new MockMessageStore with initialized maps
func NewMockMessageStore() *MockMessageStore {
	return &MockMessageStore{
		Messages: make(map[string][]domain.Message),
	}
}

func (m *MockMessageStore) Append(ctx context.Context, msg domain.Message) error {
	m.mu.Lock()
	m.Appends++
	m.mu.Unlock()

	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Messages == nil {
		m.Messages = make(map[string][]domain.Message)
	}
	for _, existing := range m.Messages[msg.RoomID] {
		if existing.ID == msg.ID {
			return nil
		}
	}
	m.Messages[msg.RoomID] = append(m.Messages[msg.RoomID], msg)
	domain.SortMessages(m.Messages[msg.RoomID])
	return nil
}

func (m *MockMessageStore) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, roomID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := slices.Clone(m.Messages[roomID])
	if out == nil {
		out = []domain.Message{}
	}
	return out, nil
}

func (m *MockMessageStore) Close() error {
	return nil
}

// AppendCount returns how many times Append was called.
func (m *MockMessageStore) AppendCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Appends
}

// MockTransport implements broker.Transport and records every batch.
type MockTransport struct {
	mu sync.Mutex

	// Function overrides
	DeliverFunc func(ctx context.Context, batch []domain.Message) error
	CloseFunc   func() error

	Batches [][]domain.Message
	Closed  bool
}

// NewMockTransport creates a new MockTransport
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Deliver(ctx context.Context, batch []domain.Message) error {
	if m.DeliverFunc != nil {
		if err := m.DeliverFunc(ctx, batch); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, slices.Clone(batch))
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Messages returns every delivered message in delivery order.
func (m *MockTransport) Messages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Message
	for _, b := range m.Batches {
		out = append(out, b...)
	}
	return out
}

// Contents returns the content of every delivered message in delivery order.
func (m *MockTransport) Contents() []string {
	msgs := m.Messages()
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Content)
	}
	return out
}

// BatchCount returns how many batches were delivered.
func (m *MockTransport) BatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Batches)
}

// IsClosed reports whether Close was called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// MockPresenceTracker implements domain.PresenceTracker for testing
type MockPresenceTracker struct {
	mu sync.Mutex

	// Function overrides
	JoinFunc    func(ctx context.Context, roomID, userID, sessionID string) error
	RefreshFunc func(ctx context.Context, roomID, userID, sessionID string) error
	LeaveFunc   func(ctx context.Context, roomID, userID, sessionID string) error
	MembersFunc func(ctx context.Context, roomID string) ([]string, error)

	// room id -> session id -> user id
	Sessions  map[string]map[string]string
	Refreshes int
}

// NewMockPresenceTracker creates a new MockPresenceTracker with initialized maps
func NewMockPresenceTracker() *MockPresenceTracker {
	return &MockPresenceTracker{
		Sessions: make(map[string]map[string]string),
	}
}

func (m *MockPresenceTracker) Join(ctx context.Context, roomID, userID, sessionID string) error {
	if m.JoinFunc != nil {
		return m.JoinFunc(ctx, roomID, userID, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Sessions[roomID] == nil {
		m.Sessions[roomID] = make(map[string]string)
	}
	m.Sessions[roomID][sessionID] = userID
	return nil
}

// Refresh re-adds the session like Join does, so a refresh racing a leave
// shows up as a stale member.
func (m *MockPresenceTracker) Refresh(ctx context.Context, roomID, userID, sessionID string) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, roomID, userID, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Sessions[roomID] == nil {
		m.Sessions[roomID] = make(map[string]string)
	}
	m.Sessions[roomID][sessionID] = userID
	m.Refreshes++
	return nil
}

// RefreshCount returns how many refreshes were recorded.
func (m *MockPresenceTracker) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Refreshes
}

func (m *MockPresenceTracker) Leave(ctx context.Context, roomID, userID, sessionID string) error {
	if m.LeaveFunc != nil {
		return m.LeaveFunc(ctx, roomID, userID, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Sessions[roomID], sessionID)
	return nil
}

func (m *MockPresenceTracker) Members(ctx context.Context, roomID string) ([]string, error) {
	if m.MembersFunc != nil {
		return m.MembersFunc(ctx, roomID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	members := make([]string, 0)
	for _, userID := range m.Sessions[roomID] {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		members = append(members, userID)
	}
	slices.Sort(members)
	return members, nil
}

// MockEventPublisher implements domain.EventPublisher for testing
type MockEventPublisher struct {
	mu sync.Mutex

	PublishFunc func(ctx context.Context, msg domain.Message) error

	Published []domain.Message
}

// NewMockEventPublisher creates a new MockEventPublisher
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) PublishMessageEvent(ctx context.Context, msg domain.Message) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, msg)
	return nil
}

// Events returns a copy of every recorded event.
func (m *MockEventPublisher) Events() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Published)
}

// MockRoomDirectory implements domain.RoomDirectory for testing
type MockRoomDirectory struct {
	RoomExistsFunc func(ctx context.Context, roomID string) (bool, error)

	Rooms map[string]bool
}

// NewMockRoomDirectory creates a directory that knows the given rooms
func NewMockRoomDirectory(rooms ...string) *MockRoomDirectory {
	m := &MockRoomDirectory{Rooms: make(map[string]bool)}
	for _, r := range rooms {
		m.Rooms[r] = true
	}
	return m
}

func (m *MockRoomDirectory) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if m.RoomExistsFunc != nil {
		return m.RoomExistsFunc(ctx, roomID)
	}
	return m.Rooms[roomID], nil
}
