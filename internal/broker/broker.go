// Package broker admits chat messages, persists them and fans them out to the
// sessions subscribed to each room.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"room-broker/internal/domain"
	"room-broker/internal/observability"
	"room-broker/internal/registry"

	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// Broker is the single admission and fan-out point for every room.
type Broker struct {
	store    domain.MessageStore
	registry *registry.Registry

	streams  sync.Map // room id -> *stream
	sessions sync.Map // session id -> *Session

	now        func() time.Time
	events     domain.EventPublisher
	presence   domain.PresenceTracker
	rooms      domain.RoomDirectory
	sendBuffer int
	sendRate   rate.Limit
	sendBurst  int

	presenceRefresh time.Duration

	notifications sync.WaitGroup
}

// New creates a broker over store and reg.
func New(store domain.MessageStore, reg *registry.Registry, opts ...Option) *Broker {
	b := &Broker{
		store:      store,
		registry:   reg,
		now:        time.Now,
		sendBuffer: defaultSendBuffer,

		presenceRefresh: defaultPresenceRefresh,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish stamps a new message, appends it to the store and broadcasts it to
// every session in the room, the sender included. Nothing is broadcast when
// the append fails.
func (b *Broker) Publish(ctx context.Context, roomID, senderID, content string) (domain.Message, error) {
	if err := domain.ValidateMessage(roomID, senderID, content); err != nil {
		observability.PublishFailures.WithLabelValues(failureReason(err)).Inc()
		return domain.Message{}, err
	}
	if err := b.checkRoom(ctx, roomID); err != nil {
		observability.PublishFailures.WithLabelValues(failureReason(err)).Inc()
		return domain.Message{}, err
	}

	st := b.stream(roomID)
	st.mu.Lock()

	if err := b.seed(ctx, roomID, st); err != nil {
		st.mu.Unlock()
		observability.PublishFailures.WithLabelValues(failureReason(err)).Inc()
		slog.Error("failed to seed room stream",
			slog.String("error", err.Error()),
			slog.String("room_id", roomID))
		return domain.Message{}, err
	}

	msg := domain.Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: st.nextTimestamp(b.now()),
	}
	msg.ID = domain.NewMessageID(msg.Timestamp)

	if err := b.store.Append(ctx, msg); err != nil {
		st.mu.Unlock()
		err = classifyStoreError(err)
		observability.PublishFailures.WithLabelValues(failureReason(err)).Inc()
		slog.Error("failed to append message",
			slog.String("error", err.Error()),
			slog.String("room_id", roomID),
			slog.String("sender_id", senderID))
		return domain.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	st.last = msg.Timestamp

	delivered := b.fanOut(msg)
	st.mu.Unlock()

	observability.MessagesPublished.Inc()
	slog.Debug("message published",
		slog.String("room_id", roomID),
		slog.String("message_id", msg.ID),
		slog.Int("delivered", delivered))

	b.notify(msg)
	return msg, nil
}

// fanOut enqueues msg on every subscriber. A failing subscriber is logged and
// skipped; it never affects the others or the publisher.
func (b *Broker) fanOut(msg domain.Message) int {
	delivered := 0
	for _, sub := range b.registry.ListSubscribers(msg.RoomID) {
		if err := sub.Deliver(msg); err != nil {
			reason := "closed"
			if errors.Is(err, domain.ErrSlowConsumer) {
				reason = "slow_consumer"
			}
			observability.FanoutDrops.WithLabelValues(reason).Inc()
			slog.Warn("dropped live delivery",
				slog.String("error", err.Error()),
				slog.String("room_id", msg.RoomID),
				slog.String("session_id", sub.ID()),
				slog.String("message_id", msg.ID))
			continue
		}
		delivered++
	}
	return delivered
}

func (b *Broker) notify(msg domain.Message) {
	if b.events == nil {
		return
	}
	b.notifications.Add(1)
	go func() {
		defer b.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultEventTimeout)
		defer cancel()
		if err := b.events.PublishMessageEvent(ctx, msg); err != nil {
			slog.Warn("failed to publish message event",
				slog.String("error", err.Error()),
				slog.String("message_id", msg.ID))
		}
	}()
}

// History returns the room's persisted messages in room order.
func (b *Broker) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if err := b.checkRoom(ctx, roomID); err != nil {
		return nil, err
	}

	msgs, err := b.store.History(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", classifyStoreError(err))
	}
	return msgs, nil
}

// OpenSession registers a new session for userID in roomID and, unless
// WithoutReplay is given, replays the room history to it before returning.
func (b *Broker) OpenSession(ctx context.Context, userID, roomID string, transport Transport, opts ...SessionOption) (*Session, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if err := b.checkRoom(ctx, roomID); err != nil {
		return nil, err
	}

	s := newSession(b, userID, roomID, transport, opts...)
	if err := b.registry.Subscribe(roomID, s); err != nil {
		s.abort(err)
		<-s.Done()
		return nil, fmt.Errorf("failed to subscribe session: %w", err)
	}
	s.open()
	b.sessions.Store(s.id, s)
	observability.SessionsActive.WithLabelValues(roomID).Inc()

	if b.presence != nil {
		if err := b.presence.Join(ctx, roomID, userID, s.id); err != nil {
			slog.Warn("failed to record presence",
				slog.String("error", err.Error()),
				slog.String("room_id", roomID),
				slog.String("user_id", userID))
		}
		s.presenceMu.Lock()
		s.present = true
		s.presenceMu.Unlock()
		go b.keepPresent(s)
	}

	slog.Info("session opened",
		slog.String("session_id", s.id),
		slog.String("user_id", userID),
		slog.String("room_id", roomID))

	if s.replay {
		if _, err := b.Reconcile(ctx, s); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Presence lists the users holding an open session in the room.
func (b *Broker) Presence(ctx context.Context, roomID string) ([]string, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if b.presence != nil {
		members, err := b.presence.Members(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return members, nil
	}
	users := lo.Map(b.registry.ListSubscribers(roomID), func(s registry.Subscriber, _ int) string {
		return s.UserID()
	})
	return lo.Uniq(users), nil
}

// Shutdown closes every open session and waits for pending event
// notifications, or until ctx is done.
func (b *Broker) Shutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	b.sessions.Range(func(_, v any) bool {
		s := v.(*Session)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
		return true
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		b.notifications.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("broker shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) forget(s *Session) {
	b.registry.Unsubscribe(s.roomID, s)
	if _, loaded := b.sessions.LoadAndDelete(s.id); loaded {
		observability.SessionsActive.WithLabelValues(s.roomID).Dec()
	}

	if b.presence != nil {
		s.presenceMu.Lock()
		defer s.presenceMu.Unlock()
		if !s.present {
			return
		}
		s.present = false

		ctx, cancel := context.WithTimeout(context.Background(), defaultEventTimeout)
		defer cancel()
		if err := b.presence.Leave(ctx, s.roomID, s.userID, s.id); err != nil {
			slog.Warn("failed to clear presence",
				slog.String("error", err.Error()),
				slog.String("room_id", s.roomID),
				slog.String("user_id", s.userID))
		}
	}
}

// keepPresent renews the session's presence entry until it leaves. It shares
// presenceMu with forget so a late refresh cannot bring back a departed
// session.
func (b *Broker) keepPresent(s *Session) {
	ticker := time.NewTicker(b.presenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
			s.presenceMu.Lock()
			if !s.present {
				s.presenceMu.Unlock()
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), defaultEventTimeout)
			err := b.presence.Refresh(ctx, s.roomID, s.userID, s.id)
			cancel()
			s.presenceMu.Unlock()

			if err != nil {
				slog.Warn("failed to refresh presence",
					slog.String("error", err.Error()),
					slog.String("room_id", s.roomID),
					slog.String("session_id", s.id))
			}
		}
	}
}

func (b *Broker) checkRoom(ctx context.Context, roomID string) error {
	if b.rooms == nil {
		return nil
	}
	exists, err := b.rooms.RoomExists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to look up room: %w", classifyStoreError(err))
	}
	if !exists {
		return fmt.Errorf("%w: %q", domain.ErrRoomNotFound, roomID)
	}
	return nil
}

// classifyStoreError keeps permanent errors as they are and reports
// everything else as a retryable outage.
func classifyStoreError(err error) error {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrInvalidInput):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "invalid_input"
	}
}
