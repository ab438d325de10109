package broker

import (
	"time"

	"room-broker/internal/domain"

	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const (
	defaultSendBuffer      = 256
	defaultEventTimeout    = 5 * time.Second
	defaultPresenceRefresh = 30 * time.Second
)

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the wall clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// WithEventPublisher notifies p after every accepted message.
func WithEventPublisher(p domain.EventPublisher) Option {
	return func(b *Broker) {
		b.events = p
	}
}

// WithPresenceTracker records session joins and leaves in t.
func WithPresenceTracker(t domain.PresenceTracker) Option {
	return func(b *Broker) {
		b.presence = t
	}
}

// WithPresenceRefresh sets how often each open session renews its presence
// entry. It must stay well below the tracker's expiry.
func WithPresenceRefresh(every time.Duration) Option {
	return func(b *Broker) {
		if every > 0 {
			b.presenceRefresh = every
		}
	}
}

// WithRoomDirectory rejects well-formed but unknown room ids.
func WithRoomDirectory(d domain.RoomDirectory) Option {
	return func(b *Broker) {
		b.rooms = d
	}
}

// WithSendBuffer sets how many undelivered batches a session may queue before
// it is treated as a slow consumer and closed.
func WithSendBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.sendBuffer = n
		}
	}
}

// WithSendRate limits how fast a single session may publish.
func WithSendRate(perSecond float64, burst int) Option {
	return func(b *Broker) {
		if perSecond > 0 && burst > 0 {
			b.sendRate = rate.Limit(perSecond)
			b.sendBurst = burst
		}
	}
}

// SessionOption configures a single session.
type SessionOption func(*Session)

// WithLocalHistory seeds the session with messages cached by a previous
// session for the same room. Messages of other rooms are ignored.
// Reconciliation merges them with the store's history; the store wins on id
// conflicts.
func WithLocalHistory(msgs []domain.Message) SessionOption {
	return func(s *Session) {
		s.local = lo.Filter(msgs, func(m domain.Message, _ int) bool {
			return m.RoomID == s.roomID
		})
	}
}

// WithoutReplay opens the session caught up, skipping history replay.
func WithoutReplay() SessionOption {
	return func(s *Session) {
		s.replay = false
	}
}

// WithMessageHandler registers fn before the session opens so it also sees
// the replayed history.
func WithMessageHandler(fn func(domain.Message)) SessionOption {
	return func(s *Session) {
		s.handlers = append(s.handlers, fn)
	}
}
