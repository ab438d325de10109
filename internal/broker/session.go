package broker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"room-broker/internal/domain"
	"room-broker/internal/observability"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Transport is the outbound half of a client connection.
type Transport interface {
	// Deliver hands an ordered batch to the client. An error is treated as a
	// dropped connection and closes the session.
	Deliver(ctx context.Context, batch []domain.Message) error
	Close() error
}

// HistoryTransport is implemented by transports that present a history
// replay differently from live traffic. A replay batch may be empty; it
// still marks the point where the session caught up.
type HistoryTransport interface {
	Transport
	DeliverHistory(ctx context.Context, batch []domain.Message) error
}

type delivery struct {
	messages []domain.Message
	replay   bool
	// ids that came from a local cache rather than the store or fan-out
	cached   map[string]struct{}
}

// Session is one client's subscription to exactly one room.
type Session struct {
	id     string
	userID string
	roomID string

	broker    *Broker
	transport Transport
	limiter   *rate.Limiter

	mu       sync.Mutex
	state    domain.SessionState
	caughtUp bool
	replay   bool
	held     []domain.Message
	maxHeld  int
	local    []domain.Message
	handlers []func(domain.Message)
	cause    error

	// guards presence updates against a concurrent leave
	presenceMu sync.Mutex
	present    bool

	outbox chan delivery
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the dispatch goroutine
	lastID          string
	cachedSeen      map[string]struct{}
	transportFailed bool
}

func newSession(b *Broker, userID, roomID string, transport Transport, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		userID:     userID,
		roomID:     roomID,
		broker:     b,
		transport:  transport,
		state:      domain.SessionConnecting,
		replay:     true,
		maxHeld:    b.sendBuffer,
		outbox:     make(chan delivery, b.sendBuffer),
		cachedSeen: make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if b.sendRate > 0 {
		s.limiter = rate.NewLimiter(b.sendRate, b.sendBurst)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.caughtUp = !s.replay

	go s.dispatch()
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }
func (s *Session) RoomID() string { return s.roomID }

// State reports the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CaughtUp reports whether history replay has completed or was skipped.
func (s *Session) CaughtUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caughtUp
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session closed, or nil for a normal close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// OnMessage registers fn for every message delivered after the call,
// live or replayed. Handlers run on the session's delivery goroutine.
func (s *Session) OnMessage(fn func(domain.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Send publishes content to the session's room as the session's user.
func (s *Session) Send(ctx context.Context, content string) (domain.Message, error) {
	if st := s.State(); st != domain.SessionOpen {
		return domain.Message{}, fmt.Errorf("%w: session is %s", domain.ErrSessionClosed, st)
	}
	if s.limiter != nil && !s.limiter.Allow() {
		observability.PublishFailures.WithLabelValues("rate_limited").Inc()
		return domain.Message{}, domain.ErrRateLimited
	}
	return s.broker.Publish(ctx, s.roomID, s.userID, content)
}

// Deliver queues a live message. While history replay is pending the
// message is held and merged into the replay batch.
func (s *Session) Deliver(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= domain.SessionClosing {
		return domain.ErrSessionClosed
	}
	if !s.caughtUp {
		if len(s.held) >= s.maxHeld {
			go s.abort(domain.ErrSlowConsumer)
			return domain.ErrSlowConsumer
		}
		s.held = append(s.held, msg)
		return nil
	}
	return s.enqueueLocked(delivery{messages: []domain.Message{msg}})
}

// catchUp delivers the reconciled view together with any live messages held
// during replay. The reconciled view wins on id conflicts. cached names the
// view entries that only exist in the local cache.
func (s *Session) catchUp(view []domain.Message, cached map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= domain.SessionClosing {
		return domain.ErrSessionClosed
	}

	batch := slices.Clone(view)
	if len(s.held) > 0 {
		batch = domain.MergeByID(s.held, view)
		s.held = nil
	}
	s.caughtUp = true

	return s.enqueueLocked(delivery{messages: batch, replay: true, cached: cached})
}

func (s *Session) localHistory() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.local)
}

func (s *Session) enqueueLocked(d delivery) error {
	select {
	case s.outbox <- d:
		return nil
	default:
		go s.abort(domain.ErrSlowConsumer)
		return domain.ErrSlowConsumer
	}
}

func (s *Session) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.SessionConnecting {
		s.state = domain.SessionOpen
	}
}

// Close moves the session to Closing, drains pending deliveries and waits
// until it is Closed. It must not be called from a message handler.
func (s *Session) Close() error {
	s.abort(nil)
	<-s.done
	return nil
}

// abort starts closing without waiting for the drain to finish.
func (s *Session) abort(cause error) {
	s.mu.Lock()
	if s.state >= domain.SessionClosing {
		s.mu.Unlock()
		return
	}
	s.state = domain.SessionClosing
	s.cause = cause
	s.held = nil
	close(s.outbox)
	s.mu.Unlock()

	attrs := []any{
		slog.String("session_id", s.id),
		slog.String("user_id", s.userID),
		slog.String("room_id", s.roomID),
	}
	if cause != nil {
		slog.Warn("closing session", append(attrs, slog.String("error", cause.Error()))...)
	} else {
		slog.Info("closing session", attrs...)
	}
}

// dispatch drains the outbox in order, dropping anything at or below the
// last delivered id. Ids grow strictly within a room, so this removes the
// duplicates a live broadcast racing a history replay produces. Cached ids
// were not issued by the broker and never move the watermark.
func (s *Session) dispatch() {
	defer s.finish()

	for d := range s.outbox {
		fresh := make([]domain.Message, 0, len(d.messages))
		for _, m := range d.messages {
			if _, ok := d.cached[m.ID]; ok {
				if _, seen := s.cachedSeen[m.ID]; !seen {
					s.cachedSeen[m.ID] = struct{}{}
					fresh = append(fresh, m)
				}
				continue
			}
			if m.ID > s.lastID {
				fresh = append(fresh, m)
				s.lastID = m.ID
			}
		}
		if len(fresh) == 0 && !d.replay {
			continue
		}

		if err := s.send(fresh, d.replay); err != nil {
			s.transportFailed = true
			go s.abort(fmt.Errorf("%w: %w", domain.ErrTransport, err))
		}

		s.mu.Lock()
		handlers := slices.Clone(s.handlers)
		s.mu.Unlock()
		for _, m := range fresh {
			for _, h := range handlers {
				h(m)
			}
		}
	}
}

func (s *Session) send(batch []domain.Message, replay bool) error {
	if s.transport == nil || s.transportFailed {
		return nil
	}
	if replay {
		if ht, ok := s.transport.(HistoryTransport); ok {
			return ht.DeliverHistory(s.ctx, batch)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	return s.transport.Deliver(s.ctx, batch)
}

func (s *Session) finish() {
	s.broker.forget(s)

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			slog.Debug("transport close failed",
				slog.String("error", err.Error()),
				slog.String("session_id", s.id))
		}
	}
	s.cancel()

	s.mu.Lock()
	s.state = domain.SessionClosed
	s.mu.Unlock()
	close(s.done)

	slog.Info("session closed",
		slog.String("session_id", s.id),
		slog.String("room_id", s.roomID))
}
