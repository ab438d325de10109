package broker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"room-broker/internal/broker"
	"room-broker/internal/domain"
	"room-broker/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerLog struct {
	mu       sync.Mutex
	contents []string
}

func (h *handlerLog) record(m domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.contents = append(h.contents, m.Content)
}

func (h *handlerLog) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.contents...)
}

func TestSession_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("open_then_closed", func(t *testing.T) {
		f := newFixture(t)
		s, tr := f.open(t, "alice", "r1")
		assert.Equal(t, domain.SessionOpen, s.State())
		assert.NotEmpty(t, s.ID())
		assert.Equal(t, "alice", s.UserID())
		assert.Equal(t, "r1", s.RoomID())

		require.NoError(t, s.Close())
		assert.Equal(t, domain.SessionClosed, s.State())
		assert.NoError(t, s.Err())
		assert.True(t, tr.IsClosed())
		assert.Equal(t, 0, f.registry.Count("r1"))

		select {
		case <-s.Done():
		default:
			t.Fatal("done channel not closed")
		}
	})

	t.Run("close_is_idempotent", func(t *testing.T) {
		f := newFixture(t)
		s, _ := f.open(t, "alice", "r1")

		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.Equal(t, domain.SessionClosed, s.State())
	})

	t.Run("send_after_close_is_rejected", func(t *testing.T) {
		f := newFixture(t)
		s, _ := f.open(t, "alice", "r1")
		require.NoError(t, s.Close())

		_, err := s.Send(ctx, "too late")
		assert.ErrorIs(t, err, domain.ErrSessionClosed)

		history, err := f.broker.History(ctx, "r1")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("closed_session_gets_no_more_messages", func(t *testing.T) {
		f := newFixture(t)
		a, trA := f.open(t, "alice", "r1")
		b, _ := f.open(t, "bob", "r1")
		require.NoError(t, a.Close())

		_, err := b.Send(ctx, "anyone?")
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, trA.Messages())
	})
}

func TestSession_SendRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, broker.WithSendRate(1, 1))
	s, _ := f.open(t, "alice", "r1")

	_, err := s.Send(ctx, "first")
	require.NoError(t, err)

	_, err = s.Send(ctx, "second")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.True(t, domain.IsRetryable(err))

	history, err := f.broker.History(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSession_TransportFailureClosesOnlyThatSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	broken := testutil.NewMockTransport()
	broken.DeliverFunc = func(ctx context.Context, batch []domain.Message) error {
		return fmt.Errorf("write: broken pipe")
	}
	a, err := f.broker.OpenSession(ctx, "alice", "r1", broken)
	require.NoError(t, err)
	b, trB := f.open(t, "bob", "r1")

	_, err = f.broker.Publish(ctx, "r1", "carol", "hello")
	require.NoError(t, err)

	select {
	case <-a.Done():
	case <-time.After(waitTimeout):
		t.Fatal("session with failed transport did not close")
	}
	assert.ErrorIs(t, a.Err(), domain.ErrTransport)
	assert.True(t, broken.IsClosed())

	_, err = f.broker.Publish(ctx, "r1", "carol", "still here")
	require.NoError(t, err)
	testutil.WaitForContents(t, trB, waitTimeout, "hello", "still here")
	assert.Equal(t, domain.SessionOpen, b.State())
	assert.Equal(t, 1, f.registry.Count("r1"))
}

func TestSession_SlowConsumerIsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, broker.WithSendBuffer(1))

	gate := make(chan struct{})
	slow := testutil.NewMockTransport()
	slow.DeliverFunc = func(ctx context.Context, batch []domain.Message) error {
		<-gate
		return nil
	}
	s, err := f.broker.OpenSession(ctx, "alice", "r1", slow)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.broker.Publish(ctx, "r1", "carol", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return s.State() >= domain.SessionClosing
	}, waitTimeout, 5*time.Millisecond)
	assert.ErrorIs(t, s.Err(), domain.ErrSlowConsumer)

	close(gate)
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("slow session did not finish closing")
	}

	history, err := f.broker.History(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestSession_CloseDuringBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, trA := f.open(t, "alice", "r1")
	_, trB := f.open(t, "bob", "r1")

	const total = 100
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			_, err := f.broker.Publish(ctx, "r1", "carol", fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		assert.NoError(t, a.Close())
	}()
	wg.Wait()

	require.Eventually(t, func() bool { return len(trB.Messages()) == total }, waitTimeout, 5*time.Millisecond)
	testutil.AssertRoomOrder(t, trB.Messages())
	testutil.AssertRoomOrder(t, trA.Messages())
	assert.LessOrEqual(t, len(trA.Messages()), total)
}

func TestSession_Handlers(t *testing.T) {
	ctx := context.Background()

	t.Run("handler_option_sees_replay_and_live", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.broker.Publish(ctx, "r1", "alice", "old")
		require.NoError(t, err)

		var log handlerLog
		_, err = f.broker.OpenSession(ctx, "bob", "r1", nil, broker.WithMessageHandler(log.record))
		require.NoError(t, err)

		_, err = f.broker.Publish(ctx, "r1", "alice", "new")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]string{"old", "new"}, log.snapshot())
		}, waitTimeout, 5*time.Millisecond)
	})

	t.Run("on_message_sees_later_traffic", func(t *testing.T) {
		f := newFixture(t)
		s, _ := f.open(t, "bob", "r1")

		var log handlerLog
		s.OnMessage(log.record)

		_, err := f.broker.Publish(ctx, "r1", "alice", "hi")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]string{"hi"}, log.snapshot())
		}, waitTimeout, 5*time.Millisecond)
	})
}
