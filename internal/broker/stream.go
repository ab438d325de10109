package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// stream serialises admission for one room. Holding mu across id assignment,
// append and fan-out keeps live delivery order equal to id order.
type stream struct {
	mu     sync.Mutex
	last   time.Time
	seeded bool
}

// nextTimestamp returns a timestamp strictly after every one issued before.
func (s *stream) nextTimestamp(now time.Time) time.Time {
	ts := now.UTC()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Nanosecond)
	}
	return ts
}

// seed loads the newest persisted timestamp the first time the room is
// written in this process, so ids keep growing across restarts even when the
// clock is behind the stored tail. Callers hold mu.
func (b *Broker) seed(ctx context.Context, roomID string, st *stream) error {
	if st.seeded {
		return nil
	}
	msgs, err := b.store.History(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load room tail: %w", classifyStoreError(err))
	}
	if n := len(msgs); n > 0 && msgs[n-1].Timestamp.After(st.last) {
		st.last = msgs[n-1].Timestamp
	}
	st.seeded = true
	return nil
}

func (b *Broker) stream(roomID string) *stream {
	if st, ok := b.streams.Load(roomID); ok {
		return st.(*stream)
	}
	st, _ := b.streams.LoadOrStore(roomID, &stream{})
	return st.(*stream)
}
