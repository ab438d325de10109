package broker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"room-broker/internal/domain"
	"room-broker/internal/observability"

	"github.com/samber/lo"
)

// Reconcile fetches the room history, merges it with the session's local
// history by id (the store wins) and delivers the result to the session,
// merged with any live traffic that arrived while the fetch was in flight.
// It returns the reconciled view. With no publishes in between, repeated
// calls return the same sequence; already delivered messages are not
// delivered twice.
func (b *Broker) Reconcile(ctx context.Context, s *Session) ([]domain.Message, error) {
	start := time.Now()

	history, err := b.History(ctx, s.roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile session %s: %w", s.id, err)
	}

	view := history
	var cached map[string]struct{}
	if local := s.localHistory(); len(local) > 0 {
		view = domain.MergeByID(local, history)
		stored := lo.SliceToMap(history, func(m domain.Message) (string, struct{}) {
			return m.ID, struct{}{}
		})
		cached = make(map[string]struct{})
		for _, m := range local {
			if _, ok := stored[m.ID]; !ok {
				cached[m.ID] = struct{}{}
			}
		}
	}

	if err := s.catchUp(view, cached); err != nil {
		return nil, fmt.Errorf("failed to deliver history to session %s: %w", s.id, err)
	}

	observability.ReconcileMessages.Observe(float64(len(view)))
	slog.Debug("session reconciled",
		slog.String("session_id", s.id),
		slog.String("room_id", s.roomID),
		slog.Int("messages", len(view)),
		slog.Duration("took", time.Since(start)))

	return slices.Clone(view), nil
}
