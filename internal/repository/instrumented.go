// Package repository holds the storage-agnostic pieces shared by every
// MessageStore driver.
package repository

import (
	"context"
	"time"

	"room-broker/internal/domain"
	"room-broker/internal/observability"
)

// InstrumentedStore records the latency and outcome of every call made to
// the wrapped store.
type InstrumentedStore struct {
	next   domain.MessageStore
	driver string
}

// Instrument wraps next so its calls show up in store_operation_duration_seconds
// under the given driver label.
func Instrument(next domain.MessageStore, driver string) *InstrumentedStore {
	return &InstrumentedStore{next: next, driver: driver}
}

func (s *InstrumentedStore) Append(ctx context.Context, msg domain.Message) error {
	start := time.Now()
	err := s.next.Append(ctx, msg)
	s.observe("append", start, err)
	return err
}

func (s *InstrumentedStore) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	start := time.Now()
	msgs, err := s.next.History(ctx, roomID)
	s.observe("history", start, err)
	return msgs, err
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

func (s *InstrumentedStore) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.StoreOperationDuration.
		WithLabelValues(s.driver, operation, outcome).
		Observe(time.Since(start).Seconds())
}
