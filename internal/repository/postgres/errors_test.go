package postgres

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"room-broker/internal/domain"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name:       "unique_violation_matching_constraint",
			err:        &pq.Error{Code: "23505", Constraint: "messages_pkey"},
			constraint: "messages_pkey",
			want:       true,
		},
		{
			name:       "unique_violation_any_constraint",
			err:        &pq.Error{Code: "23505", Constraint: "messages_pkey"},
			constraint: "",
			want:       true,
		},
		{
			name:       "unique_violation_different_constraint",
			err:        &pq.Error{Code: "23505", Constraint: "other_key"},
			constraint: "messages_pkey",
			want:       false,
		},
		{
			name:       "different_error_code",
			err:        &pq.Error{Code: "23503", Constraint: "messages_pkey"},
			constraint: "messages_pkey",
			want:       false,
		},
		{
			name:       "wrapped_pq_error",
			err:        fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "messages_pkey"}),
			constraint: "messages_pkey",
			want:       true,
		},
		{
			name:       "not_pq_error",
			err:        errors.New("some other error"),
			constraint: "messages_pkey",
			want:       false,
		},
		{
			name: "nil_error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err, tt.constraint))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"data_exception_is_permanent", &pq.Error{Code: "22001", Message: "value too long"}, domain.ErrInvalidInput},
		{"integrity_violation_is_permanent", &pq.Error{Code: "23502", Message: "null value"}, domain.ErrInvalidInput},
		{"connection_exception_is_retryable", &pq.Error{Code: "08006", Message: "connection failure"}, domain.ErrStoreUnavailable},
		{"admin_shutdown_is_retryable", &pq.Error{Code: "57P01", Message: "terminating connection"}, domain.ErrStoreUnavailable},
		{"bad_conn_is_retryable", driver.ErrBadConn, domain.ErrStoreUnavailable},
		{"plain_error_is_retryable", errors.New("dial tcp: connection refused"), domain.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	t.Run("nil_stays_nil", func(t *testing.T) {
		assert.NoError(t, classify(nil))
	})

	t.Run("original_error_is_kept", func(t *testing.T) {
		assert.ErrorIs(t, classify(driver.ErrBadConn), driver.ErrBadConn)
	})
}
