package postgres

import (
	"errors"
	"fmt"

	"room-broker/internal/domain"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation = "23505"

	// SQLSTATE classes that signal a bad record rather than a bad backend.
	pqClassDataException      = "22"
	pqClassIntegrityViolation = "23"
)

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation
// If constraint is empty, it returns true for any unique violation
// If constraint is specified, it only returns true for that specific constraint
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	if string(pqErr.Code) != pqUniqueViolation {
		return false
	}

	if constraint == "" {
		return true
	}

	return pqErr.Constraint == constraint
}

// classify maps driver errors onto the domain taxonomy. Rejected records are
// permanent; everything else (connection loss, timeouts, auth, shutdown) is
// reported as a retryable outage.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code.Class()) {
		case pqClassDataException, pqClassIntegrityViolation:
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, pqErr.Message)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
