package domain

import "errors"

var (
	// ErrStoreUnavailable marks a retryable failure of the message store backend.
	ErrStoreUnavailable = errors.New("message store unavailable")
	// ErrRoomNotFound is permanent: the room id is malformed or unknown.
	ErrRoomNotFound  = errors.New("room not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrTransport     = errors.New("transport error")
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session send queue full")
	ErrRateLimited   = errors.New("send rate limit exceeded")
)

// IsRetryable reports whether the caller may retry the failed operation with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrRateLimited)
}
