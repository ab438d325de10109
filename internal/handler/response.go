package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"room-broker/internal/domain"
	"room-broker/internal/observability"
	ws "room-broker/internal/websocket"
)

// retryAfterSeconds is advertised on 503s caused by a store outage
const retryAfterSeconds = "1"

// ErrorResponse is the JSON body of every failed API request
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError maps the broker error taxonomy to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		status, message = http.StatusNotFound, "Room not found"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, message = http.StatusServiceUnavailable, "Message store unavailable, retry later"
		w.Header().Set("Retry-After", retryAfterSeconds)
	case errors.Is(err, domain.ErrInvalidInput):
		status, message = http.StatusBadRequest, "Invalid request"
	}

	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).Error("request failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path))
	}

	writeJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      ws.ErrorCode(err),
		Retryable: domain.IsRetryable(err),
	})
}
