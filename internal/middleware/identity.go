package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"room-broker/internal/domain"
	"room-broker/internal/observability"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"

	// UserIDHeader carries the caller identity set by the upstream
	// authenticating proxy.
	UserIDHeader = "X-User-ID"
	// UserIDQueryParam is the fallback for browsers, which cannot set
	// headers on a websocket upgrade.
	UserIDQueryParam = "user_id"
)

// Identity extracts the already authenticated user id from the request and
// stores it in the context. Requests without a well-formed id get 401.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(UserIDHeader)
			if userID == "" {
				userID = r.URL.Query().Get(UserIDQueryParam)
			}

			if err := domain.ValidateUserID(userID); err != nil {
				observability.FromContext(r.Context()).Warn("rejected request without identity",
					"path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}

			ctx := WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID retrieves the user ID from the request context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// WithUserID adds a user ID to the context, also tagging log lines
// produced through observability.FromContext.
func WithUserID(ctx context.Context, userID string) context.Context {
	ctx = observability.WithUserID(ctx, userID)
	return context.WithValue(ctx, UserIDKey, userID)
}
