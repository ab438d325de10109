package handler

import (
	"context"
	"log/slog"
	"net/http"

	"room-broker/internal/broker"
	"room-broker/internal/middleware"
	"room-broker/internal/observability"
	ws "room-broker/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// SessionOpener opens broker sessions for upgraded connections
type SessionOpener interface {
	OpenSession(ctx context.Context, userID, roomID string, transport broker.Transport, opts ...broker.SessionOption) (*broker.Session, error)
}

// WebSocketHandler upgrades requests and binds each connection to one
// broker session.
type WebSocketHandler struct {
	sessions SessionOpener
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. Browser origins are
// checked against allowedOrigins.
func NewWebSocketHandler(sessions SessionOpener, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin
				return origin == "" || middleware.AllowsOrigin(allowedOrigins, origin)
			},
		},
	}
}

// sessionTransport hands the client to the broker without giving the
// session ownership of the connection. The handler closes it, so the
// reason a session ended can still be reported to the peer.
type sessionTransport struct {
	*ws.Client
}

func (sessionTransport) Close() error { return nil }

// HandleConnection handles WebSocket upgrade and connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
		return
	}
	roomID := chi.URLParam(r, "room_id")
	ctx := observability.WithRoomID(r.Context(), roomID)
	logger := observability.FromContext(ctx)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := ws.NewClient(ctx, conn, userID, roomID)
	go client.WritePump()

	session, err := h.sessions.OpenSession(ctx, userID, roomID, sessionTransport{client})
	if err != nil {
		logger.Warn("failed to open session", slog.String("error", err.Error()))
		client.Fail(err, "")
		return
	}
	client.Attach(session)

	go func() {
		<-session.Done()
		if cause := session.Err(); cause != nil {
			client.Fail(cause, "")
			return
		}
		_ = client.Close()
	}()

	client.ReadPump()
}
