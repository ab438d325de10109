package handler

import (
	"context"
	"net/http"

	"room-broker/internal/domain"
	"room-broker/internal/observability"

	"github.com/go-chi/chi/v5"
)

// RoomReader is the read side of the broker used by the REST endpoints
type RoomReader interface {
	History(ctx context.Context, roomID string) ([]domain.Message, error)
	Presence(ctx context.Context, roomID string) ([]string, error)
}

// RoomHandler serves room history and presence snapshots
type RoomHandler struct {
	rooms RoomReader
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(rooms RoomReader) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

type HistoryResponse struct {
	RoomID   string           `json:"room_id"`
	Messages []domain.Message `json:"messages"`
}

type PresenceResponse struct {
	RoomID string   `json:"room_id"`
	Users  []string `json:"users"`
}

// GetMessages returns the room's persisted messages, oldest first
func (h *RoomHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	ctx := observability.WithRoomID(r.Context(), roomID)

	messages, err := h.rooms.History(ctx, roomID)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{RoomID: roomID, Messages: messages})
}

// GetPresence lists the users currently connected to the room
func (h *RoomHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	ctx := observability.WithRoomID(r.Context(), roomID)

	users, err := h.rooms.Presence(ctx, roomID)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	if users == nil {
		users = []string{}
	}

	writeJSON(w, http.StatusOK, PresenceResponse{RoomID: roomID, Users: users})
}
