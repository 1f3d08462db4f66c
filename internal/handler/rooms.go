package handler

import (
	"encoding/json"
	"net/http"

	"github.com/roomchat/internal/backend"
	"github.com/roomchat/internal/logger"
)

// RoomsHandler passes the room-listing and room-creation calls through to
// the marketplace backend so mobile clients talk to one host. The gateway
// adds nothing to these calls beyond forwarding the caller's token.
type RoomsHandler struct {
	backend *backend.Client
}

func NewRoomsHandler(be *backend.Client) *RoomsHandler {
	return &RoomsHandler{backend: be}
}

func (h *RoomsHandler) MyRooms(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	rooms, err := h.backend.MyRooms(r.Context(), token)
	if err != nil {
		logger.Errorf("rooms list: %v", err)
		writeError(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (h *RoomsHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	var req struct {
		TargetUserID string `json:"target_user_id"`
		ListingID    string `json:"listing_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetUserID == "" {
		writeError(w, http.StatusBadRequest, "target_user_id required")
		return
	}
	roomID, err := h.backend.StartChat(r.Context(), token, req.TargetUserID, req.ListingID)
	if err != nil {
		logger.Errorf("rooms start: %v", err)
		writeError(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID})
}
