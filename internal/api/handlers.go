package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/pairpad/internal/autocomplete"
	"github.com/manpreetbhatti/pairpad/internal/room"
	"github.com/manpreetbhatti/pairpad/internal/store"
)

type API struct {
	reg     *room.Registry
	store   store.Store
	content store.Loader
	log     *zap.Logger
}

// New wires the HTTP handlers. content resolves the code of rooms that are
// not live; pass the write-behind queue so unsaved edits are visible.
func New(reg *room.Registry, st store.Store, content store.Loader, log *zap.Logger) *API {
	if content == nil {
		content = st
	}
	return &API{
		reg:     reg,
		store:   st,
		content: content,
		log:     log,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Warn("encode JSON response", zap.Error(err))
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"active_rooms":   a.reg.RoomCount(),
		"active_clients": a.reg.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	Code        *string   `json:"code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, err := a.store.CreateRoom(r.Context())
	if err != nil {
		a.log.Error("create room", zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	a.log.Info("room created", zap.String("room", rm.ID))
	a.jsonResponse(w, http.StatusCreated, CreateRoomResponse{RoomID: rm.ID})
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.store.ListRooms(r.Context(), limit, offset)
	if err != nil {
		a.log.Error("list rooms", zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.reg.ActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, rm := range rooms {
		response[i] = RoomResponse{
			ID:          rm.ID,
			CreatedAt:   rm.CreatedAt,
			UpdatedAt:   rm.UpdatedAt,
			ActiveUsers: activeRooms[rm.ID],
		}
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRoomHandler returns the room with its current code: the live copy when
// anyone is connected, otherwise the latest saved one
func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	rm, err := a.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, store.ErrRoomNotFound) {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		a.log.Error("get room", zap.String("room", roomID), zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	code, err := a.reg.Content(roomID)
	if errors.Is(err, room.ErrRoomNotLive) {
		code, err = a.content.LoadContent(r.Context(), roomID)
	}
	if err != nil {
		a.log.Error("load room content", zap.String("room", roomID), zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	activeUsers, _ := a.reg.MemberCount(roomID)

	a.jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          rm.ID,
		Code:        &code,
		CreatedAt:   rm.CreatedAt,
		UpdatedAt:   rm.UpdatedAt,
		ActiveUsers: activeUsers,
	})
}

func (a *API) AutocompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req autocomplete.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	a.jsonResponse(w, http.StatusOK, autocomplete.Suggest(req))
}
