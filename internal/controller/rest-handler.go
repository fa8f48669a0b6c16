package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncbeats/server/internal/service/room"
)

func (c controller) getTracks(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, envelope{"tracks": c.catalog.Tracks()})
}

func (c controller) getRooms(w http.ResponseWriter, r *http.Request) {
	ids, err := c.roomService.GetRoomIds(r.Context())
	if err != nil {
		c.logger.ErrorContext(r.Context(), "failed to get rooms", "error", err)
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}

	c.writeJSON(w, http.StatusOK, envelope{"room_ids": ids})
}

func (c controller) createRoom(w http.ResponseWriter, r *http.Request) {
	roomId, err := c.roomService.GenerateRoomId(r.Context())
	if err != nil {
		c.logger.ErrorContext(r.Context(), "failed to generate room id", "error", err)
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}

	c.writeJSON(w, http.StatusCreated, envelope{"room_id": roomId})
}

func (c controller) getRoom(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")

	roomState, err := c.roomService.GetRoomState(r.Context(), roomId)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			c.writeError(w, http.StatusNotFound, room.ErrRoomNotFound)
			return
		}
		c.logger.ErrorContext(r.Context(), "failed to get room state", "error", err)
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}

	c.writeJSON(w, http.StatusOK, envelope{"room": roomState})
}
