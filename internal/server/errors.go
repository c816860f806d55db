package server

import (
	"errors"
	"net/http"

	"github.com/npezzotti/go-readroom/internal/protocol"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrNotHost          = errors.New("only the host can control playback")
	ErrNotParticipant   = errors.New("not a participant of this room")
	ErrRoomFull         = errors.New("room is full")
	ErrCannotKickHost   = errors.New("the host cannot be kicked")
	ErrNoCursor         = errors.New("playback requires a paragraph cursor")
	ErrUnknownParagraph = errors.New("paragraph is not part of the room's chapter")
	ErrInvalidEvent     = errors.New("invalid room event")
	ErrInvalidTopic     = errors.New("invalid topic")
	ErrEmptyMessage     = errors.New("message content is empty")
	ErrRoomUnavailable  = errors.New("room unavailable")
)

// StatusCode maps a room error to the HTTP status reported to callers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotHost), errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrRoomFull), errors.Is(err, ErrNoCursor):
		return http.StatusConflict
	case errors.Is(err, ErrCannotKickHost),
		errors.Is(err, ErrUnknownParagraph),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrInvalidTopic),
		errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrRoomUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// responseFor converts the outcome of a websocket request to its response frame.
// Internal failures are not echoed to the client.
func responseFor(id int, err error) *protocol.ServerMessage {
	code := StatusCode(err)
	switch code {
	case http.StatusOK:
		return protocol.NoErrOK(id)
	case http.StatusInternalServerError:
		return protocol.ErrInternalError(id)
	case http.StatusServiceUnavailable:
		return protocol.ErrServiceUnavailable(id)
	default:
		return protocol.ErrResponse(id, code, err.Error())
	}
}
