package protocol

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-readroom/internal/types"
)

type Topic string

const (
	TopicRoomStatus Topic = "room-status"
	TopicChat       Topic = "chat"
)

func (t Topic) Valid() bool {
	return t == TopicRoomStatus || t == TopicChat
}

type EventType string

const (
	EventParticipantUpdate EventType = "PARTICIPANT_UPDATE"
	EventStatusChange      EventType = "STATUS_CHANGE"
	EventSyncParagraph     EventType = "SYNC_PARAGRAPH"
	EventRoomClosed        EventType = "ROOM_CLOSED"
)

// RoomEvent is the tagged union carried on the room-status topic. Host
// commands travel upstream in the same shape.
type RoomEvent struct {
	Type        EventType        `json:"type"`
	Status      types.RoomStatus `json:"status,omitempty"`
	ParagraphId *string          `json:"paragraphId,omitempty"`
	ForcePlay   bool             `json:"forcePlay,omitempty"`
}

func ParticipantUpdate() RoomEvent {
	return RoomEvent{Type: EventParticipantUpdate}
}

func StatusChange(status types.RoomStatus) RoomEvent {
	return RoomEvent{Type: EventStatusChange, Status: status}
}

// SyncParagraph builds a cursor move. An empty id clears the cursor.
func SyncParagraph(paragraphId string, forcePlay bool) RoomEvent {
	ev := RoomEvent{Type: EventSyncParagraph, ForcePlay: forcePlay}
	if paragraphId != "" {
		ev.ParagraphId = &paragraphId
	}
	return ev
}

func RoomClosed() RoomEvent {
	return RoomEvent{Type: EventRoomClosed}
}

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Command     *Command     `json:"command,omitempty"`
	Publish     *Publish     `json:"publish,omitempty"`
}

type Subscribe struct {
	RoomId string `json:"room_id"`
	Topic  Topic  `json:"topic"`
}

type Unsubscribe struct {
	RoomId string `json:"room_id"`
}

type Command struct {
	RoomId string    `json:"room_id"`
	Event  RoomEvent `json:"event"`
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type ServerMessage struct {
	BaseMessage
	Response        *Response          `json:"response,omitempty"`
	Topic           Topic              `json:"topic,omitempty"`
	RoomId          string             `json:"room_id,omitempty"`
	Event           *RoomEvent         `json:"event,omitempty"`
	Chat            *types.ChatMessage `json:"chat,omitempty"`
	ForceDisconnect bool               `json:"force_disconnect,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

func (r *Response) OK() bool {
	return r.ResponseCode >= 200 && r.ResponseCode < 300
}

func NoErrOK(id int) *ServerMessage {
	return response(id, http.StatusOK, "")
}

func ErrRoomNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "room not found")
}

func ErrForbidden(id int, reason string) *ServerMessage {
	return response(id, http.StatusForbidden, reason)
}

func ErrConflict(id int, reason string) *ServerMessage {
	return response(id, http.StatusConflict, reason)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable")
}

// ErrResponse builds a failed response with an arbitrary status code.
func ErrResponse(id, code int, reason string) *ServerMessage {
	return response(id, code, reason)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := response(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func response(id, code int, errMsg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
		},
	}
}

// StatusEvent wraps a room event for the room-status topic.
func StatusEvent(roomId string, ev RoomEvent) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Topic:       TopicRoomStatus,
		RoomId:      roomId,
		Event:       &ev,
	}
}

func ChatEvent(roomId string, msg types.ChatMessage) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Topic:       TopicChat,
		RoomId:      roomId,
		Chat:        &msg,
	}
}

// ForceDisconnect is sent on the chat topic to a kicked participant.
func ForceDisconnect(roomId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage:     BaseMessage{Timestamp: Now()},
		Topic:           TopicChat,
		RoomId:          roomId,
		ForceDisconnect: true,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
