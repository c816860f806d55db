package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/npezzotti/go-readroom/internal/database"
	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/tts"
	"github.com/npezzotti/go-readroom/internal/types"
)

const (
	defaultSpeed = 1.0
	minSpeed     = 0.5
	maxSpeed     = 2.0
)

func toRoom(r database.Room) types.Room {
	room := types.Room{
		Id:               r.Id,
		Name:             r.Name,
		BookId:           r.BookId,
		BookTitle:        r.BookTitle,
		HostId:           r.HostId,
		Capacity:         r.Capacity,
		ParticipantCount: r.ParticipantCount,
		Status:           types.RoomStatus(r.Status),
		ChapterId:        r.ChapterId,
		VoiceType:        r.VoiceType,
		Speed:            r.Speed,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ParagraphId.Valid {
		id := r.ParagraphId.String
		room.ParagraphId = &id
	}
	return room
}

func toChapter(c database.Chapter) types.Chapter {
	ch := types.Chapter{
		Id:      c.Id,
		BookId:  c.BookId,
		Title:   c.Title,
		Content: make([]types.Paragraph, 0, len(c.Paragraphs)),
	}
	for _, p := range c.Paragraphs {
		ch.Content = append(ch.Content, types.Paragraph{
			Id:      p.Id,
			Speaker: p.Speaker,
			Content: p.Content,
		})
	}
	return ch
}

// validateCreateRoom fills in defaults and rejects configurations a room
// cannot be created with.
func validateCreateRoom(req *types.CreateRoomRequest) bool {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.BookId <= 0 || req.ChapterId == "" {
		return false
	}
	if req.Capacity < types.MinCapacity || req.Capacity > types.MaxCapacity {
		return false
	}

	if req.VoiceType == "" {
		req.VoiceType = tts.Voices[0]
	}
	if !tts.ValidVoice(req.VoiceType) {
		return false
	}

	if req.Speed == 0 {
		req.Speed = defaultSpeed
	}
	return req.Speed >= minSpeed && req.Speed <= maxSpeed
}

func (s *App) listRooms(w http.ResponseWriter, _ *http.Request) {
	dbRooms, err := s.db.ListRooms()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, r := range dbRooms {
		rooms = append(rooms, toRoom(r))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *App) createRoom(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if !validateCreateRoom(&req) {
		s.writeError(w, NewBadRequestError())
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newRoom, err := s.db.CreateRoom(database.CreateRoomParams{
		Id:        sid,
		Name:      req.Name,
		BookId:    req.BookId,
		ChapterId: req.ChapterId,
		HostId:    userId,
		Capacity:  req.Capacity,
		VoiceType: req.VoiceType,
		Speed:     req.Speed,
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.log.Info().Str("room_id", newRoom.Id).Int("host_id", userId).Msg("room created")
	s.writeJson(w, http.StatusCreated, toRoom(newRoom))
}

func (s *App) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.db.GetRoom(r.PathValue("id"))
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.writeJson(w, http.StatusOK, toRoom(room))
}

func (s *App) getParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.rs.Participants(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.writeJson(w, http.StatusOK, participants)
}

// roomAction runs a room server call for the authenticated user and replies
// 204 on success.
func (s *App) roomAction(w http.ResponseWriter, r *http.Request, fn func(roomId string, userId int) error) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := fn(r.PathValue("id"), userId); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *App) enterRoom(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(roomId string, userId int) error {
		return s.rs.EnterRoom(r.Context(), roomId, userId)
	})
}

func (s *App) leaveRoom(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(roomId string, userId int) error {
		return s.rs.LeaveRoom(r.Context(), roomId, userId)
	})
}

func (s *App) kickParticipant(w http.ResponseWriter, r *http.Request) {
	target, err := strconv.Atoi(r.PathValue("userId"))
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	s.roomAction(w, r, func(roomId string, userId int) error {
		return s.rs.KickParticipant(r.Context(), roomId, userId, target)
	})
}

func (s *App) startReading(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(roomId string, userId int) error {
		return s.rs.ApplyEvent(r.Context(), roomId, userId, protocol.StatusChange(types.StatusPlaying))
	})
}

func (s *App) pauseReading(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(roomId string, userId int) error {
		return s.rs.ApplyEvent(r.Context(), roomId, userId, protocol.StatusChange(types.StatusPaused))
	})
}

func (s *App) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId := r.PathValue("id")

	limit := s.historyLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
		limit = min(n, s.historyLimit)
	}

	if _, err := s.db.GetRoom(roomId); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	messages, err := s.chat.Recent(r.Context(), roomId, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if messages == nil {
		messages = []types.ChatMessage{}
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *App) getChapter(w http.ResponseWriter, r *http.Request) {
	chapter, err := s.db.GetChapter(r.PathValue("id"))
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.writeJson(w, http.StatusOK, toChapter(chapter))
}

func (s *App) getAudio(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.tts.Resolve(q.Get("paragraph_id"), q.Get("voice"))
	if err != nil {
		if errors.Is(err, tts.ErrUnknownVoice) || errors.Is(err, tts.ErrMissingParagraph) {
			errResp := NewBadRequestError()
			errResp.Message = err.Error()
			s.writeError(w, errResp)
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, res)
}
