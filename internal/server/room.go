package server

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/npezzotti/go-readroom/internal/chatstore"
	"github.com/npezzotti/go-readroom/internal/database"
	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/stats"
	"github.com/npezzotti/go-readroom/internal/types"
)

const (
	idleRoomTimeout = 30 * time.Second
	storeTimeout    = 3 * time.Second
)

type Room struct {
	id       string
	hostId   int
	capacity int
	status   types.RoomStatus
	// cursor is nil until the host syncs the first paragraph.
	cursor       *string
	paragraphs   map[string]struct{}
	participants map[int]database.Participant
	subs         map[*Client]map[protocol.Topic]struct{}
	closed       bool

	cs    *RoomServer
	db    database.Repository
	chat  chatstore.Store
	stats stats.StatsProvider
	log   zerolog.Logger

	opChan chan *roomOp
	// killTimer unloads the room once nobody is subscribed to it.
	killTimer *time.Timer
	exit      chan exitReq
}

func newRoom(cs *RoomServer, dbRoom database.Room, participants []database.Participant, chapter database.Chapter) *Room {
	r := &Room{
		id:           dbRoom.Id,
		hostId:       dbRoom.HostId,
		capacity:     dbRoom.Capacity,
		status:       types.RoomStatus(dbRoom.Status),
		paragraphs:   make(map[string]struct{}, len(chapter.Paragraphs)),
		participants: make(map[int]database.Participant, len(participants)),
		subs:         make(map[*Client]map[protocol.Topic]struct{}),
		cs:           cs,
		db:           cs.db,
		chat:         cs.chat,
		stats:        cs.stats,
		log:          cs.log.With().Str("room_id", dbRoom.Id).Logger(),
		opChan:       make(chan *roomOp, 256),
		exit:         make(chan exitReq),
	}

	if dbRoom.ParagraphId.Valid {
		id := dbRoom.ParagraphId.String
		r.cursor = &id
	}
	for _, p := range chapter.Paragraphs {
		r.paragraphs[p.Id] = struct{}{}
	}
	for _, p := range participants {
		r.participants[p.AccountId] = p
	}

	return r
}

func (r *Room) start() {
	r.log.Info().Msg("starting room")
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case op := <-r.opChan:
			r.handleOp(op)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleOp(op *roomOp) {
	if r.closed {
		op.reply(ErrRoomNotFound)
		return
	}
	op.reply(op.run(r))
}

// handleRoomTimeout asks the server to unload the room. A full unload
// channel re-arms the timer so the request is retried.
func (r *Room) handleRoomTimeout() {
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.id, deleted: r.closed}:
		r.log.Info().Bool("deleted", r.closed).Msg("room unload requested")
	default:
		r.log.Warn().Msg("unload channel full")
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Info().Bool("deleted", e.deleted).Msg("room exiting")
	r.killTimer.Stop()

	// ops queued after the unload decision never reach a live room
	err := ErrRoomUnavailable
	if r.closed {
		err = ErrRoomNotFound
	}
drain:
	for {
		select {
		case op := <-r.opChan:
			op.reply(err)
		default:
			break drain
		}
	}

	for c := range r.subs {
		c.delRoom(r.id)
	}
	r.subs = make(map[*Client]map[protocol.Topic]struct{})

	if e.done != nil {
		close(e.done)
	}
}

func (r *Room) isParticipant(userId int) bool {
	_, ok := r.participants[userId]
	return ok
}

func (r *Room) participantList() []types.Participant {
	list := make([]types.Participant, 0, len(r.participants))
	for userId, p := range r.participants {
		list = append(list, types.Participant{
			UserId:    userId,
			Username:  p.Username,
			AvatarUrl: p.AvatarUrl,
			IsHost:    userId == r.hostId,
			JoinedAt:  p.JoinedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

func (r *Room) enter(userId int) error {
	if r.isParticipant(userId) {
		return nil
	}
	if len(r.participants) >= r.capacity {
		return ErrRoomFull
	}

	p, err := r.db.AddParticipant(r.id, userId)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	r.participants[userId] = p
	r.log.Info().Int("user_id", userId).Msg("participant entered")

	r.broadcast(protocol.StatusEvent(r.id, protocol.ParticipantUpdate()))
	return nil
}

func (r *Room) leave(userId int) error {
	if !r.isParticipant(userId) {
		return nil
	}
	if userId == r.hostId {
		return r.close()
	}

	if err := r.db.RemoveParticipant(r.id, userId); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	delete(r.participants, userId)
	r.dropUser(userId)
	r.log.Info().Int("user_id", userId).Msg("participant left")

	r.broadcast(protocol.StatusEvent(r.id, protocol.ParticipantUpdate()))
	return nil
}

// close deletes the room and tells subscribers it is gone.
func (r *Room) close() error {
	if err := r.db.DeleteRoom(r.id); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.chat.Clear(ctx, r.id); err != nil {
		r.log.Warn().Err(err).Msg("clear chat history")
	}

	r.broadcast(protocol.StatusEvent(r.id, protocol.RoomClosed()))
	r.closed = true
	for c := range r.subs {
		c.delRoom(r.id)
	}
	r.subs = make(map[*Client]map[protocol.Topic]struct{})
	r.participants = make(map[int]database.Participant)
	r.log.Info().Msg("room closed by host")

	r.handleRoomTimeout()
	return nil
}

func (r *Room) kick(by, target int) error {
	if by != r.hostId {
		return ErrNotHost
	}
	if target == r.hostId {
		return ErrCannotKickHost
	}
	if !r.isParticipant(target) {
		return ErrNotParticipant
	}

	if err := r.db.RemoveParticipant(r.id, target); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	delete(r.participants, target)

	for c, topics := range r.subs {
		if c.user.Id != target {
			continue
		}
		if _, ok := topics[protocol.TopicChat]; ok {
			c.queueMessage(protocol.ForceDisconnect(r.id))
		}
	}
	r.dropUser(target)
	r.log.Info().Int("user_id", target).Msg("participant kicked")

	r.broadcast(protocol.StatusEvent(r.id, protocol.ParticipantUpdate()))
	return nil
}

// applyEvent validates a host command against the room state, persists the
// result and broadcasts the command as the committed event.
func (r *Room) applyEvent(userId int, ev protocol.RoomEvent) error {
	if userId != r.hostId {
		return ErrNotHost
	}

	status, cursor := r.status, r.cursor
	switch ev.Type {
	case protocol.EventStatusChange:
		if ev.Status != types.StatusPlaying && ev.Status != types.StatusPaused {
			return ErrInvalidEvent
		}
		if cursor == nil {
			return ErrNoCursor
		}
		status = ev.Status
	case protocol.EventSyncParagraph:
		if ev.ParagraphId == nil {
			if status == types.StatusPlaying {
				return ErrNoCursor
			}
			cursor = nil
			break
		}
		if _, ok := r.paragraphs[*ev.ParagraphId]; !ok {
			return ErrUnknownParagraph
		}
		id := *ev.ParagraphId
		cursor = &id
	default:
		return ErrInvalidEvent
	}

	err := r.db.UpdatePlayback(database.UpdatePlaybackParams{
		RoomId:      r.id,
		Status:      string(status),
		ParagraphId: nullString(cursor),
	})
	if err != nil {
		return fmt.Errorf("update playback: %w", err)
	}
	r.status, r.cursor = status, cursor

	r.broadcast(protocol.StatusEvent(r.id, ev))
	r.stats.Incr(stats.NumHostCommands)
	return nil
}

func (r *Room) publish(userId int, content string) error {
	p, ok := r.participants[userId]
	if !ok {
		return ErrNotParticipant
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	msg := types.ChatMessage{
		ChatId:             uuid.NewString(),
		SenderId:           userId,
		SenderName:         p.Username,
		SenderProfileImage: p.AvatarUrl,
		Content:            content,
		SendAt:             protocol.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.chat.Append(ctx, r.id, msg); err != nil {
		return fmt.Errorf("append chat: %w", err)
	}

	r.broadcast(protocol.ChatEvent(r.id, msg))
	r.stats.Incr(stats.NumChatMessages)
	return nil
}

func (r *Room) subscribe(c *Client, topic protocol.Topic) error {
	if !topic.Valid() {
		return ErrInvalidTopic
	}
	if !r.isParticipant(c.user.Id) {
		return ErrNotParticipant
	}

	if r.subs[c] == nil {
		r.subs[c] = make(map[protocol.Topic]struct{})
		c.addRoom(r.id)
	}
	r.subs[c][topic] = struct{}{}
	r.killTimer.Stop()

	return nil
}

func (r *Room) unsubscribe(c *Client) {
	if _, ok := r.subs[c]; !ok {
		return
	}
	delete(r.subs, c)
	c.delRoom(r.id)
	r.resetTimerIfIdle()
}

// dropUser removes every subscription held by the user's connections.
func (r *Room) dropUser(userId int) {
	for c := range r.subs {
		if c.user.Id == userId {
			delete(r.subs, c)
			c.delRoom(r.id)
		}
	}
	r.resetTimerIfIdle()
}

func (r *Room) resetTimerIfIdle() {
	if len(r.subs) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *protocol.ServerMessage) {
	for c, topics := range r.subs {
		if _, ok := topics[msg.Topic]; !ok {
			continue
		}
		c.queueMessage(msg)
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
