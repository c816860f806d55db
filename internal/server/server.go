package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-readroom/internal/chatstore"
	"github.com/npezzotti/go-readroom/internal/database"
	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/stats"
	"github.com/npezzotti/go-readroom/internal/types"
)

// RoomServer owns the loaded rooms and routes work to them. Each room runs
// on its own goroutine and is the only writer of its playback state.
type RoomServer struct {
	log            zerolog.Logger
	db             database.Repository
	chat           chatstore.Store
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	clientsLock    sync.RWMutex
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	opChan         chan *roomOp
	unloadRoomChan chan unloadRoomRequest
	stop           chan stopReq
	done           chan struct{}
}

func NewRoomServer(logger zerolog.Logger, db database.Repository, chat chatstore.Store, su stats.StatsProvider) *RoomServer {
	for _, name := range stats.Counters {
		su.RegisterMetric(name)
	}

	return &RoomServer{
		log:            logger,
		db:             db,
		chat:           chat,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		opChan:         make(chan *roomOp, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 64),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (s *RoomServer) Run() {
	defer close(s.done)

	for {
		select {
		case op := <-s.opChan:
			s.handleOp(op)
		case req := <-s.unloadRoomChan:
			s.unloadRoom(req)
		case req := <-s.stop:
			s.log.Info().Msg("shutting down rooms")
			s.unloadAllRooms()
			s.stopClients()
			close(req.done)
			return
		}
	}
}

// Shutdown unloads every room and disconnects every client.
func (s *RoomServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}
	select {
	case s.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RoomServer) handleOp(op *roomOp) {
	room, ok := s.getRoom(op.roomId)
	if !ok {
		if op.ifLoaded {
			op.reply(nil)
			return
		}

		var err error
		room, err = s.loadRoom(op.roomId)
		if err != nil {
			if !errors.Is(err, ErrRoomNotFound) {
				s.log.Error().Err(err).Str("room_id", op.roomId).Msg("load room")
			}
			op.reply(err)
			return
		}
	}

	select {
	case room.opChan <- op:
	default:
		s.log.Warn().Str("room_id", room.id).Msg("room op channel full")
		op.reply(ErrRoomUnavailable)
	}
}

func (s *RoomServer) loadRoom(roomId string) (*Room, error) {
	dbRoom, err := s.db.GetRoom(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	participants, err := s.db.ListParticipants(roomId)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	chapter, err := s.db.GetChapter(dbRoom.ChapterId)
	if err != nil {
		return nil, fmt.Errorf("get chapter: %w", err)
	}

	room := newRoom(s, dbRoom, participants, chapter)
	s.addRoom(room)
	go room.start()

	return room, nil
}

func (s *RoomServer) addRoom(r *Room) {
	s.roomsLock.Lock()
	defer s.roomsLock.Unlock()

	s.rooms[r.id] = r
	s.stats.Incr(stats.NumActiveRooms)
}

func (s *RoomServer) getRoom(roomId string) (*Room, bool) {
	s.roomsLock.RLock()
	defer s.roomsLock.RUnlock()

	r, ok := s.rooms[roomId]
	return r, ok
}

func (s *RoomServer) removeRoom(roomId string) {
	s.roomsLock.Lock()
	defer s.roomsLock.Unlock()

	if _, ok := s.rooms[roomId]; ok {
		delete(s.rooms, roomId)
		s.stats.Decr(stats.NumActiveRooms)
	}
}

func (s *RoomServer) unloadRoom(req unloadRoomRequest) {
	r, ok := s.getRoom(req.roomId)
	if !ok {
		return
	}

	s.log.Info().Str("room_id", req.roomId).Bool("deleted", req.deleted).Msg("unloading room")
	s.removeRoom(req.roomId)

	done := make(chan struct{})
	r.exit <- exitReq{deleted: req.deleted, done: done}
	<-done
}

func (s *RoomServer) unloadAllRooms() {
	s.roomsLock.RLock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	s.roomsLock.RUnlock()

	for _, id := range ids {
		s.unloadRoom(unloadRoomRequest{roomId: id})
	}
}

func (s *RoomServer) RegisterClient(c *Client) {
	s.addClient(c)
}

func (s *RoomServer) DeRegisterClient(c *Client) {
	s.removeClient(c)
}

func (s *RoomServer) addClient(c *Client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	s.clients[c] = struct{}{}
	if s.userMap[c.user.Id] == nil {
		s.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	s.userMap[c.user.Id][c] = struct{}{}
	s.stats.Incr(stats.NumConnectedClients)
}

func (s *RoomServer) removeClient(c *Client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}

	delete(s.clients, c)
	if userClients, ok := s.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(s.userMap, c.user.Id)
		}
	}
	s.stats.Decr(stats.NumConnectedClients)
}

func (s *RoomServer) getClients(userId int) []*Client {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(s.userMap[userId]))
	for c := range s.userMap[userId] {
		clients = append(clients, c)
	}
	return clients
}

func (s *RoomServer) stopClients() {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()

	for c := range s.clients {
		c.stopClient()
	}
}

// submit queues a websocket op without blocking the caller.
func (s *RoomServer) submit(op *roomOp) {
	select {
	case s.opChan <- op:
	default:
		s.log.Warn().Str("room_id", op.roomId).Msg("op channel full")
		op.reply(ErrRoomUnavailable)
	}
}

// do runs fn on the room's goroutine and waits for its result.
func (s *RoomServer) do(ctx context.Context, roomId string, fn func(r *Room) error) error {
	op := &roomOp{roomId: roomId, run: fn, done: make(chan error, 1)}

	select {
	case <-s.done:
		return ErrRoomUnavailable
	default:
	}

	select {
	case s.opChan <- op:
	case <-s.done:
		return ErrRoomUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnterRoom adds the user to the room's participants.
func (s *RoomServer) EnterRoom(ctx context.Context, roomId string, userId int) error {
	return s.do(ctx, roomId, func(r *Room) error {
		return r.enter(userId)
	})
}

// LeaveRoom removes the user. The host leaving closes the room.
func (s *RoomServer) LeaveRoom(ctx context.Context, roomId string, userId int) error {
	return s.do(ctx, roomId, func(r *Room) error {
		return r.leave(userId)
	})
}

func (s *RoomServer) KickParticipant(ctx context.Context, roomId string, by, target int) error {
	return s.do(ctx, roomId, func(r *Room) error {
		return r.kick(by, target)
	})
}

// ApplyEvent applies a host command and broadcasts it on the room-status topic.
func (s *RoomServer) ApplyEvent(ctx context.Context, roomId string, userId int, ev protocol.RoomEvent) error {
	return s.do(ctx, roomId, func(r *Room) error {
		return r.applyEvent(userId, ev)
	})
}

// Participants returns the room's roster with the host flagged.
func (s *RoomServer) Participants(ctx context.Context, roomId string) ([]types.Participant, error) {
	var participants []types.Participant
	err := s.do(ctx, roomId, func(r *Room) error {
		participants = r.participantList()
		return nil
	})
	return participants, err
}
