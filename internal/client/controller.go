package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const teardownTimeout = 5 * time.Second

// Channel is the realtime connection the controller subscribes through.
// *ConnManager implements it.
type Channel interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, roomId string, topic protocol.Topic, onMessage MessageHandler, onForceDisconnect func()) (*Subscription, error)
	Unsubscribe(ctx context.Context, roomId string) error
	Request(ctx context.Context, msg *protocol.ClientMessage) (*protocol.Response, error)
	OnReconnect(fn func())
	OnDisconnect(fn func(error))
	Close()
}

type NoticeKind int

const (
	NoticeKicked NoticeKind = iota + 1
	NoticeRoomClosed
	NoticeConnectionLost
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeKicked:
		return "kicked"
	case NoticeRoomClosed:
		return "room closed"
	case NoticeConnectionLost:
		return "connection lost"
	}
	return "unknown"
}

// Notice reports the end of a room session to the presentation layer.
type Notice struct {
	Kind   NoticeKind
	RoomId string
	Err    error
}

type Listener interface {
	OnRoster(participants map[int]types.Participant)
	OnPlayback(state PlaybackState)
	OnChat(msg types.ChatMessage)
	OnNotice(n Notice)
}

type NopListener struct{}

func (NopListener) OnRoster(map[int]types.Participant) {}
func (NopListener) OnPlayback(PlaybackState)           {}
func (NopListener) OnChat(types.ChatMessage)           {}
func (NopListener) OnNotice(Notice)                    {}

type ControllerConfig struct {
	Session        Session
	Channel        Channel
	Rooms          RoomService
	History        ChatHistory
	Audio          AudioResolver
	Chapters       ChapterService
	Player         MediaPlayer
	Scheduler      Scheduler
	RosterDebounce time.Duration
	Listener       Listener
	Logger         zerolog.Logger
}

type roomSession struct {
	room   types.Room
	roster *Roster
	engine *Engine
	chat   *ChatRelay
}

// Controller is the single entry point the presentation layer talks to. It
// holds at most one room session at a time.
type Controller struct {
	cfg ControllerConfig
	log zerolog.Logger

	mu     sync.Mutex
	active *roomSession
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewTimerScheduler()
	}

	c := &Controller{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "controller").Int("user", cfg.Session.UserId).Logger(),
	}

	cfg.Channel.OnReconnect(c.resync)
	cfg.Channel.OnDisconnect(c.handleDisconnect)
	return c
}

func validateRoomConfig(req types.CreateRoomRequest) error {
	fields := make(map[string]string)
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "title is required"
	}
	if req.BookId <= 0 {
		fields["book_id"] = "a book must be selected"
	}
	if req.Capacity < types.MinCapacity || req.Capacity > types.MaxCapacity {
		fields["capacity"] = fmt.Sprintf("must be between %d and %d", types.MinCapacity, types.MaxCapacity)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// CreateRoom validates the form locally and only then asks the server.
func (c *Controller) CreateRoom(ctx context.Context, req types.CreateRoomRequest) (types.Room, error) {
	if err := validateRoomConfig(req); err != nil {
		return types.Room{}, err
	}

	room, err := c.cfg.Rooms.CreateRoom(ctx, req)
	if err != nil {
		ce := &CreationError{Err: err}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			ce.StatusCode = apiErr.StatusCode
		}
		return types.Room{}, ce
	}

	c.log.Info().Str("room", room.Id).Msg("room created")
	return room, nil
}

func (c *Controller) ListRooms(ctx context.Context) ([]types.Room, error) {
	return c.cfg.Rooms.GetRooms(ctx)
}

func (c *Controller) newSession(roomId string) *roomSession {
	sess := &roomSession{
		room:   types.Room{Id: roomId},
		roster: NewRoster(roomId, c.cfg.Rooms, c.cfg.Scheduler, c.cfg.RosterDebounce, c.log),
		chat:   NewChatRelay(),
	}

	sess.engine = NewEngine(
		c.cfg.Player,
		c.cfg.Audio,
		&roomEmitter{roomId: roomId, channel: c.cfg.Channel, rooms: c.cfg.Rooms},
		func() bool { return c.sessionIsHost(sess) },
		c.log.With().Str("room", roomId).Logger(),
	)

	listener := c.cfg.Listener
	sess.roster.OnChange(listener.OnRoster)
	sess.engine.OnChange(listener.OnPlayback)
	sess.chat.OnAppend(listener.OnChat)
	return sess
}

// EnterRoom joins the room on the server, loads its state, subscribes to
// its topics and brings playback in line with the room's snapshot.
func (c *Controller) EnterRoom(ctx context.Context, roomId string) error {
	c.mu.Lock()
	current := c.active
	c.mu.Unlock()

	if current != nil {
		if current.room.Id == roomId {
			return nil
		}
		if err := c.LeaveRoom(ctx); err != nil && !errors.Is(err, ErrNotInRoom) {
			return err
		}
	}

	if err := c.cfg.Channel.Connect(ctx); err != nil {
		return err
	}

	if err := c.cfg.Rooms.EnterRoom(ctx, roomId); err != nil {
		return fmt.Errorf("enter room: %w", err)
	}

	sess := c.newSession(roomId)
	log := c.log.With().Str("room", roomId).Logger()

	var (
		room         types.Room
		chapter      types.Chapter
		participants []types.Participant
		history      []types.ChatMessage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		room, err = c.cfg.Rooms.GetRoom(gctx, roomId)
		if err != nil {
			return fmt.Errorf("get room: %w", err)
		}

		chapter, err = c.cfg.Chapters.GetChapter(gctx, room.ChapterId)
		if err != nil {
			log.Warn().Err(&RecoverableFetchError{Resource: "chapter", Err: err}).Msg("entering without chapter content")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		participants, err = c.cfg.Rooms.GetParticipants(gctx, roomId)
		if err != nil {
			log.Warn().Err(&RecoverableFetchError{Resource: "participants", Err: err}).Msg("entering with empty roster")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		history, err = c.cfg.History.GetRecentMessages(gctx, roomId)
		if err != nil {
			log.Warn().Err(&RecoverableFetchError{Resource: "chat history", Err: err}).Msg("entering without chat history")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		c.bestEffortLeave(roomId)
		return err
	}

	sess.room = room
	sess.roster.Replace(participants)
	sess.chat.Hydrate(history)
	sess.engine.Load(room.VoiceType, chapter.Content)

	c.mu.Lock()
	c.active = sess
	c.mu.Unlock()

	if err := c.subscribe(ctx, sess); err != nil {
		c.mu.Lock()
		if c.active == sess {
			c.active = nil
		}
		c.mu.Unlock()

		c.cfg.Channel.Unsubscribe(ctx, roomId)
		sess.roster.Stop()
		c.bestEffortLeave(roomId)
		return err
	}

	// the session's engine is new, so any event pushed since subscribing
	// is already recorded and takes precedence over the snapshot
	sess.engine.Reconcile(room)

	log.Info().Str("status", string(room.Status)).Msg("entered room")
	return nil
}

func (c *Controller) subscribe(ctx context.Context, sess *roomSession) error {
	roomId := sess.room.Id

	_, err := c.cfg.Channel.Subscribe(ctx, roomId, protocol.TopicRoomStatus,
		func(msg *protocol.ServerMessage) { c.handleStatus(sess, msg) },
		nil,
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.TopicRoomStatus, err)
	}

	_, err = c.cfg.Channel.Subscribe(ctx, roomId, protocol.TopicChat,
		func(msg *protocol.ServerMessage) {
			if msg.Chat != nil {
				sess.chat.Append(*msg.Chat)
			}
		},
		func() {
			// runs on the connection's read goroutine, which teardown waits on
			go c.endSession(sess, NoticeKicked, ErrForcedEviction)
		},
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.TopicChat, err)
	}
	return nil
}

func (c *Controller) handleStatus(sess *roomSession, msg *protocol.ServerMessage) {
	if msg.Event == nil {
		return
	}

	switch msg.Event.Type {
	case protocol.EventParticipantUpdate:
		sess.roster.HandleUpdate()
	case protocol.EventRoomClosed:
		go c.endSession(sess, NoticeRoomClosed, nil)
	case protocol.EventStatusChange, protocol.EventSyncParagraph:
		sess.engine.HandleEvent(*msg.Event)
	default:
		c.log.Debug().Str("type", string(msg.Event.Type)).Msg("ignoring room event")
	}
}

// endSession tears down a session the server ended.
func (c *Controller) endSession(sess *roomSession, kind NoticeKind, cause error) {
	c.mu.Lock()
	if c.active != sess {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := c.cfg.Channel.Unsubscribe(ctx, sess.room.Id); err != nil {
		c.log.Debug().Err(err).Msg("unsubscribe after session end")
	}
	c.clear(sess)

	c.log.Info().Str("room", sess.room.Id).Stringer("reason", kind).Msg("room session ended")
	c.cfg.Listener.OnNotice(Notice{Kind: kind, RoomId: sess.room.Id, Err: cause})
}

func (c *Controller) clear(sess *roomSession) {
	sess.roster.Stop()
	sess.engine.Reset()
}

// LeaveRoom unsubscribes, clears local state and then tells the server.
// Local state is cleared even if the server cannot be reached.
func (c *Controller) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	sess := c.active
	c.active = nil
	c.mu.Unlock()

	if sess == nil {
		return ErrNotInRoom
	}

	roomId := sess.room.Id
	if err := c.cfg.Channel.Unsubscribe(ctx, roomId); err != nil {
		c.log.Warn().Err(err).Str("room", roomId).Msg("unsubscribe failed")
	}
	c.clear(sess)

	if err := c.cfg.Rooms.LeaveRoom(ctx, roomId); err != nil {
		c.log.Warn().Err(err).Str("room", roomId).Msg("server leave failed")
	}

	c.log.Info().Str("room", roomId).Msg("left room")
	return nil
}

func (c *Controller) bestEffortLeave(roomId string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := c.cfg.Rooms.LeaveRoom(ctx, roomId); err != nil {
		c.log.Debug().Err(err).Str("room", roomId).Msg("leave after failed enter")
	}
}

// KickParticipant asks the server to remove a participant. The local roster
// changes only when the resulting update notification is reconciled.
func (c *Controller) KickParticipant(ctx context.Context, userId int) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	if !c.sessionIsHost(sess) {
		return ErrNotHost
	}
	return c.cfg.Rooms.KickUser(ctx, sess.room.Id, userId)
}

func (c *Controller) Start(ctx context.Context) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	return sess.engine.Start(ctx)
}

func (c *Controller) Pause(ctx context.Context) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	return sess.engine.Pause(ctx)
}

// TrackEnded is wired to the media player's end-of-track signal.
func (c *Controller) TrackEnded(ctx context.Context) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	if !c.sessionIsHost(sess) {
		return nil
	}
	return sess.engine.AdvanceToNext(ctx)
}

func (c *Controller) SendMessage(ctx context.Context, content string) error {
	sess, err := c.session()
	if err != nil {
		return err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return &ValidationError{Fields: map[string]string{"content": "message is empty"}}
	}

	_, err = c.cfg.Channel.Request(ctx, &protocol.ClientMessage{
		Publish: &protocol.Publish{RoomId: sess.room.Id, Content: content},
	})
	return err
}

// Room returns the cached room with the live playback projection applied.
func (c *Controller) Room() (types.Room, bool) {
	sess, err := c.session()
	if err != nil {
		return types.Room{}, false
	}

	room := sess.room
	state := sess.engine.State()
	room.Status = state.Status
	room.ParagraphId = nil
	if id, ok := state.Cursor.ParagraphId(); ok {
		room.ParagraphId = &id
	}
	room.ParticipantCount = sess.roster.Len()
	return room, true
}

func (c *Controller) Participants() map[int]types.Participant {
	sess, err := c.session()
	if err != nil {
		return nil
	}
	return sess.roster.Participants()
}

func (c *Controller) Messages() []types.ChatMessage {
	sess, err := c.session()
	if err != nil {
		return nil
	}
	return sess.chat.Messages()
}

func (c *Controller) Playback() PlaybackState {
	sess, err := c.session()
	if err != nil {
		return PlaybackState{Status: types.StatusWaiting}
	}
	return sess.engine.State()
}

func (c *Controller) CurrentParagraph() (types.Paragraph, bool) {
	sess, err := c.session()
	if err != nil {
		return types.Paragraph{}, false
	}
	return sess.engine.CurrentParagraph()
}

func (c *Controller) IsHost() bool {
	sess, err := c.session()
	if err != nil {
		return false
	}
	return c.sessionIsHost(sess)
}

// sessionIsHost reads host status from the roster, falling back to the
// room snapshot before the roster has loaded. The server re-checks every
// host command regardless.
func (c *Controller) sessionIsHost(sess *roomSession) bool {
	self := c.cfg.Session.UserId
	if p, ok := sess.roster.Get(self); ok {
		return p.IsHost
	}
	return sess.room.HostId == self
}

func (c *Controller) session() (*roomSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, ErrNotInRoom
	}
	return c.active, nil
}

// resync re-reads the room after a reconnect, since events may have been
// missed while the socket was down.
func (c *Controller) resync() {
	sess, err := c.session()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	sess.engine.ExpectSnapshot()
	room, err := c.cfg.Rooms.GetRoom(ctx, sess.room.Id)
	if err != nil {
		c.log.Warn().Err(&RecoverableFetchError{Resource: "room", Err: err}).Msg("resync after reconnect")
		return
	}

	sess.roster.Refresh()
	sess.engine.Reconcile(room)
	c.log.Info().Str("room", room.Id).Msg("resynced after reconnect")
}

func (c *Controller) handleDisconnect(err error) {
	sess, serr := c.session()
	if serr != nil {
		return
	}

	c.mu.Lock()
	if c.active == sess {
		c.active = nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	c.cfg.Channel.Unsubscribe(ctx, sess.room.Id)
	c.clear(sess)

	c.log.Error().Err(err).Str("room", sess.room.Id).Msg("connection lost")
	c.cfg.Listener.OnNotice(Notice{Kind: NoticeConnectionLost, RoomId: sess.room.Id, Err: err})
}

// Close leaves the current room and shuts the connection down.
func (c *Controller) Close(ctx context.Context) {
	if err := c.LeaveRoom(ctx); err != nil && !errors.Is(err, ErrNotInRoom) {
		c.log.Warn().Err(err).Msg("leave on close")
	}
	c.cfg.Channel.Close()
}

// roomEmitter routes host commands upstream. Status changes go through the
// REST start/pause endpoints; cursor moves go over the socket. Each call
// waits for the server's acknowledgement, so a cursor move always lands
// before a status change issued after it.
type roomEmitter struct {
	roomId  string
	channel Channel
	rooms   RoomService
}

func (e *roomEmitter) Emit(ctx context.Context, ev protocol.RoomEvent) error {
	if ev.Type == protocol.EventStatusChange {
		switch ev.Status {
		case types.StatusPlaying:
			return e.rooms.StartReading(ctx, e.roomId)
		case types.StatusPaused:
			return e.rooms.PauseReading(ctx, e.roomId)
		}
	}

	_, err := e.channel.Request(ctx, &protocol.ClientMessage{
		Command: &protocol.Command{RoomId: e.roomId, Event: ev},
	})
	return err
}
