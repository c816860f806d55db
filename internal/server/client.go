package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection. A user may hold several.
type Client struct {
	conn      *websocket.Conn
	rs        *RoomServer
	log       zerolog.Logger
	user      types.User
	send      chan *protocol.ServerMessage
	rooms     map[string]struct{}
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, rs *RoomServer, l zerolog.Logger) *Client {
	return &Client{
		conn:  conn,
		rs:    rs,
		log:   l.With().Int("user_id", user.Id).Logger(),
		user:  user,
		send:  make(chan *protocol.ServerMessage, 256),
		rooms: make(map[string]struct{}),
		stop:  make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			break
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(protocol.ErrInvalidMessage(-1))
			continue
		}

		c.dispatch(&msg)
	}
}

// dispatch turns a client frame into a room op. Every frame gets exactly
// one response carrying its id.
func (c *Client) dispatch(msg *protocol.ClientMessage) {
	op := &roomOp{client: c, msgId: msg.Id}

	switch {
	case msg.Subscribe != nil:
		topic := msg.Subscribe.Topic
		op.roomId = msg.Subscribe.RoomId
		op.run = func(r *Room) error { return r.subscribe(c, topic) }
	case msg.Unsubscribe != nil:
		op.roomId = msg.Unsubscribe.RoomId
		op.ifLoaded = true
		op.run = func(r *Room) error { r.unsubscribe(c); return nil }
	case msg.Command != nil:
		ev := msg.Command.Event
		op.roomId = msg.Command.RoomId
		op.run = func(r *Room) error { return r.applyEvent(c.user.Id, ev) }
	case msg.Publish != nil:
		content := msg.Publish.Content
		op.roomId = msg.Publish.RoomId
		op.run = func(r *Room) error { return r.publish(c.user.Id, content) }
	default:
		c.queueMessage(protocol.ErrInvalidMessage(msg.Id))
		return
	}

	if op.roomId == "" {
		c.queueMessage(protocol.ErrInvalidMessage(msg.Id))
		return
	}

	c.rs.submit(op)
}

func (c *Client) queueMessage(msg *protocol.ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.rs.DeRegisterClient(c)
	c.leaveAllRooms()
	c.stopClient()
}

// leaveAllRooms drops the connection's subscriptions. Participation is
// untouched; leaving a room is an explicit REST call.
func (c *Client) leaveAllRooms() {
	for _, roomId := range c.roomIds() {
		op := &roomOp{
			roomId:   roomId,
			ifLoaded: true,
			run:      func(r *Room) error { r.unsubscribe(c); return nil },
		}

		select {
		case c.rs.opChan <- op:
		case <-c.rs.done:
			return
		}
	}
}

func (c *Client) addRoom(roomId string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[roomId] = struct{}{}
}

func (c *Client) delRoom(roomId string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, roomId)
}

func (c *Client) roomIds() []string {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
