package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	defaultRedialAttempts = 5
	defaultRedialBackoff  = time.Second
)

var (
	errNotConnected = errors.New("not connected")
	errConnLost     = errors.New("connection lost")
)

type MessageHandler func(*protocol.ServerMessage)

// Subscription identifies a registered topic handler.
type Subscription struct {
	RoomId string
	Topic  protocol.Topic
}

type topicHandler struct {
	onMessage         MessageHandler
	onForceDisconnect func()
}

type ConnOption func(*ConnManager)

func WithDialer(d *websocket.Dialer) ConnOption {
	return func(c *ConnManager) { c.dialer = d }
}

func WithRedial(attempts int, backoff time.Duration) ConnOption {
	return func(c *ConnManager) {
		c.redialAttempts = attempts
		c.redialBackoff = backoff
	}
}

// ConnManager owns the session's websocket. Frames are read by a single
// goroutine and handed to topic handlers synchronously, in arrival order.
// Handlers run on that goroutine and must not wait on Request.
type ConnManager struct {
	url    string
	sess   Session
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan *protocol.ClientMessage
	stop     chan struct{}
	done     chan struct{}
	closed   bool
	nextId   int
	pending  map[int]chan *protocol.Response
	handlers map[string]map[protocol.Topic]topicHandler

	redialAttempts int
	redialBackoff  time.Duration
	onReconnect    func()
	onDisconnect   func(error)
}

func NewConnManager(sess Session, url string, logger zerolog.Logger, opts ...ConnOption) *ConnManager {
	c := &ConnManager{
		url:            url,
		sess:           sess,
		dialer:         websocket.DefaultDialer,
		log:            logger.With().Str("component", "conn").Logger(),
		done:           make(chan struct{}),
		pending:        make(map[int]chan *protocol.Response),
		handlers:       make(map[string]map[protocol.Topic]topicHandler),
		redialAttempts: defaultRedialAttempts,
		redialBackoff:  defaultRedialBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnReconnect is called after a dropped connection has been re-established
// and its subscriptions restored.
func (c *ConnManager) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// OnDisconnect is called when redialing gives up.
func (c *ConnManager) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

func (c *ConnManager) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the server unless a connection is already up. Handshake
// failures are returned as *ConnectionError and are not retried.
func (c *ConnManager) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &ConnectionError{Op: "connect", Err: errors.New("connection manager closed")}
	}
	if c.conn != nil {
		return nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}

	c.attachLocked(conn)
	c.log.Info().Str("url", c.url).Msg("connected")
	return nil
}

func (c *ConnManager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.sess.Token)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return conn, nil
}

func (c *ConnManager) attachLocked(conn *websocket.Conn) {
	c.conn = conn
	c.stop = make(chan struct{})
	c.send = make(chan *protocol.ClientMessage, 64)

	go c.writePump(conn, c.send, c.stop)
	go c.readPump(conn)
}

func (c *ConnManager) writePump(conn *websocket.Conn, send <-chan *protocol.ClientMessage, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				c.log.Warn().Err(err).Msg("write message")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *ConnManager) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn().Err(err).Msg("error parsing message")
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *ConnManager) dispatch(msg *protocol.ServerMessage) {
	if msg.Topic == "" {
		if msg.Response == nil {
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.Id]
		delete(c.pending, msg.Id)
		c.mu.Unlock()

		if ok {
			ch <- msg.Response
		} else {
			c.log.Debug().Int("id", msg.Id).Msg("response for unknown request")
		}
		return
	}

	c.mu.Lock()
	h, ok := c.handlers[msg.RoomId][msg.Topic]
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("room", msg.RoomId).Str("topic", string(msg.Topic)).Msg("no handler for message")
		return
	}

	if msg.ForceDisconnect {
		if h.onForceDisconnect != nil {
			h.onForceDisconnect()
		}
		return
	}

	if h.onMessage != nil {
		h.onMessage(msg)
	}
}

func (c *ConnManager) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// torn down on purpose
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.log.Warn().Err(err).Msg("connection dropped")
	}
	c.redial()
}

func (c *ConnManager) teardownLocked() {
	if c.conn == nil {
		return
	}

	// the write pump sends the close frame and closes the socket
	close(c.stop)
	c.conn = nil

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *ConnManager) redial() {
	var lastErr error
	for attempt := 1; attempt <= c.redialAttempts; attempt++ {
		select {
		case <-time.After(c.redialBackoff * time.Duration(attempt)):
		case <-c.done:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("redial failed")
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.attachLocked(conn)
		subs := c.subscriptionsLocked()
		fn := c.onReconnect
		c.mu.Unlock()

		c.log.Info().Int("attempt", attempt).Msg("reconnected")
		c.resubscribe(subs)
		if fn != nil {
			fn()
		}
		return
	}

	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()

	if lastErr == nil {
		lastErr = errConnLost
	}
	if fn != nil {
		fn(&ConnectionError{Op: "reconnect", Err: lastErr})
	}
}

func (c *ConnManager) subscriptionsLocked() []Subscription {
	var subs []Subscription
	for roomId, topics := range c.handlers {
		for topic := range topics {
			subs = append(subs, Subscription{RoomId: roomId, Topic: topic})
		}
	}
	return subs
}

func (c *ConnManager) resubscribe(subs []Subscription) {
	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_, err := c.Request(ctx, &protocol.ClientMessage{
			Subscribe: &protocol.Subscribe{RoomId: sub.RoomId, Topic: sub.Topic},
		})
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Str("room", sub.RoomId).Str("topic", string(sub.Topic)).Msg("resubscribe failed")
		}
	}
}

// Request sends a frame and waits for the server's response to it.
func (c *ConnManager) Request(ctx context.Context, msg *protocol.ClientMessage) (*protocol.Response, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, &ConnectionError{Op: "send", Err: errNotConnected}
	}
	c.nextId++
	msg.Id = c.nextId
	msg.Timestamp = protocol.Now()
	ch := make(chan *protocol.Response, 1)
	c.pending[msg.Id] = ch
	send, stop := c.send, c.stop
	c.mu.Unlock()

	select {
	case send <- msg:
	case <-stop:
		return nil, &ConnectionError{Op: "send", Err: errConnLost}
	case <-ctx.Done():
		c.dropPending(msg.Id)
		return nil, ctx.Err()
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, &ConnectionError{Op: "send", Err: errConnLost}
		}
		if !resp.OK() {
			return resp, &CommandRejectedError{Code: resp.ResponseCode, Reason: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(msg.Id)
		return nil, ctx.Err()
	}
}

func (c *ConnManager) dropPending(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// Subscribe registers handlers for a room topic and confirms the
// subscription with the server.
func (c *ConnManager) Subscribe(ctx context.Context, roomId string, topic protocol.Topic, onMessage MessageHandler, onForceDisconnect func()) (*Subscription, error) {
	c.mu.Lock()
	if c.handlers[roomId] == nil {
		c.handlers[roomId] = make(map[protocol.Topic]topicHandler)
	}
	c.handlers[roomId][topic] = topicHandler{onMessage: onMessage, onForceDisconnect: onForceDisconnect}
	c.mu.Unlock()

	_, err := c.Request(ctx, &protocol.ClientMessage{
		Subscribe: &protocol.Subscribe{RoomId: roomId, Topic: topic},
	})
	if err != nil {
		c.mu.Lock()
		delete(c.handlers[roomId], topic)
		if len(c.handlers[roomId]) == 0 {
			delete(c.handlers, roomId)
		}
		c.mu.Unlock()
		return nil, err
	}

	return &Subscription{RoomId: roomId, Topic: topic}, nil
}

// Unsubscribe drops every handler for the room, then tells the server.
// Handlers are removed even if the server cannot be reached.
func (c *ConnManager) Unsubscribe(ctx context.Context, roomId string) error {
	c.mu.Lock()
	delete(c.handlers, roomId)
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}

	_, err := c.Request(ctx, &protocol.ClientMessage{
		Unsubscribe: &protocol.Unsubscribe{RoomId: roomId},
	})
	return err
}

func (c *ConnManager) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.teardownLocked()
}
