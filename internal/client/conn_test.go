package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer acks every client frame with 200 unless reply says otherwise.
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	auth     []string
	reject   bool
	reply    func(msg *protocol.ClientMessage) *protocol.ServerMessage
	received chan *protocol.ClientMessage
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{received: make(chan *protocol.ClientMessage, 32)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.dropAll()
		s.srv.Close()
	})
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()

	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var msg protocol.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.received <- &msg

		s.mu.Lock()
		reply := s.reply
		s.mu.Unlock()

		resp := protocol.NoErrOK(msg.Id)
		if reply != nil {
			resp = reply(&msg)
		}
		s.write(conn, resp)
	}
}

func (s *wsServer) write(conn *websocket.Conn, msg *protocol.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.WriteJSON(msg)
}

// push sends a frame on the most recent connection.
func (s *wsServer) push(msg *protocol.ServerMessage) {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	s.write(conn, msg)
}

func (s *wsServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) next(t *testing.T) *protocol.ClientMessage {
	t.Helper()
	select {
	case msg := <-s.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func newTestConn(t *testing.T, s *wsServer, opts ...ConnOption) *ConnManager {
	c := NewConnManager(Session{Token: "tok", UserId: 1}, s.url(), testutil.TestLogger(t), opts...)
	t.Cleanup(c.Close)
	return c
}

func TestConnectIdempotent(t *testing.T) {
	s := newWSServer(t)
	c := newTestConn(t, s)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	assert.True(t, c.Connected())
	assert.Equal(t, 1, s.connCount())
	s.mu.Lock()
	assert.Equal(t, []string{"Bearer tok"}, s.auth)
	s.mu.Unlock()
}

func TestConnectHandshakeRejected(t *testing.T) {
	s := newWSServer(t)
	s.reject = true
	c := newTestConn(t, s)

	err := c.Connect(context.Background())

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "connect", cerr.Op)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, c.Connected())
}

func TestRequestNotConnected(t *testing.T) {
	s := newWSServer(t)
	c := newTestConn(t, s)

	_, err := c.Request(context.Background(), &protocol.ClientMessage{})

	var cerr *ConnectionError
	assert.ErrorAs(t, err, &cerr)
}

func TestSubscribeAndDispatch(t *testing.T) {
	s := newWSServer(t)
	c := newTestConn(t, s)
	require.NoError(t, c.Connect(context.Background()))

	got := make(chan *protocol.ServerMessage, 8)
	sub, err := c.Subscribe(context.Background(), "r1", protocol.TopicRoomStatus,
		func(msg *protocol.ServerMessage) { got <- msg }, nil)
	require.NoError(t, err)
	assert.Equal(t, &Subscription{RoomId: "r1", Topic: protocol.TopicRoomStatus}, sub)

	frame := s.next(t)
	require.NotNil(t, frame.Subscribe)
	assert.Equal(t, "r1", frame.Subscribe.RoomId)
	assert.Equal(t, protocol.TopicRoomStatus, frame.Subscribe.Topic)
	assert.Positive(t, frame.Id)

	s.push(protocol.StatusEvent("r1", protocol.SyncParagraph("p0", true)))
	s.push(protocol.StatusEvent("r1", protocol.StatusChange("PLAYING")))
	s.push(protocol.StatusEvent("other", protocol.StatusChange("PAUSED")))

	first := <-got
	second := <-got
	assert.Equal(t, protocol.EventSyncParagraph, first.Event.Type, "expected arrival order preserved")
	assert.Equal(t, protocol.EventStatusChange, second.Event.Type)

	select {
	case msg := <-got:
		t.Fatalf("unexpected message for unsubscribed room: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeRejected(t *testing.T) {
	s := newWSServer(t)
	s.reply = func(msg *protocol.ClientMessage) *protocol.ServerMessage {
		return protocol.ErrRoomNotFound(msg.Id)
	}
	c := newTestConn(t, s)
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Subscribe(context.Background(), "missing", protocol.TopicChat, func(*protocol.ServerMessage) {}, nil)

	var rerr *CommandRejectedError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.Code)

	c.mu.Lock()
	_, registered := c.handlers["missing"]
	c.mu.Unlock()
	assert.False(t, registered, "expected handler removed after rejection")
}

func TestForceDisconnectRouted(t *testing.T) {
	s := newWSServer(t)
	c := newTestConn(t, s)
	require.NoError(t, c.Connect(context.Background()))

	kicked := make(chan struct{}, 1)
	chats := make(chan *protocol.ServerMessage, 1)
	_, err := c.Subscribe(context.Background(), "r1", protocol.TopicChat,
		func(msg *protocol.ServerMessage) { chats <- msg },
		func() { kicked <- struct{}{} })
	require.NoError(t, err)

	s.push(protocol.ForceDisconnect("r1"))

	select {
	case <-kicked:
	case <-time.After(time.Second):
		t.Fatal("force disconnect not delivered")
	}
	assert.Empty(t, chats, "expected force disconnect not passed to the message handler")
}

func TestUnsubscribe(t *testing.T) {
	s := newWSServer(t)
	c := newTestConn(t, s)
	require.NoError(t, c.Connect(context.Background()))

	got := make(chan *protocol.ServerMessage, 1)
	_, err := c.Subscribe(context.Background(), "r1", protocol.TopicRoomStatus, func(msg *protocol.ServerMessage) { got <- msg }, nil)
	require.NoError(t, err)
	s.next(t)

	require.NoError(t, c.Unsubscribe(context.Background(), "r1"))
	frame := s.next(t)
	require.NotNil(t, frame.Unsubscribe)
	assert.Equal(t, "r1", frame.Unsubscribe.RoomId)

	s.push(protocol.StatusEvent("r1", protocol.ParticipantUpdate()))
	select {
	case <-got:
		t.Fatal("handler called after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectResubscribes(t *testing.T) {
	s := newWSServer(t)
	c := newTestConn(t, s, WithRedial(3, 10*time.Millisecond))

	reconnected := make(chan struct{}, 1)
	c.OnReconnect(func() { reconnected <- struct{}{} })

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.Subscribe(context.Background(), "r1", protocol.TopicRoomStatus, func(*protocol.ServerMessage) {}, nil)
	require.NoError(t, err)
	s.next(t)

	s.dropAll()

	frame := s.next(t)
	require.NotNil(t, frame.Subscribe, "expected subscription restored on the new connection")
	assert.Equal(t, "r1", frame.Subscribe.RoomId)

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect hook not called")
	}
	assert.Equal(t, 2, s.connCount())
	assert.True(t, c.Connected())
}

func TestReconnectGivesUp(t *testing.T) {
	s := newWSServer(t)
	c := newTestConn(t, s, WithRedial(2, 5*time.Millisecond))

	lost := make(chan error, 1)
	c.OnDisconnect(func(err error) { lost <- err })

	require.NoError(t, c.Connect(context.Background()))

	s.mu.Lock()
	s.reject = true
	s.mu.Unlock()
	s.dropAll()

	select {
	case err := <-lost:
		var cerr *ConnectionError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "reconnect", cerr.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook not called")
	}
	assert.False(t, c.Connected())
}

func TestCloseStopsRedial(t *testing.T) {
	s := newWSServer(t)
	c := newTestConn(t, s, WithRedial(3, 10*time.Millisecond))

	require.NoError(t, c.Connect(context.Background()))
	c.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, s.connCount(), "expected no redial after close")

	err := c.Connect(context.Background())
	var cerr *ConnectionError
	assert.ErrorAs(t, err, &cerr)
}
