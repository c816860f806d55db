package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/types"
	"github.com/stretchr/testify/mock"
)

type fakePlayer struct {
	mu     sync.Mutex
	source string
	loads  []string
	plays  int
	pauses int
	resets int
	calls  []string
}

func (p *fakePlayer) Load(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = url
	p.loads = append(p.loads, url)
	p.calls = append(p.calls, "load")
}

func (p *fakePlayer) HasSource() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source != ""
}

func (p *fakePlayer) Play(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.calls = append(p.calls, "play")
	return errors.New("autoplay blocked")
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	p.calls = append(p.calls, "pause")
}

func (p *fakePlayer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = ""
	p.resets++
	p.calls = append(p.calls, "reset")
}

// callLog returns the player calls in the order they were made.
func (p *fakePlayer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) snapshot() (source string, loads []string, plays, pauses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source, append([]string(nil), p.loads...), p.plays, p.pauses
}

// fakeResolver returns "audio://<voice>/<id>" unless a gate is installed for
// the paragraph, in which case it waits for the gate.
type fakeResolver struct {
	mu    sync.Mutex
	gates map[string]chan error
	calls []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{gates: make(map[string]chan error)}
}

func (r *fakeResolver) gate(paragraphId string) chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan error, 1)
	r.gates[paragraphId] = ch
	return ch
}

func (r *fakeResolver) GetAudioUrl(ctx context.Context, paragraphId, voiceType string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, paragraphId)
	ch, gated := r.gates[paragraphId]
	r.mu.Unlock()

	if gated {
		select {
		case err := <-ch:
			if err != nil {
				return "", err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return audioURL(voiceType, paragraphId), nil
}

func audioURL(voice, paragraphId string) string {
	return fmt.Sprintf("audio://%s/%s", voice, paragraphId)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []protocol.RoomEvent
	err    error
}

func (e *recordingEmitter) Emit(_ context.Context, ev protocol.RoomEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) emitted() []protocol.RoomEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.RoomEvent(nil), e.events...)
}

type MockRoomService struct {
	mock.Mock
}

func (m *MockRoomService) GetRoom(ctx context.Context, roomId string) (types.Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockRoomService) GetRooms(ctx context.Context) ([]types.Room, error) {
	args := m.Called()
	return args.Get(0).([]types.Room), args.Error(1)
}

func (m *MockRoomService) GetParticipants(ctx context.Context, roomId string) ([]types.Participant, error) {
	args := m.Called(roomId)
	return args.Get(0).([]types.Participant), args.Error(1)
}

func (m *MockRoomService) CreateRoom(ctx context.Context, req types.CreateRoomRequest) (types.Room, error) {
	args := m.Called(req)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockRoomService) EnterRoom(ctx context.Context, roomId string) error {
	return m.Called(roomId).Error(0)
}

func (m *MockRoomService) LeaveRoom(ctx context.Context, roomId string) error {
	return m.Called(roomId).Error(0)
}

func (m *MockRoomService) KickUser(ctx context.Context, roomId string, userId int) error {
	return m.Called(roomId, userId).Error(0)
}

func (m *MockRoomService) StartReading(ctx context.Context, roomId string) error {
	return m.Called(roomId).Error(0)
}

func (m *MockRoomService) PauseReading(ctx context.Context, roomId string) error {
	return m.Called(roomId).Error(0)
}

type MockChatHistory struct {
	mock.Mock
}

func (m *MockChatHistory) GetRecentMessages(ctx context.Context, roomId string) ([]types.ChatMessage, error) {
	args := m.Called(roomId)
	return args.Get(0).([]types.ChatMessage), args.Error(1)
}

type MockChapterService struct {
	mock.Mock
}

func (m *MockChapterService) GetChapter(ctx context.Context, chapterId string) (types.Chapter, error) {
	args := m.Called(chapterId)
	return args.Get(0).(types.Chapter), args.Error(1)
}

type subKey struct {
	roomId string
	topic  protocol.Topic
}

type fakeHandlers struct {
	onMessage         MessageHandler
	onForceDisconnect func()
}

// fakeChannel stands in for the websocket. Tests push frames with deliver.
type fakeChannel struct {
	mu           sync.Mutex
	connectErr   error
	subscribeErr error
	connects     int
	handlers     map[subKey]fakeHandlers
	requests     []*protocol.ClientMessage
	unsubscribed []string
	onReconnect  func()
	onDisconnect func(error)
	closed       bool
	// afterSubscribe runs once a handler is registered, before Subscribe
	// returns, to simulate events racing the snapshot
	afterSubscribe func(roomId string, topic protocol.Topic)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[subKey]fakeHandlers)}
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeChannel) Subscribe(_ context.Context, roomId string, topic protocol.Topic, onMessage MessageHandler, onForceDisconnect func()) (*Subscription, error) {
	f.mu.Lock()
	if f.subscribeErr != nil {
		f.mu.Unlock()
		return nil, f.subscribeErr
	}
	f.handlers[subKey{roomId, topic}] = fakeHandlers{onMessage, onForceDisconnect}
	hook := f.afterSubscribe
	f.mu.Unlock()

	if hook != nil {
		hook(roomId, topic)
	}
	return &Subscription{RoomId: roomId, Topic: topic}, nil
}

func (f *fakeChannel) Unsubscribe(_ context.Context, roomId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.handlers {
		if k.roomId == roomId {
			delete(f.handlers, k)
		}
	}
	f.unsubscribed = append(f.unsubscribed, roomId)
	return nil
}

func (f *fakeChannel) Request(_ context.Context, msg *protocol.ClientMessage) (*protocol.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, msg)
	return &protocol.Response{ResponseCode: 200}, nil
}

func (f *fakeChannel) OnReconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReconnect = fn
}

func (f *fakeChannel) OnDisconnect(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeChannel) subscribed(roomId string, topic protocol.Topic) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[subKey{roomId, topic}]
	return ok
}

func (f *fakeChannel) deliver(msg *protocol.ServerMessage) {
	f.mu.Lock()
	h, ok := f.handlers[subKey{msg.RoomId, msg.Topic}]
	f.mu.Unlock()
	if !ok {
		return
	}
	if msg.ForceDisconnect {
		if h.onForceDisconnect != nil {
			h.onForceDisconnect()
		}
		return
	}
	h.onMessage(msg)
}

func (f *fakeChannel) sentRequests() []*protocol.ClientMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.ClientMessage(nil), f.requests...)
}

type noticeRecorder struct {
	NopListener
	notices chan Notice
}

func newNoticeRecorder() *noticeRecorder {
	return &noticeRecorder{notices: make(chan Notice, 4)}
}

func (n *noticeRecorder) OnNotice(notice Notice) {
	n.notices <- notice
}

func threeParagraphs() []types.Paragraph {
	return []types.Paragraph{
		{Id: "p0", Speaker: "narrator", Content: "It was a dark and stormy night."},
		{Id: "p1", Speaker: "narrator", Content: "The rain fell in torrents."},
		{Id: "p2", Speaker: "Alice", Content: "Who's there?"},
	}
}

func strPtr(s string) *string {
	return &s
}
