package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-readroom/internal/chatstore"
	"github.com/npezzotti/go-readroom/internal/database"
	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/stats"
	"github.com/npezzotti/go-readroom/internal/testutil"
	"github.com/npezzotti/go-readroom/internal/types"
)

// newTestRoomServer creates a RoomServer instance for testing purposes.
func newTestRoomServer(t *testing.T, db database.Repository, chat chatstore.Store, su *stats.MockStatsUpdater) *RoomServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)
	return NewRoomServer(testutil.TestLogger(t), db, chat, su)
}

// expectLoad stubs the queries run when room r1 is loaded.
func expectLoad(db *database.MockRepository, status string, paragraphId sql.NullString) {
	db.On("GetRoom", testRoomId).Return(database.Room{
		Id:          testRoomId,
		HostId:      hostId,
		Capacity:    4,
		Status:      status,
		ChapterId:   "ch1",
		ParagraphId: paragraphId,
	}, nil).Once()
	db.On("ListParticipants", testRoomId).Return([]database.Participant{
		{RoomId: testRoomId, AccountId: hostId, Username: "host"},
	}, nil).Once()
	db.On("GetChapter", "ch1").Return(database.Chapter{
		Id:         "ch1",
		Paragraphs: []database.Paragraph{{Id: "p0"}, {Id: "p1"}},
	}, nil).Once()
}

func TestNewRoomServer(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	for _, name := range []string{stats.NumActiveRooms, stats.NumConnectedClients, stats.NumHostCommands, stats.NumChatMessages} {
		su.On("RegisterMetric", name).Once()
	}

	logger := testutil.TestLogger(t)
	rs := NewRoomServer(logger, db, &chatstore.MockStore{}, su)
	assert.NotNil(t, rs, "expected RoomServer to be non-nil")
	assert.Equal(t, db, rs.db, "expected database repository to be set")
	assert.NotNil(t, rs.opChan, "expected opChan to be initialized")
	assert.NotNil(t, rs.unloadRoomChan, "expected unloadRoomChan to be initialized")
	assert.NotNil(t, rs.stop, "expected stop channel to be initialized")
	assert.NotNil(t, rs.clients, "expected clients map to be initialized")
	assert.NotNil(t, rs.userMap, "expected userMap to be initialized")
}

func TestRoomServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		rs := newTestRoomServer(t, &database.MockRepository{}, &chatstore.MockStore{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-rs.stop:
				assert.NotNil(t, req.done, "expected done channel in stop request")
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := rs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		rs := newTestRoomServer(t, &database.MockRepository{}, &chatstore.MockStore{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		go func() {
			select {
			case <-rs.stop:
				// never signal done
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := rs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestRoomServerShutdown_Integration(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	expectLoad(db, string(types.StatusWaiting), sql.NullString{})

	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveRooms).Once()
	su.On("Decr", stats.NumActiveRooms).Once()
	su.On("Incr", stats.NumConnectedClients).Once()
	defer su.AssertExpectations(t)

	rs := newTestRoomServer(t, db, &chatstore.MockStore{}, su)
	go rs.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// entering as a participant loads the room without another insert
	require.NoError(t, rs.EnterRoom(ctx, testRoomId, hostId))
	_, ok := rs.getRoom(testRoomId)
	require.True(t, ok, "expected room to be loaded")

	c := newTestClient(t, hostId)
	rs.RegisterClient(c)

	require.NoError(t, rs.Shutdown(ctx))
	_, ok = rs.getRoom(testRoomId)
	assert.False(t, ok, "expected room to be unloaded after shutdown")

	select {
	case <-c.stop:
	default:
		t.Error("expected client to be stopped on shutdown")
	}

	assert.ErrorIs(t, rs.EnterRoom(ctx, testRoomId, hostId), ErrRoomUnavailable)
}

func TestRoomServer_addClient_removeClient(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumConnectedClients).Twice()
	su.On("Decr", stats.NumConnectedClients).Twice()
	defer su.AssertExpectations(t)

	rs := newTestRoomServer(t, &database.MockRepository{}, &chatstore.MockStore{}, su)
	tab1, tab2 := newTestClient(t, hostId), newTestClient(t, hostId)

	rs.RegisterClient(tab1)
	rs.RegisterClient(tab2)
	assert.Len(t, rs.clients, 2)
	assert.ElementsMatch(t, []*Client{tab1, tab2}, rs.getClients(hostId))

	rs.DeRegisterClient(tab1)
	rs.DeRegisterClient(tab1)
	assert.Equal(t, []*Client{tab2}, rs.getClients(hostId))

	rs.DeRegisterClient(tab2)
	assert.Empty(t, rs.clients)
	assert.NotContains(t, rs.userMap, hostId, "expected userMap to drop the user with no connections")
	assert.Empty(t, rs.getClients(hostId))
}

func TestRoomServer_addRoom_getRoom_removeRoom(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveRooms).Once()
	su.On("Decr", stats.NumActiveRooms).Once()
	defer su.AssertExpectations(t)

	rs := newTestRoomServer(t, &database.MockRepository{}, &chatstore.MockStore{}, su)
	room := &Room{id: "testroom"}

	rs.addRoom(room)
	got, ok := rs.getRoom("testroom")
	assert.True(t, ok, "expected room to be found")
	assert.Equal(t, room, got, "expected retrieved room to match added room")

	rs.removeRoom("testroom")
	rs.removeRoom("testroom")
	_, ok = rs.getRoom("testroom")
	assert.False(t, ok, "expected room to be removed")
}

func TestRoomServer_handleOp(t *testing.T) {
	tcases := []struct {
		name     string
		getErr   error
		ifLoaded bool
		wantErr  error
		wantCode int
	}{
		{
			name:     "room does not exist",
			getErr:   sql.ErrNoRows,
			wantErr:  ErrRoomNotFound,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "database failure",
			getErr:   errors.New("connection refused"),
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "skip unloaded room",
			ifLoaded: true,
			wantCode: http.StatusOK,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			if !tc.ifLoaded {
				db.On("GetRoom", testRoomId).Return(database.Room{}, tc.getErr).Once()
			}

			rs := newTestRoomServer(t, db, &chatstore.MockStore{}, &stats.MockStatsUpdater{})
			op := &roomOp{
				roomId:   testRoomId,
				ifLoaded: tc.ifLoaded,
				run:      func(*Room) error { t.Error("op must not run"); return nil },
				done:     make(chan error, 1),
			}

			rs.handleOp(op)
			err := <-op.done
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.Equal(t, tc.wantCode, StatusCode(err))
		})
	}

	t.Run("room op channel full", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.NumActiveRooms).Once()
		defer su.AssertExpectations(t)

		rs := newTestRoomServer(t, &database.MockRepository{}, &chatstore.MockStore{}, su)
		room := &Room{id: testRoomId, opChan: make(chan *roomOp)}
		rs.addRoom(room)

		op := &roomOp{roomId: testRoomId, done: make(chan error, 1)}
		rs.handleOp(op)
		assert.ErrorIs(t, <-op.done, ErrRoomUnavailable)
	})
}

func TestRoomServer_unloadRoom(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveRooms).Once()
	su.On("Decr", stats.NumActiveRooms).Once()
	defer su.AssertExpectations(t)

	rs := newTestRoomServer(t, &database.MockRepository{}, &chatstore.MockStore{}, su)
	room := &Room{id: testRoomId, exit: make(chan exitReq, 1)}
	rs.addRoom(room)

	go func() {
		select {
		case req := <-room.exit:
			assert.True(t, req.deleted, "expected deleted flag to be relayed")
			close(req.done)
		case <-time.After(time.Second):
			t.Error("expected exit request")
		}
	}()

	rs.unloadRoom(unloadRoomRequest{roomId: testRoomId, deleted: true})
	_, ok := rs.getRoom(testRoomId)
	assert.False(t, ok, "expected room to be removed")

	// unknown rooms are ignored
	rs.unloadRoom(unloadRoomRequest{roomId: "other"})
}

func TestRoomServer_Integration(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	expectLoad(db, string(types.StatusPaused), sql.NullString{String: "p0", Valid: true})
	db.On("AddParticipant", testRoomId, guestId).Return(database.Participant{AccountId: guestId, Username: "guest"}, nil).Once()
	db.On("UpdatePlayback", database.UpdatePlaybackParams{
		RoomId:      testRoomId,
		Status:      string(types.StatusPlaying),
		ParagraphId: sql.NullString{String: "p0", Valid: true},
	}).Return(nil).Once()
	db.On("RemoveParticipant", testRoomId, guestId).Return(nil).Once()

	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveRooms).Once()
	su.On("Decr", stats.NumActiveRooms).Maybe()
	su.On("Incr", stats.NumHostCommands).Once()
	defer su.AssertExpectations(t)

	rs := newTestRoomServer(t, db, &chatstore.MockStore{}, su)
	go rs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rs.Shutdown(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, rs.EnterRoom(ctx, testRoomId, guestId))

	participants, err := rs.Participants(ctx, testRoomId)
	require.NoError(t, err)
	require.Len(t, participants, 2)

	err = rs.ApplyEvent(ctx, testRoomId, guestId, protocol.StatusChange(types.StatusPlaying))
	assert.ErrorIs(t, err, ErrNotHost, "expected guest command to be rejected")

	require.NoError(t, rs.ApplyEvent(ctx, testRoomId, hostId, protocol.StatusChange(types.StatusPlaying)))

	err = rs.KickParticipant(ctx, testRoomId, guestId, hostId)
	assert.ErrorIs(t, err, ErrNotHost)

	require.NoError(t, rs.LeaveRoom(ctx, testRoomId, guestId))
	participants, err = rs.Participants(ctx, testRoomId)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.True(t, participants[0].IsHost)
}

func TestStatusCode(t *testing.T) {
	tcases := []struct {
		err  error
		code int
	}{
		{err: nil, code: http.StatusOK},
		{err: ErrRoomNotFound, code: http.StatusNotFound},
		{err: ErrNotHost, code: http.StatusForbidden},
		{err: ErrNotParticipant, code: http.StatusForbidden},
		{err: ErrRoomFull, code: http.StatusConflict},
		{err: ErrNoCursor, code: http.StatusConflict},
		{err: ErrCannotKickHost, code: http.StatusBadRequest},
		{err: ErrUnknownParagraph, code: http.StatusBadRequest},
		{err: ErrInvalidEvent, code: http.StatusBadRequest},
		{err: ErrRoomUnavailable, code: http.StatusServiceUnavailable},
		{err: errors.New("boom"), code: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		name := "nil"
		if tc.err != nil {
			name = tc.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.code, StatusCode(tc.err))
		})
	}
}

func Test_responseFor(t *testing.T) {
	msg := responseFor(3, nil)
	assert.Equal(t, 3, msg.Id)
	assert.True(t, msg.Response.OK())

	msg = responseFor(4, ErrNotHost)
	assert.Equal(t, http.StatusForbidden, msg.Response.ResponseCode)
	assert.Equal(t, ErrNotHost.Error(), msg.Response.Error)

	msg = responseFor(5, errors.New("pq: relation does not exist"))
	assert.Equal(t, http.StatusInternalServerError, msg.Response.ResponseCode)
	assert.Equal(t, "internal server error", msg.Response.Error, "expected internal errors to be masked")
}
