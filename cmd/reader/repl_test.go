package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-readroom/internal/client"
	"github.com/npezzotti/go-readroom/internal/types"
)

type fakeController struct {
	calls  []string
	kicked int
	said   string
	req    types.CreateRoomRequest
	err    error
}

func (f *fakeController) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) ListRooms(context.Context) ([]types.Room, error) {
	return []types.Room{{Id: "abc", Name: "Evening", Status: types.StatusWaiting, Capacity: 4}}, f.record("rooms")
}

func (f *fakeController) CreateRoom(_ context.Context, req types.CreateRoomRequest) (types.Room, error) {
	f.req = req
	return types.Room{Id: "new1"}, f.record("create")
}

func (f *fakeController) EnterRoom(context.Context, string) error { return f.record("enter") }
func (f *fakeController) LeaveRoom(context.Context) error         { return f.record("leave") }
func (f *fakeController) KickParticipant(_ context.Context, id int) error {
	f.kicked = id
	return f.record("kick")
}
func (f *fakeController) Start(context.Context) error      { return f.record("start") }
func (f *fakeController) Pause(context.Context) error      { return f.record("pause") }
func (f *fakeController) TrackEnded(context.Context) error { return f.record("next") }
func (f *fakeController) SendMessage(_ context.Context, content string) error {
	f.said = content
	return f.record("say")
}

func (f *fakeController) Participants() map[int]types.Participant {
	now := time.Now()
	return map[int]types.Participant{
		1: {UserId: 1, Username: "host", IsHost: true, JoinedAt: now},
		2: {UserId: 2, Username: "guest", JoinedAt: now.Add(time.Second)},
	}
}

func (f *fakeController) Playback() client.PlaybackState {
	return client.PlaybackState{Status: types.StatusPaused, Cursor: client.Active("p1")}
}

func (f *fakeController) CurrentParagraph() (types.Paragraph, bool) {
	return types.Paragraph{Id: "p1", Speaker: "narrator", Content: "Call me Ishmael."}, true
}

func (f *fakeController) Close(context.Context) { f.record("close") }

func Test_parseCreate(t *testing.T) {
	tcases := []struct {
		name    string
		args    []string
		want    types.CreateRoomRequest
		wantErr bool
	}{
		{
			name: "multi word name",
			args: []string{"4", "ch1", "3", "Evening", "reading"},
			want: types.CreateRoomRequest{Name: "Evening reading", BookId: 4, ChapterId: "ch1", Capacity: 3},
		},
		{name: "too few args", args: []string{"4", "ch1", "3"}, wantErr: true},
		{name: "bad book id", args: []string{"x", "ch1", "3", "n"}, wantErr: true},
		{name: "bad capacity", args: []string{"4", "ch1", "many", "n"}, wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCreate(tc.args)
			if tc.wantErr {
				assert.ErrorIs(t, err, errUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func Test_repl_exec(t *testing.T) {
	tcases := []struct {
		line     string
		call     string
		contains string
	}{
		{line: "rooms", call: "rooms", contains: "Evening"},
		{line: "create 4 ch1 3 Night shift", call: "create", contains: "created room new1"},
		{line: "enter abc", call: "enter"},
		{line: "start", call: "start"},
		{line: "pause", call: "pause"},
		{line: "next", call: "next"},
		{line: "kick 2", call: "kick"},
		{line: "say hello there", call: "say"},
		{line: "leave", call: "leave"},
		{line: "who", contains: "1 host (host)\n2 guest\n"},
		{line: "status", contains: "Call me Ishmael."},
		{line: "kick bob", contains: "error: bad arguments"},
		{line: "enter", contains: "error: bad arguments"},
		{line: "dance", contains: `unknown command "dance"`},
		{line: "   "},
	}

	for _, tc := range tcases {
		t.Run(tc.line, func(t *testing.T) {
			ctrl := &fakeController{}
			out := &bytes.Buffer{}
			r := &repl{ctrl: ctrl, out: out}

			assert.True(t, r.exec(context.Background(), tc.line))
			if tc.call != "" {
				assert.Equal(t, []string{tc.call}, ctrl.calls)
			} else {
				assert.Empty(t, ctrl.calls)
			}
			if tc.contains != "" {
				assert.Contains(t, out.String(), tc.contains)
			}
		})
	}

	t.Run("arguments reach the controller", func(t *testing.T) {
		ctrl := &fakeController{}
		r := &repl{ctrl: ctrl, out: &bytes.Buffer{}}

		r.exec(context.Background(), "kick 7")
		r.exec(context.Background(), "say  hi   all")
		assert.Equal(t, 7, ctrl.kicked)
		assert.Equal(t, "hi all", ctrl.said)
	})

	t.Run("quit", func(t *testing.T) {
		r := &repl{ctrl: &fakeController{}, out: &bytes.Buffer{}}
		assert.False(t, r.exec(context.Background(), "quit"))
	})

	t.Run("controller errors are printed", func(t *testing.T) {
		ctrl := &fakeController{err: client.ErrNotHost}
		out := &bytes.Buffer{}
		r := &repl{ctrl: ctrl, out: out}

		assert.True(t, r.exec(context.Background(), "start"))
		assert.Contains(t, out.String(), "error: "+client.ErrNotHost.Error())
	})
}
