package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-readroom/internal/client"
	"github.com/npezzotti/go-readroom/internal/types"
)

const commandTimeout = 10 * time.Second

const usage = `commands:
  rooms                                         list rooms
  create <book-id> <chapter-id> <capacity> <name>  create a room and print its id
  enter <room-id>                               join a room
  leave                                         leave the current room
  who                                           show participants
  status                                        show playback state
  start | pause                                 host: control narration
  next                                          host: the current paragraph finished
  kick <user-id>                                host: remove a participant
  say <text>                                    send a chat message
  quit`

// controller is the part of *client.Controller the prompt drives.
type controller interface {
	ListRooms(ctx context.Context) ([]types.Room, error)
	CreateRoom(ctx context.Context, req types.CreateRoomRequest) (types.Room, error)
	EnterRoom(ctx context.Context, roomId string) error
	LeaveRoom(ctx context.Context) error
	KickParticipant(ctx context.Context, userId int) error
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	TrackEnded(ctx context.Context) error
	SendMessage(ctx context.Context, content string) error
	Participants() map[int]types.Participant
	Playback() client.PlaybackState
	CurrentParagraph() (types.Paragraph, bool)
	Close(ctx context.Context)
}

type repl struct {
	ctrl controller
	out  io.Writer
}

var errUsage = errors.New("bad arguments, see 'help'")

func parseCreate(args []string) (types.CreateRoomRequest, error) {
	if len(args) < 4 {
		return types.CreateRoomRequest{}, errUsage
	}
	bookId, err := strconv.Atoi(args[0])
	if err != nil {
		return types.CreateRoomRequest{}, errUsage
	}
	capacity, err := strconv.Atoi(args[2])
	if err != nil {
		return types.CreateRoomRequest{}, errUsage
	}

	return types.CreateRoomRequest{
		Name:      strings.Join(args[3:], " "),
		BookId:    bookId,
		ChapterId: args[1],
		Capacity:  capacity,
	}, nil
}

// exec runs one input line. It returns false when the user asked to quit.
func (r *repl) exec(parent context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	cmd, args := fields[0], fields[1:]
	var err error
	switch cmd {
	case "help":
		fmt.Fprintln(r.out, usage)
	case "quit", "exit":
		return false
	case "rooms":
		err = r.listRooms(ctx)
	case "create":
		var req types.CreateRoomRequest
		if req, err = parseCreate(args); err == nil {
			var room types.Room
			if room, err = r.ctrl.CreateRoom(ctx, req); err == nil {
				fmt.Fprintf(r.out, "created room %s\n", room.Id)
			}
		}
	case "enter":
		if len(args) != 1 {
			err = errUsage
			break
		}
		err = r.ctrl.EnterRoom(ctx, args[0])
	case "leave":
		err = r.ctrl.LeaveRoom(ctx)
	case "who":
		r.printParticipants(r.ctrl.Participants())
	case "status":
		r.printStatus()
	case "start":
		err = r.ctrl.Start(ctx)
	case "pause":
		err = r.ctrl.Pause(ctx)
	case "next":
		err = r.ctrl.TrackEnded(ctx)
	case "kick":
		var userId int
		if len(args) != 1 {
			err = errUsage
			break
		}
		if userId, err = strconv.Atoi(args[0]); err != nil {
			err = errUsage
			break
		}
		err = r.ctrl.KickParticipant(ctx, userId)
	case "say":
		err = r.ctrl.SendMessage(ctx, strings.Join(args, " "))
	default:
		err = fmt.Errorf("unknown command %q, see 'help'", cmd)
	}

	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
	return true
}

func (r *repl) listRooms(ctx context.Context) error {
	rooms, err := r.ctrl.ListRooms(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Fprintln(r.out, "no rooms")
		return nil
	}
	for _, room := range rooms {
		fmt.Fprintf(r.out, "%-10s %-8s %d/%d  %s (%s)\n",
			room.Id, room.Status, room.ParticipantCount, room.Capacity, room.Name, room.BookTitle)
	}
	return nil
}

func (r *repl) printParticipants(participants map[int]types.Participant) {
	list := make([]types.Participant, 0, len(participants))
	for _, p := range participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JoinedAt.Before(list[j].JoinedAt) })

	for _, p := range list {
		host := ""
		if p.IsHost {
			host = " (host)"
		}
		fmt.Fprintf(r.out, "%d %s%s\n", p.UserId, p.Username, host)
	}
}

func (r *repl) printStatus() {
	state := r.ctrl.Playback()
	fmt.Fprintf(r.out, "status=%s playing=%t loading=%t\n", state.Status, state.IsPlaying, state.IsAudioLoading)
	if p, ok := r.ctrl.CurrentParagraph(); ok {
		fmt.Fprintf(r.out, "[%s] %s\n", p.Speaker, p.Content)
	}
}

func (r *repl) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.ctrl.Close(ctx)
}
