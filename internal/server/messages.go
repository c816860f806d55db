package server

import (
	"encoding/json"

	"github.com/npezzotti/go-readroom/internal/protocol"
)

// roomOp is a unit of work executed on a room's goroutine.
type roomOp struct {
	roomId string
	run    func(r *Room) error
	// ifLoaded skips the op instead of loading the room from the database.
	ifLoaded bool

	// websocket ops reply to client, REST ops reply on done.
	client *Client
	msgId  int
	done   chan error
}

func (op *roomOp) reply(err error) {
	if op.done != nil {
		op.done <- err
		return
	}
	if op.client != nil {
		op.client.queueMessage(responseFor(op.msgId, err))
	}
}

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

type exitReq struct {
	deleted bool
	done    chan struct{}
}

type stopReq struct {
	done chan struct{}
}

func serializeMessage(msg *protocol.ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
