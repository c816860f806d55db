package client

import (
	"context"

	"github.com/npezzotti/go-readroom/internal/types"
)

// RoomService is the room, roster and playback-command collaborator.
type RoomService interface {
	GetRoom(ctx context.Context, roomId string) (types.Room, error)
	GetRooms(ctx context.Context) ([]types.Room, error)
	GetParticipants(ctx context.Context, roomId string) ([]types.Participant, error)
	CreateRoom(ctx context.Context, req types.CreateRoomRequest) (types.Room, error)
	EnterRoom(ctx context.Context, roomId string) error
	LeaveRoom(ctx context.Context, roomId string) error
	KickUser(ctx context.Context, roomId string, userId int) error
	StartReading(ctx context.Context, roomId string) error
	PauseReading(ctx context.Context, roomId string) error
}

// ChatHistory returns recent messages, most recent first.
type ChatHistory interface {
	GetRecentMessages(ctx context.Context, roomId string) ([]types.ChatMessage, error)
}

type AudioResolver interface {
	GetAudioUrl(ctx context.Context, paragraphId, voiceType string) (string, error)
}

type ChapterService interface {
	GetChapter(ctx context.Context, chapterId string) (types.Chapter, error)
}

// MediaPlayer is the platform audio element the engine drives.
type MediaPlayer interface {
	// Load replaces the current source without starting playback.
	Load(url string)
	HasSource() bool
	Play(ctx context.Context) error
	Pause()
	// Reset pauses and drops the source.
	Reset()
}
