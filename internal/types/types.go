package types

import (
	"time"
)

type RoomStatus string

const (
	StatusWaiting RoomStatus = "WAITING"
	StatusPlaying RoomStatus = "PLAYING"
	StatusPaused  RoomStatus = "PAUSED"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusPlaying, StatusPaused:
		return true
	}
	return false
}

const (
	MinCapacity = 2
	MaxCapacity = 10
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	AvatarUrl    string    `json:"avatar_url,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id               string     `json:"id"`
	Name             string     `json:"name"`
	BookId           int        `json:"book_id"`
	BookTitle        string     `json:"book_title"`
	HostId           int        `json:"host_id"`
	Capacity         int        `json:"capacity"`
	ParticipantCount int        `json:"participant_count"`
	Status           RoomStatus `json:"status"`
	ChapterId        string     `json:"chapter_id"`
	VoiceType        string     `json:"voice_type"`
	Speed            float64    `json:"speed"`
	// ParagraphId is the room's cursor, nil until playback has started.
	ParagraphId *string   `json:"paragraph_id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type CreateRoomRequest struct {
	Name      string  `json:"name"`
	BookId    int     `json:"book_id"`
	ChapterId string  `json:"chapter_id"`
	Capacity  int     `json:"capacity"`
	VoiceType string  `json:"voice_type"`
	Speed     float64 `json:"speed"`
}

type Participant struct {
	UserId    int       `json:"user_id"`
	Username  string    `json:"username"`
	AvatarUrl string    `json:"avatar_url"`
	IsHost    bool      `json:"is_host"`
	JoinedAt  time.Time `json:"joined_at"`
}

type Paragraph struct {
	Id      string `json:"id"`
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

type Chapter struct {
	Id      string      `json:"id"`
	BookId  int         `json:"book_id"`
	Title   string      `json:"title"`
	Content []Paragraph `json:"content"`
}

// IndexOf returns the position of the paragraph in the chapter or -1.
func (c Chapter) IndexOf(paragraphId string) int {
	for i, p := range c.Content {
		if p.Id == paragraphId {
			return i
		}
	}
	return -1
}

type ChatMessage struct {
	ChatId             string    `json:"chatId"`
	SenderId           int       `json:"senderId"`
	SenderName         string    `json:"senderName"`
	SenderProfileImage string    `json:"senderProfileImage"`
	Content            string    `json:"content"`
	SendAt             time.Time `json:"sendAt"`
}

type AudioResource struct {
	ParagraphId string `json:"paragraph_id"`
	VoiceType   string `json:"voice_type"`
	Url         string `json:"url"`
}
