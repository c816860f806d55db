package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	AvatarUrl    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id               string
	Name             string
	BookId           int
	BookTitle        string
	HostId           int
	Capacity         int
	ParticipantCount int
	Status           string
	ChapterId        string
	VoiceType        string
	Speed            float64
	ParagraphId      sql.NullString
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Participant struct {
	RoomId    string
	AccountId int
	Username  string
	AvatarUrl string
	JoinedAt  time.Time
}

type Chapter struct {
	Id         string
	BookId     int
	Title      string
	Paragraphs []Paragraph
}

type Paragraph struct {
	Id       string
	Position int
	Speaker  string
	Content  string
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Id        string
	Name      string
	BookId    int
	ChapterId string
	HostId    int
	Capacity  int
	VoiceType string
	Speed     float64
}

type UpdatePlaybackParams struct {
	RoomId      string
	Status      string
	ParagraphId sql.NullString
}
