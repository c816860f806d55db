package database

type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	ListRooms() ([]Room, error)
	GetRoom(roomId string) (Room, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	DeleteRoom(roomId string) error
	UpdatePlayback(params UpdatePlaybackParams) error
	ListParticipants(roomId string) ([]Participant, error)
	AddParticipant(roomId string, accountId int) (Participant, error)
	RemoveParticipant(roomId string, accountId int) error
	GetChapter(chapterId string) (Chapter, error)
}
