package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

var _ Repository = (*MockRepository)(nil)

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) ListRooms() ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockRepository) GetRoom(roomId string) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) DeleteRoom(roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockRepository) UpdatePlayback(params UpdatePlaybackParams) error {
	args := m.Called(params)
	return args.Error(0)
}
func (m *MockRepository) ListParticipants(roomId string) ([]Participant, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Participant), args.Error(1)
}
func (m *MockRepository) AddParticipant(roomId string, accountId int) (Participant, error) {
	args := m.Called(roomId, accountId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockRepository) RemoveParticipant(roomId string, accountId int) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}
func (m *MockRepository) GetChapter(chapterId string) (Chapter, error) {
	args := m.Called(chapterId)
	return args.Get(0).(Chapter), args.Error(1)
}
