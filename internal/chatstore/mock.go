package chatstore

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/npezzotti/go-readroom/internal/types"
)

type MockStore struct {
	mock.Mock
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) Append(ctx context.Context, roomId string, msg types.ChatMessage) error {
	args := m.Called(roomId, msg)
	return args.Error(0)
}
func (m *MockStore) Recent(ctx context.Context, roomId string, limit int) ([]types.ChatMessage, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]types.ChatMessage), args.Error(1)
}
func (m *MockStore) Clear(ctx context.Context, roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}
