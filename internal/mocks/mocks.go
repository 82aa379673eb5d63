package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"roomchat-service/internal/models"
	"roomchat-service/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) GetOrCreateRoom(ctx context.Context, name string) (models.Room, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(models.Room), args.Error(1)
}

func (m *RoomRepositoryMock) AddMember(ctx context.Context, roomID int, userID int) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) ListRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Room), args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *UserRepositoryMock) EnsureUser(ctx context.Context, userID int, username string) (models.User, error) {
	args := m.Called(ctx, userID, username)
	return args.Get(0).(models.User), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, roomID int, userID int, content string, parentID *int, fileURL *string) (models.Message, error) {
	args := m.Called(ctx, roomID, userID, content, parentID, fileURL)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID int, limit int) ([]models.MessageWithAuthor, error) {
	args := m.Called(ctx, roomID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MessageWithAuthor), args.Error(1)
}

type ReactionRepositoryMock struct {
	mock.Mock
}

func (m *ReactionRepositoryMock) CreateReaction(ctx context.Context, messageID int, userID int, emoji string) (models.MessageReaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Get(0).(models.MessageReaction), args.Error(1)
}

func (m *ReactionRepositoryMock) CreateReadReceipt(ctx context.Context, messageID int, userID int) (models.ReadReceipt, error) {
	args := m.Called(ctx, messageID, userID)
	return args.Get(0).(models.ReadReceipt), args.Error(1)
}

type TypingRepositoryMock struct {
	mock.Mock
}

func (m *TypingRepositoryMock) UpsertTypingStatus(ctx context.Context, roomID int, userID int) (models.TypingStatus, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Get(0).(models.TypingStatus), args.Error(1)
}

func (m *TypingRepositoryMock) ListActiveTypists(ctx context.Context, roomID int, since time.Time) ([]models.Typist, error) {
	args := m.Called(ctx, roomID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Typist), args.Error(1)
}

type PresenceRepositoryMock struct {
	mock.Mock
}

func (m *PresenceRepositoryMock) SetUserOnline(ctx context.Context, userID int, online bool) (models.UserProfile, error) {
	args := m.Called(ctx, userID, online)
	return args.Get(0).(models.UserProfile), args.Error(1)
}

var (
	_ repositories.RoomRepository     = (*RoomRepositoryMock)(nil)
	_ repositories.UserRepository     = (*UserRepositoryMock)(nil)
	_ repositories.MessageRepository  = (*MessageRepositoryMock)(nil)
	_ repositories.ReactionRepository = (*ReactionRepositoryMock)(nil)
	_ repositories.TypingRepository   = (*TypingRepositoryMock)(nil)
	_ repositories.PresenceRepository = (*PresenceRepositoryMock)(nil)
)
