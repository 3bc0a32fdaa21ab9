package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockStore) GetUser(id int) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockStore) FindOrCreateConversation(a, b int) (Conversation, error) {
	args := m.Called(a, b)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockStore) GetConversation(a, b int) (Conversation, error) {
	args := m.Called(a, b)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockStore) ListConversations(userId int) ([]Conversation, error) {
	args := m.Called(userId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockStore) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockStore) GetMessages(conversationId, before, limit int) ([]Message, error) {
	args := m.Called(conversationId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockStore) MarkAsRead(senderId, recipientId int, at time.Time) (int64, error) {
	args := m.Called(senderId, recipientId, at)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockStore) CountUnread(recipientId int) (map[int]int, error) {
	args := m.Called(recipientId)
	return args.Get(0).(map[int]int), args.Error(1)
}
func (m *MockStore) IsSpaceMember(spaceId, userId int) (bool, error) {
	args := m.Called(spaceId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) CreateSpaceMessage(params CreateSpaceMessageParams) (SpaceMessage, error) {
	args := m.Called(params)
	return args.Get(0).(SpaceMessage), args.Error(1)
}
func (m *MockStore) GetSpaceMessages(spaceId, before, limit int) ([]SpaceMessage, error) {
	args := m.Called(spaceId, before, limit)
	return args.Get(0).([]SpaceMessage), args.Error(1)
}
func (m *MockStore) CreateNotification(params CreateNotificationParams) (Notification, error) {
	args := m.Called(params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockStore) ListNotifications(userId, limit int) ([]Notification, error) {
	args := m.Called(userId, limit)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockStore) MarkNotificationsRead(userId int) error {
	args := m.Called(userId)
	return args.Error(0)
}
