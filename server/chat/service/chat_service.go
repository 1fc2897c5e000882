package service

import (
	"context"
	"sort"
	"strings"

	"carexpert/server/chat/domain"
	"carexpert/server/chat/repository"
)

const historyLimit = 500

type ChatService struct {
	messages *repository.ChatRepository
}

func NewChatService(messages *repository.ChatRepository) *ChatService {
	return &ChatService{messages: messages}
}

// DirectChannelID builds the canonical channel id for a user pair. Both
// participants derive the same id regardless of argument order.
func DirectChannelID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

func (s *ChatService) DirectHistory(ctx context.Context, userID, peerID string) ([]domain.Message, error) {
	return s.messages.ListByChannel(ctx, DirectChannelID(userID, peerID), historyLimit)
}

// RoomHistory resolves the room by name, creating it on first access, and
// returns it with its message history.
func (s *ChatService) RoomHistory(ctx context.Context, roomName string) (domain.Room, []domain.Message, error) {
	room, err := s.messages.EnsureRoom(ctx, roomName, "")
	if err != nil {
		return domain.Room{}, nil, err
	}
	msgs, err := s.messages.ListByChannel(ctx, room.ID, historyLimit)
	if err != nil {
		return domain.Room{}, nil, err
	}
	return room, msgs, nil
}

func (s *ChatService) JoinRoom(ctx context.Context, roomID, userID string) error {
	return s.messages.AddRoomMember(ctx, roomID, userID)
}

func (s *ChatService) CreateMessage(ctx context.Context, message domain.Message) (domain.Message, error) {
	if message.Kind == "" {
		message.Kind = domain.MessageKindText
	}
	return s.messages.CreateMessage(ctx, message)
}
