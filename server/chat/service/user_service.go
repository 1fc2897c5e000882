package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"carexpert/common/auth"
	commonlog "carexpert/common/log"
	"carexpert/server/chat/domain"
	"carexpert/server/chat/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

type UserService struct {
	users  *repository.UserRepository
	tokens *auth.Service
}

func NewUserService(users *repository.UserRepository, tokens *auth.Service) *UserService {
	return &UserService{users: users, tokens: tokens}
}

func (s *UserService) Register(ctx context.Context, name, email, password, role string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if role != "doctor" {
		role = "patient"
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return domain.User{}, "", ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, "", err
	}
	user := domain.User{Name: strings.TrimSpace(name), Email: email, Role: role, PasswordHash: string(hash)}
	id, err := s.users.Create(ctx, user)
	if err != nil {
		return domain.User{}, "", err
	}
	user.ID = id
	user.PasswordHash = ""

	token, err := s.tokens.GenerateToken(user.ID, user.Name, user.Role)
	if err != nil {
		return domain.User{}, "", err
	}
	commonlog.Infof("event=user action=register status=success user_id=%s role=%s", user.ID, user.Role)
	return user, token, nil
}

func (s *UserService) Login(ctx context.Context, identifier, password string) (domain.User, string, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(identifier)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, "", ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user.PasswordHash = ""

	token, err := s.tokens.GenerateToken(user.ID, user.Name, user.Role)
	if err != nil {
		return domain.User{}, "", err
	}
	commonlog.Infof("event=user action=login status=success user_id=%s", user.ID)
	return user, token, nil
}

func (s *UserService) RoomMembers(ctx context.Context, roomID string) ([]domain.User, error) {
	return s.users.ListRoomMembers(ctx, roomID)
}
