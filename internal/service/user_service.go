package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
)

type UserService interface {
	GetUserInfo(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, email, name string) (*models.User, error)
}

type userService struct {
	u repository.UserRepository
}

func NewUserService(u repository.UserRepository) UserService {
	return &userService{
		u: u,
	}
}

func (s *userService) GetUserInfo(ctx context.Context, id int64) (*models.User, error) {
	user, isExist, err := s.u.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting user info: %w", err)
	}
	if !isExist {
		slog.Info("user not found", "user_id", id)
		return nil, ErrUserNotFound
	}
	return user, nil
}

// CreateUser returns the existing user when the email is already known.
func (s *userService) CreateUser(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalidInput("email", "invalid email address")
	}

	user, isExist, err := s.u.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if isExist {
		return user, nil
	}

	user = &models.User{Email: email, Name: strings.TrimSpace(name)}
	if user.ID, err = s.u.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return user, nil
}
