package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

// UserService keeps the notification profile of users: contact details and
// the device token push notifications go to.
type UserService struct {
	Store  DirectoryStore
	Clock  Clock
	Logger *zap.Logger
}

func NewUserService(store DirectoryStore, clock Clock, logger *zap.Logger) *UserService {
	return &UserService{Store: store, Clock: clock, Logger: logger.Named("user")}
}

func (s *UserService) CreateUser(ctx context.Context, req db.CreateUserRequest) (*db.User, error) {
	now := s.Clock.Now()
	user := db.User{
		ID:        req.ID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Team:      req.Team,
		FCMToken:  req.FCMToken,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if err := s.Store.CreateUser(ctx, &user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*db.User, error) {
	user, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateFCMToken registers the device that receives the user's push
// notifications, replacing any previous one.
func (s *UserService) UpdateFCMToken(ctx context.Context, userID, token string) error {
	if err := s.Store.UpdateUserFCMToken(ctx, userID, token, s.Clock.Now()); err != nil {
		return fmt.Errorf("failed to update FCM token: %w", err)
	}
	s.Logger.Debug("FCM token updated", zap.String("user_id", userID))
	return nil
}
