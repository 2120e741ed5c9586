package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

type OverrideService struct {
	Store  ScheduleStore
	Clock  Clock
	Logger *zap.Logger
}

func NewOverrideService(store ScheduleStore, clock Clock, logger *zap.Logger) *OverrideService {
	return &OverrideService{Store: store, Clock: clock, Logger: logger.Named("override")}
}

// CreateOverride creates a new schedule override. At most one active
// override may cover any instant of a shift, so overlapping requests are
// rejected.
func (s *OverrideService) CreateOverride(ctx context.Context, req db.CreateScheduleOverrideRequest, createdBy string) (*db.ScheduleOverride, error) {
	now := s.Clock.Now()
	override := db.ScheduleOverride{
		ID:                 uuid.New().String(),
		OriginalScheduleID: req.OriginalScheduleID,
		NewUserID:          req.NewUserID,
		OverrideReason:     req.OverrideReason,
		OverrideType:       req.OverrideType,
		OverrideStartTime:  req.OverrideStartTime,
		OverrideEndTime:    req.OverrideEndTime,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
		CreatedBy:          createdBy,
	}

	switch override.OverrideType {
	case db.OverrideTypeTemporary, db.OverrideTypePermanent, db.OverrideTypeEmergency:
	default:
		override.OverrideType = db.OverrideTypeTemporary
	}

	if !override.OverrideEndTime.After(override.OverrideStartTime) {
		return nil, fmt.Errorf("%w: override end time must be after start time", db.ErrInvalidOverride)
	}

	shift, err := s.Store.GetShift(ctx, override.OriginalScheduleID)
	if err != nil {
		return nil, fmt.Errorf("original schedule not found: %w", err)
	}
	override.GroupID = shift.GroupID

	if override.NewUserID == shift.UserID {
		return nil, fmt.Errorf("%w: override user must be different from original user", db.ErrInvalidOverride)
	}

	existing, err := s.Store.ListOverridesForShift(ctx, shift.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	for _, o := range existing {
		if o.IsActive && o.OverrideStartTime.Before(override.OverrideEndTime) && override.OverrideStartTime.Before(o.OverrideEndTime) {
			return nil, fmt.Errorf("%w: overlaps active override %s", db.ErrInvalidOverride, o.ID)
		}
	}

	if err := s.Store.CreateOverride(ctx, &override); err != nil {
		return nil, fmt.Errorf("failed to create override: %w", err)
	}

	s.Logger.Info("schedule override created",
		zap.String("override_id", override.ID),
		zap.String("shift_id", shift.ID),
		zap.String("new_user_id", override.NewUserID),
		zap.String("type", override.OverrideType))
	return &override, nil
}

// ListOverrides returns all active overrides for a group
func (s *OverrideService) ListOverrides(ctx context.Context, groupID string) ([]db.ScheduleOverride, error) {
	overrides, err := s.Store.ListOverrides(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	return overrides, nil
}

// DeleteOverride deactivates an override (soft delete)
func (s *OverrideService) DeleteOverride(ctx context.Context, overrideID string) error {
	if err := s.Store.DeactivateOverride(ctx, overrideID, s.Clock.Now()); err != nil {
		return fmt.Errorf("failed to deactivate override: %w", err)
	}
	return nil
}
