package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

// ScheduleResolver answers "who is on call" for a scheduler or group. It
// only reads from the store and is safe for concurrent use.
type ScheduleResolver struct {
	Store  ScheduleStore
	Logger *zap.Logger
}

func NewScheduleResolver(store ScheduleStore, logger *zap.Logger) *ScheduleResolver {
	return &ScheduleResolver{Store: store, Logger: logger.Named("schedule")}
}

// EffectiveOnCall returns the effective shift covering at for the given
// scheduler or group id. Returns db.ErrNoOnCall when no shift covers at.
func (r *ScheduleResolver) EffectiveOnCall(ctx context.Context, ownerID string, at time.Time) (*db.EffectiveShift, error) {
	shifts, err := r.Store.ListShiftsAt(ctx, ownerID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list shifts: %w", err)
	}

	covering := shifts[:0:0]
	for _, sh := range shifts {
		if sh.IsActive && sh.Covers(at) {
			covering = append(covering, sh)
		}
	}
	if len(covering) == 0 {
		return nil, db.ErrNoOnCall
	}

	sort.SliceStable(covering, func(i, j int) bool {
		if !covering[i].StartTime.Equal(covering[j].StartTime) {
			return covering[i].StartTime.Before(covering[j].StartTime)
		}
		return covering[i].ID < covering[j].ID
	})
	if len(covering) > 1 {
		ids := make([]string, len(covering))
		for i, sh := range covering {
			ids[i] = sh.ID
		}
		r.Logger.Warn("overlapping shifts cover the same instant, using earliest start",
			zap.String("owner_id", ownerID),
			zap.Time("at", at),
			zap.Strings("shift_ids", ids),
			zap.String("chosen_shift_id", covering[0].ID))
	}
	shift := covering[0]

	override, err := r.activeOverride(ctx, shift, at)
	if err != nil {
		return nil, err
	}

	effective := &db.EffectiveShift{
		Shift:           shift,
		EffectiveUserID: shift.UserID,
		OriginalUserID:  shift.UserID,
	}
	if override != nil {
		effective.Override = override
		effective.IsOverridden = true
		effective.EffectiveUserID = override.NewUserID
		effective.IsFullOverride = override.OverrideStartTime.Equal(shift.StartTime) &&
			override.OverrideEndTime.Equal(shift.EndTime)
	}

	user, err := r.Store.GetUser(ctx, effective.EffectiveUserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("on-call user %s: %w", effective.EffectiveUserID, db.ErrNoOnCall)
		}
		return nil, fmt.Errorf("failed to get on-call user: %w", err)
	}
	effective.User = user
	return effective, nil
}

// activeOverride returns the override in force on shift at t, if any.
func (r *ScheduleResolver) activeOverride(ctx context.Context, shift db.Shift, at time.Time) (*db.ScheduleOverride, error) {
	overrides, err := r.Store.ListOverridesForShift(ctx, shift.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}

	var active []db.ScheduleOverride
	for _, o := range overrides {
		if o.ActiveAt(at) {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].OverrideStartTime.Equal(active[j].OverrideStartTime) {
			return active[i].OverrideStartTime.Before(active[j].OverrideStartTime)
		}
		return active[i].ID < active[j].ID
	})
	if len(active) > 1 {
		r.Logger.Warn("multiple overrides active on one shift, using earliest start",
			zap.String("shift_id", shift.ID),
			zap.Time("at", at),
			zap.String("chosen_override_id", active[0].ID))
	}
	o := active[0]
	return &o, nil
}
