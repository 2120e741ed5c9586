package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/store/memory"
)

func newResolverEnv(t *testing.T) (*memory.Store, *ScheduleResolver, *OverrideService, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	store := memory.NewStore()
	for _, id := range []string{"base", "cover", "other"} {
		store.PutUser(activeUser(id))
	}
	store.PutShift(db.Shift{
		ID:          "sh1",
		SchedulerID: "sched-1",
		GroupID:     "g1",
		UserID:      "base",
		StartTime:   t0.Add(-2 * time.Hour),
		EndTime:     t0.Add(8 * time.Hour),
		IsActive:    true,
	})
	return store, NewScheduleResolver(store, logger), NewOverrideService(store, newFakeClock(t0), logger), logs
}

func TestEffectiveOnCall_OverrideBoundaries(t *testing.T) {
	ctx := context.Background()
	_, resolver, overrides, _ := newResolverEnv(t)

	_, err := overrides.CreateOverride(ctx, db.CreateScheduleOverrideRequest{
		OriginalScheduleID: "sh1",
		NewUserID:          "cover",
		OverrideStartTime:  t0,
		OverrideEndTime:    t0.Add(time.Hour),
	}, "admin")
	require.NoError(t, err)

	at := func(ts time.Time) *db.EffectiveShift {
		eff, err := resolver.EffectiveOnCall(ctx, "sched-1", ts)
		require.NoError(t, err)
		return eff
	}

	eff := at(t0)
	assert.Equal(t, "cover", eff.EffectiveUserID)
	assert.Equal(t, "cover", eff.User.ID)
	assert.Equal(t, "base", eff.OriginalUserID)
	assert.True(t, eff.IsOverridden)
	assert.False(t, eff.IsFullOverride)

	assert.Equal(t, "base", at(t0.Add(-time.Nanosecond)).EffectiveUserID)
	assert.Equal(t, "base", at(t0.Add(time.Hour)).EffectiveUserID)
	assert.False(t, at(t0.Add(time.Hour)).IsOverridden)

	// lookups by group resolve the same shift
	eff, err = resolver.EffectiveOnCall(ctx, "g1", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "cover", eff.EffectiveUserID)
}

func TestEffectiveOnCall_FullOverride(t *testing.T) {
	ctx := context.Background()
	_, resolver, overrides, _ := newResolverEnv(t)

	_, err := overrides.CreateOverride(ctx, db.CreateScheduleOverrideRequest{
		OriginalScheduleID: "sh1",
		NewUserID:          "cover",
		OverrideType:       db.OverrideTypeEmergency,
		OverrideStartTime:  t0.Add(-2 * time.Hour),
		OverrideEndTime:    t0.Add(8 * time.Hour),
	}, "admin")
	require.NoError(t, err)

	eff, err := resolver.EffectiveOnCall(ctx, "sched-1", t0)
	require.NoError(t, err)
	assert.True(t, eff.IsFullOverride)
	assert.Equal(t, db.OverrideTypeEmergency, eff.Override.OverrideType)
}

func TestEffectiveOnCall_NoShift(t *testing.T) {
	ctx := context.Background()
	_, resolver, _, _ := newResolverEnv(t)

	_, err := resolver.EffectiveOnCall(ctx, "sched-1", t0.Add(8*time.Hour))
	assert.ErrorIs(t, err, db.ErrNoOnCall)
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = resolver.EffectiveOnCall(ctx, "unknown", t0)
	assert.ErrorIs(t, err, db.ErrNoOnCall)
}

func TestEffectiveOnCall_OverlappingShifts(t *testing.T) {
	ctx := context.Background()
	store, resolver, _, logs := newResolverEnv(t)
	store.PutShift(db.Shift{
		ID:          "sh0",
		SchedulerID: "sched-1",
		UserID:      "other",
		StartTime:   t0.Add(-time.Hour),
		EndTime:     t0.Add(time.Hour),
		IsActive:    true,
	})

	eff, err := resolver.EffectiveOnCall(ctx, "sched-1", t0)
	require.NoError(t, err)
	assert.Equal(t, "sh1", eff.Shift.ID, "earliest start wins")
	assert.Equal(t, "base", eff.EffectiveUserID)
	assert.Equal(t, 1, logs.FilterMessage("overlapping shifts cover the same instant, using earliest start").Len())
}

func TestEffectiveOnCall_MissingUser(t *testing.T) {
	ctx := context.Background()
	store, resolver, _, _ := newResolverEnv(t)
	store.PutShift(db.Shift{
		ID:          "ghost",
		SchedulerID: "sched-2",
		UserID:      "deleted-user",
		StartTime:   t0.Add(-time.Hour),
		EndTime:     t0.Add(time.Hour),
		IsActive:    true,
	})

	_, err := resolver.EffectiveOnCall(ctx, "sched-2", t0)
	assert.ErrorIs(t, err, db.ErrNoOnCall)
}

func TestEffectiveOnCall_FollowsRotation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for _, id := range []string{"a", "b"} {
		store.PutUser(activeUser(id))
	}
	rotations := NewRotationService(store, newFakeClock(t0), zap.NewNop())
	_, _, err := rotations.CreateRotationCycle(ctx, "g1", db.CreateRotationCycleRequest{
		SchedulerID:  "sched-1",
		RotationType: db.ScheduleTypeDaily,
		StartDate:    "2026-03-02",
		StartTime:    "16:00",
		EndTime:      "15:59",
		MemberOrder:  []string{"a", "b"},
		WeeksAhead:   7,
	}, "admin")
	require.NoError(t, err)

	resolver := NewScheduleResolver(store, zap.NewNop())
	handover := time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC)

	eff, err := resolver.EffectiveOnCall(ctx, "sched-1", handover.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, "a", eff.EffectiveUserID)

	eff, err = resolver.EffectiveOnCall(ctx, "sched-1", handover)
	require.NoError(t, err)
	assert.Equal(t, "b", eff.EffectiveUserID)
}
