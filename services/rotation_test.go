package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/store/memory"
)

func weeklyCycle(members ...string) db.RotationCycle {
	return db.RotationCycle{
		ID:           "cycle-1",
		GroupID:      "g1",
		RotationType: db.ScheduleTypeWeekly,
		StartDate:    "2026-03-02",
		StartTime:    "00:00",
		EndTime:      "23:59",
		MemberOrder:  members,
		IsActive:     true,
	}
}

func TestGenerate_WeeklyCyclesMembers(t *testing.T) {
	cycle := weeklyCycle("m0", "m1", "m2")

	shifts, err := Generate(cycle, 52)
	require.NoError(t, err)
	require.Len(t, shifts, 52)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i, sh := range shifts {
		assert.Equal(t, []string{"m0", "m1", "m2"}[i%3], sh.UserID, "period %d", i)
		assert.Equal(t, start.AddDate(0, 0, 7*i), sh.StartTime, "period %d", i)
		assert.Equal(t, "g1", sh.GroupID)
		require.NotNil(t, sh.RotationCycleID)
		assert.Equal(t, "cycle-1", *sh.RotationCycleID)
		if i > 0 {
			assert.Equal(t, shifts[i-1].EndTime, sh.StartTime, "gap before period %d", i)
		}
	}
}

func TestGenerate_CrossDayWindowIsContiguous(t *testing.T) {
	for _, rotationType := range []string{db.ScheduleTypeDaily, db.ScheduleTypeWeekly} {
		t.Run(rotationType, func(t *testing.T) {
			cycle := weeklyCycle("a", "b")
			cycle.RotationType = rotationType
			cycle.StartTime = "16:00"
			cycle.EndTime = "15:59"

			shifts, err := Generate(cycle, 10)
			require.NoError(t, err)
			require.Len(t, shifts, 10)

			assert.Equal(t, time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC), shifts[0].StartTime)
			for i := 1; i < len(shifts); i++ {
				assert.Equal(t, shifts[i-1].EndTime, shifts[i].StartTime, "period %d", i)
				assert.True(t, shifts[i].EndTime.After(shifts[i].StartTime))
			}
		})
	}
}

func TestGenerate_Windows(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	t.Run("same-day window ends on last day", func(t *testing.T) {
		cycle := weeklyCycle("a", "b")
		cycle.StartTime, cycle.EndTime = "09:00", "17:00"
		shifts, err := Generate(cycle, 2)
		require.NoError(t, err)
		assert.Equal(t, day.Add(9*time.Hour), shifts[0].StartTime)
		assert.Equal(t, day.AddDate(0, 0, 6).Add(17*time.Hour), shifts[0].EndTime)
		assert.Equal(t, day.AddDate(0, 0, 7).Add(9*time.Hour), shifts[1].StartTime)
	})

	t.Run("overnight window ends next morning", func(t *testing.T) {
		cycle := weeklyCycle("a", "b")
		cycle.RotationType = db.ScheduleTypeDaily
		cycle.StartTime, cycle.EndTime = "22:00", "06:00"
		shifts, err := Generate(cycle, 2)
		require.NoError(t, err)
		assert.Equal(t, day.Add(22*time.Hour), shifts[0].StartTime)
		assert.Equal(t, day.AddDate(0, 0, 1).Add(6*time.Hour), shifts[0].EndTime)
		assert.Equal(t, "b", shifts[1].UserID)
	})

	t.Run("custom length", func(t *testing.T) {
		cycle := weeklyCycle("a", "b", "c")
		cycle.RotationType = db.ScheduleTypeCustom
		cycle.RotationDays = 3
		shifts, err := Generate(cycle, 3)
		require.NoError(t, err)
		assert.Equal(t, day.AddDate(0, 0, 6), shifts[2].StartTime)
		assert.Equal(t, day.AddDate(0, 0, 9), shifts[2].EndTime)
	})

	t.Run("timezone", func(t *testing.T) {
		cycle := weeklyCycle("a", "b")
		cycle.Timezone = "America/New_York"
		cycle.StartTime, cycle.EndTime = "09:00", "17:00"
		shifts, err := Generate(cycle, 1)
		require.NoError(t, err)
		assert.True(t, shifts[0].StartTime.Equal(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)))
	})
}

func TestGenerate_Invalid(t *testing.T) {
	_, err := Generate(weeklyCycle("solo"), 4)
	assert.ErrorIs(t, err, db.ErrInvalidRotation)

	shifts, err := Generate(weeklyCycle("a", "b"), 0)
	require.NoError(t, err)
	assert.NotNil(t, shifts)
	assert.Empty(t, shifts)

	custom := weeklyCycle("a", "b")
	custom.RotationType = db.ScheduleTypeCustom
	_, err = Generate(custom, 1)
	assert.ErrorIs(t, err, db.ErrInvalidRotation)

	badDate := weeklyCycle("a", "b")
	badDate.StartDate = "03/02/2026"
	_, err = Generate(badDate, 1)
	assert.ErrorIs(t, err, db.ErrInvalidRotation)
}

func TestGenerate_Deterministic(t *testing.T) {
	cycle := weeklyCycle("a", "b", "c")
	first, err := Generate(cycle, 6)
	require.NoError(t, err)
	again, err := Generate(cycle, 6)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	tail, err := GenerateRange(cycle, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, first[4:], tail)
}

func TestCurrentRotationMember(t *testing.T) {
	cycle := weeklyCycle("a", "b")
	cycle.RotationType = db.ScheduleTypeDaily
	cycle.StartTime, cycle.EndTime = "16:00", "15:59"

	member, ok, err := CurrentRotationMember(cycle, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", member)

	member, ok, err = CurrentRotationMember(cycle, time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", member)

	_, ok, err = CurrentRotationMember(cycle, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRotationService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc := NewRotationService(store, clock, zap.NewNop())

	cycle, shifts, err := svc.CreateRotationCycle(ctx, "g1", db.CreateRotationCycleRequest{
		RotationType: db.ScheduleTypeWeekly,
		StartDate:    "2026-03-02",
		MemberOrder:  []string{"a", "b", "c"},
		WeeksAhead:   4,
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, 7, cycle.RotationDays)
	assert.Equal(t, "00:00", cycle.StartTime)
	assert.Equal(t, "23:59", cycle.EndTime)
	require.Len(t, shifts, 4)

	member, err := svc.GetCurrentRotationMember(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", member)

	extra, err := svc.ExtendRotation(ctx, cycle.ID, 2)
	require.NoError(t, err)
	require.Len(t, extra, 2)
	assert.Equal(t, "b", extra[0].UserID)
	assert.Equal(t, shifts[3].EndTime, extra[0].StartTime)

	n, err := svc.DeactivateRotationCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "the running and past shifts stay active")

	_, err = svc.ExtendRotation(ctx, cycle.ID, 1)
	assert.ErrorIs(t, err, db.ErrInvalidRotation)
}

func TestRotationService_Preview(t *testing.T) {
	svc := NewRotationService(memory.NewStore(), newFakeClock(t0), zap.NewNop())

	preview, err := svc.PreviewRotation("g1", db.CreateRotationCycleRequest{
		RotationType: db.ScheduleTypeDaily,
		StartDate:    "2026-03-02",
		StartTime:    "16:00",
		EndTime:      "15:59",
		MemberOrder:  []string{"a", "b"},
		WeeksAhead:   3,
	})
	require.NoError(t, err)
	require.Len(t, preview, 3)
	assert.Equal(t, 1, preview[0].Period)
	assert.Equal(t, "b", preview[1].UserID)
	assert.Equal(t, preview[0].EndTime, preview[1].StartTime)

	_, err = svc.PreviewRotation("g1", db.CreateRotationCycleRequest{
		RotationType: db.ScheduleTypeDaily,
		StartDate:    "2026-03-02",
		MemberOrder:  []string{"a"},
	})
	assert.ErrorIs(t, err, db.ErrInvalidRotation)
}
