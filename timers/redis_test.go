package timers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/oncall/db"
)

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "test"), mr
}

func TestRedisQueue_ScheduleAndClaim(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t)

	timer := db.EscalationTimer{
		AlertID: "alert-1",
		Level:   2,
		Cycle:   1,
		Step:    0,
		Kind:    db.TimerKindLevelTimeout,
		DueAt:   t0.Add(5 * time.Minute),
	}
	require.NoError(t, q.Schedule(ctx, timer))
	assert.True(t, mr.Exists("test:due"))

	due, err := q.Due(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = q.Due(ctx, t0.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, timer.AlertID, due[0].AlertID)
	assert.Equal(t, 2, due[0].Level)
	assert.Equal(t, 1, due[0].Cycle)
	assert.True(t, timer.DueAt.Equal(due[0].DueAt))

	due, err = q.Due(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRedisQueue_ReplaceAndCancel(t *testing.T) {
	ctx := context.Background()
	q, _ := newRedisQueue(t)

	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "a", Level: 1, DueAt: t0}))
	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "a", Level: 2, DueAt: t0.Add(time.Minute)}))
	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "b", Level: 1, DueAt: t0}))
	require.NoError(t, q.Cancel(ctx, "b"))

	due, err := q.Due(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = q.Due(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Level)
}

func TestRedisQueue_ScheduleIfAbsentKeepsExisting(t *testing.T) {
	ctx := context.Background()
	q, _ := newRedisQueue(t)

	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "a", Level: 2, DueAt: t0.Add(time.Minute)}))
	added, err := q.ScheduleIfAbsent(ctx, db.EscalationTimer{AlertID: "a", Level: 1, DueAt: t0})
	require.NoError(t, err)
	assert.False(t, added)

	added, err = q.ScheduleIfAbsent(ctx, db.EscalationTimer{AlertID: "b", Level: 1, DueAt: t0})
	require.NoError(t, err)
	assert.True(t, added)

	due, err := q.Due(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b", due[0].AlertID)

	due, err = q.Due(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Level)
}
