package timers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/oncall/db"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestMemoryQueue_DueInOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "b", Level: 1, DueAt: t0.Add(2 * time.Minute)}))
	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "a", Level: 1, DueAt: t0.Add(time.Minute)}))
	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "c", Level: 1, DueAt: t0.Add(10 * time.Minute)}))

	due, err := q.Due(ctx, t0, 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = q.Due(ctx, t0.Add(5*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].AlertID)
	assert.Equal(t, "b", due[1].AlertID)
	assert.Equal(t, 1, q.Len())

	due, err = q.Due(ctx, t0.Add(5*time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, due, "claimed timers are not handed out twice")
}

func TestMemoryQueue_ScheduleReplaces(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "a", Level: 1, DueAt: t0.Add(time.Minute)}))
	require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: "a", Level: 2, DueAt: t0.Add(time.Hour)}))
	assert.Equal(t, 1, q.Len())

	due, err := q.Due(ctx, t0.Add(30*time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	pending, ok := q.Pending("a")
	require.True(t, ok)
	assert.Equal(t, 2, pending.Level)
}

func TestMemoryQueue_CancelAndLimit(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Schedule(ctx, db.EscalationTimer{AlertID: id, DueAt: t0}))
	}
	require.NoError(t, q.Cancel(ctx, "b"))
	require.NoError(t, q.Cancel(ctx, "missing"))

	due, err := q.Due(ctx, t0, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].AlertID)

	due, err = q.Due(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c", due[0].AlertID)
}

func TestMemoryQueue_ScheduleIfAbsentKeepsExisting(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	added, err := q.ScheduleIfAbsent(ctx, db.EscalationTimer{AlertID: "a", Level: 2, DueAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.ScheduleIfAbsent(ctx, db.EscalationTimer{AlertID: "a", Level: 1, DueAt: t0})
	require.NoError(t, err)
	assert.False(t, added)

	pending, ok := q.Pending("a")
	require.True(t, ok)
	assert.Equal(t, 2, pending.Level)
	assert.Equal(t, 1, q.Len())
}
