package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/phonginreallife/oncall/db"
)

// TimerQueue keeps escalation timers in the escalation_timers table, one
// row per alert. Due claims rows with FOR UPDATE SKIP LOCKED so several
// workers can poll the same table.
type TimerQueue struct {
	PG *sql.DB
}

func NewTimerQueue(pg *sql.DB) *TimerQueue {
	return &TimerQueue{PG: pg}
}

func (q *TimerQueue) Schedule(ctx context.Context, t db.EscalationTimer) error {
	_, err := q.PG.ExecContext(ctx, `
		INSERT INTO escalation_timers (alert_id, level, cycle, step, kind, due_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_id) DO UPDATE SET
			level = EXCLUDED.level,
			cycle = EXCLUDED.cycle,
			step = EXCLUDED.step,
			kind = EXCLUDED.kind,
			due_at = EXCLUDED.due_at
	`, t.AlertID, t.Level, t.Cycle, t.Step, t.Kind, t.DueAt)
	if err != nil {
		return fmt.Errorf("failed to schedule escalation timer: %w", err)
	}
	return nil
}

// ScheduleIfAbsent inserts the timer unless the alert already has one.
func (q *TimerQueue) ScheduleIfAbsent(ctx context.Context, t db.EscalationTimer) (bool, error) {
	res, err := q.PG.ExecContext(ctx, `
		INSERT INTO escalation_timers (alert_id, level, cycle, step, kind, due_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_id) DO NOTHING
	`, t.AlertID, t.Level, t.Cycle, t.Step, t.Kind, t.DueAt)
	if err != nil {
		return false, fmt.Errorf("failed to schedule escalation timer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (q *TimerQueue) Cancel(ctx context.Context, alertID string) error {
	if _, err := q.PG.ExecContext(ctx, `DELETE FROM escalation_timers WHERE alert_id = $1`, alertID); err != nil {
		return fmt.Errorf("failed to cancel escalation timer: %w", err)
	}
	return nil
}

func (q *TimerQueue) Due(ctx context.Context, now time.Time, limit int) ([]db.EscalationTimer, error) {
	// LIMIT NULL claims every due timer.
	batch := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	rows, err := q.PG.QueryContext(ctx, `
		DELETE FROM escalation_timers
		WHERE alert_id IN (
			SELECT alert_id FROM escalation_timers
			WHERE due_at <= $1
			ORDER BY due_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING alert_id, level, cycle, step, kind, due_at
	`, now, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due timers: %w", err)
	}
	defer rows.Close()

	var due []db.EscalationTimer
	for rows.Next() {
		var t db.EscalationTimer
		if err := rows.Scan(&t.AlertID, &t.Level, &t.Cycle, &t.Step, &t.Kind, &t.DueAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation timer: %w", err)
		}
		due = append(due, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	return due, nil
}
