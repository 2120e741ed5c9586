package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/phonginreallife/oncall/db"
)

// SHIFTS

const shiftColumns = `
	id, COALESCE(scheduler_id::text, ''), rotation_cycle_id::text, group_id, user_id, shift_type,
	start_time, end_time, is_active, is_recurring, rotation_days, created_at, updated_at,
	COALESCE(created_by::text, '')`

func scanShift(row rowScanner) (db.Shift, error) {
	var sh db.Shift
	var cycleID sql.NullString
	err := row.Scan(&sh.ID, &sh.SchedulerID, &cycleID, &sh.GroupID, &sh.UserID, &sh.ShiftType,
		&sh.StartTime, &sh.EndTime, &sh.IsActive, &sh.IsRecurring, &sh.RotationDays,
		&sh.CreatedAt, &sh.UpdatedAt, &sh.CreatedBy)
	if err != nil {
		return db.Shift{}, err
	}
	if cycleID.Valid {
		sh.RotationCycleID = &cycleID.String
	}
	return sh, nil
}

// ListShiftsAt returns the active shifts of a scheduler or group covering at.
func (s *Store) ListShiftsAt(ctx context.Context, ownerID string, at time.Time) ([]db.Shift, error) {
	rows, err := s.PG.QueryContext(ctx, `SELECT `+shiftColumns+`
		FROM shifts
		WHERE is_active = true
		  AND (scheduler_id::text = $1 OR group_id::text = $1)
		  AND start_time <= $2 AND end_time > $2
		ORDER BY start_time ASC, id ASC`, ownerID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list shifts: %w", err)
	}
	defer rows.Close()

	var shifts []db.Shift
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		shifts = append(shifts, sh)
	}
	return shifts, rows.Err()
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (db.Shift, error) {
	row := s.PG.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1 AND is_active = true`, shiftID)
	sh, err := scanShift(row)
	if err != nil {
		return db.Shift{}, notFound(err)
	}
	return sh, nil
}

// CreateShifts inserts generated shifts in one transaction. Shift IDs are
// deterministic, so regenerating a period is a no-op.
func (s *Store) CreateShifts(ctx context.Context, shifts []db.Shift) error {
	if len(shifts) == 0 {
		return nil
	}
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO shifts (
			id, scheduler_id, rotation_cycle_id, group_id, user_id, shift_type, start_time, end_time,
			is_active, is_recurring, rotation_days, created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare shift insert: %w", err)
	}
	defer stmt.Close()

	for _, sh := range shifts {
		var cycleID sql.NullString
		if sh.RotationCycleID != nil {
			cycleID = nullString(*sh.RotationCycleID)
		}
		if _, err := stmt.ExecContext(ctx, sh.ID, nullString(sh.SchedulerID), cycleID, sh.GroupID,
			sh.UserID, sh.ShiftType, sh.StartTime, sh.EndTime, sh.IsActive, sh.IsRecurring,
			sh.RotationDays, sh.CreatedAt, sh.UpdatedAt, nullString(sh.CreatedBy)); err != nil {
			return fmt.Errorf("failed to insert shift %s: %w", sh.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit shifts: %w", err)
	}
	return nil
}

// OVERRIDES

const overrideColumns = `
	id, original_schedule_id, group_id, new_user_id, override_reason, override_type,
	override_start_time, override_end_time, is_active, created_at, updated_at,
	COALESCE(created_by::text, '')`

func scanOverride(row rowScanner) (db.ScheduleOverride, error) {
	var o db.ScheduleOverride
	var reason sql.NullString
	err := row.Scan(&o.ID, &o.OriginalScheduleID, &o.GroupID, &o.NewUserID, &reason, &o.OverrideType,
		&o.OverrideStartTime, &o.OverrideEndTime, &o.IsActive, &o.CreatedAt, &o.UpdatedAt, &o.CreatedBy)
	if err != nil {
		return db.ScheduleOverride{}, err
	}
	if reason.Valid {
		o.OverrideReason = &reason.String
	}
	return o, nil
}

func (s *Store) queryOverrides(ctx context.Context, where string, arg interface{}) ([]db.ScheduleOverride, error) {
	rows, err := s.PG.QueryContext(ctx, `SELECT `+overrideColumns+`
		FROM schedule_overrides
		WHERE is_active = true AND `+where+`
		ORDER BY override_start_time ASC`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule overrides: %w", err)
	}
	defer rows.Close()

	var out []db.ScheduleOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ListOverridesForShift(ctx context.Context, shiftID string) ([]db.ScheduleOverride, error) {
	return s.queryOverrides(ctx, "original_schedule_id = $1", shiftID)
}

func (s *Store) ListOverrides(ctx context.Context, groupID string) ([]db.ScheduleOverride, error) {
	return s.queryOverrides(ctx, "group_id = $1", groupID)
}

func (s *Store) CreateOverride(ctx context.Context, o *db.ScheduleOverride) error {
	var reason sql.NullString
	if o.OverrideReason != nil {
		reason = sql.NullString{String: *o.OverrideReason, Valid: true}
	}
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO schedule_overrides (
			id, original_schedule_id, group_id, new_user_id, override_reason, override_type,
			override_start_time, override_end_time, is_active, created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, o.ID, o.OriginalScheduleID, o.GroupID, o.NewUserID, reason, o.OverrideType,
		o.OverrideStartTime, o.OverrideEndTime, o.IsActive, o.CreatedAt, o.UpdatedAt,
		nullString(o.CreatedBy))
	if err != nil {
		return fmt.Errorf("failed to create schedule override: %w", err)
	}
	return nil
}

func (s *Store) DeactivateOverride(ctx context.Context, overrideID string, at time.Time) error {
	res, err := s.PG.ExecContext(ctx, `
		UPDATE schedule_overrides SET is_active = false, updated_at = $2 WHERE id = $1
	`, overrideID, at)
	if err != nil {
		return fmt.Errorf("failed to deactivate schedule override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// ROTATION CYCLES

func (s *Store) CreateRotationCycle(ctx context.Context, c *db.RotationCycle) error {
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO rotation_cycles (
			id, group_id, scheduler_id, rotation_type, rotation_days, start_date, start_time, end_time,
			timezone, member_order, is_active, created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.ID, c.GroupID, nullString(c.SchedulerID), c.RotationType, c.RotationDays, c.StartDate,
		c.StartTime, c.EndTime, c.Timezone, pq.Array(c.MemberOrder), c.IsActive, c.CreatedAt,
		c.UpdatedAt, nullString(c.CreatedBy))
	if err != nil {
		return fmt.Errorf("failed to create rotation cycle: %w", err)
	}
	return nil
}

func (s *Store) GetRotationCycle(ctx context.Context, cycleID string) (db.RotationCycle, error) {
	var c db.RotationCycle
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, group_id, COALESCE(scheduler_id::text, ''), rotation_type, rotation_days,
		       to_char(start_date, 'YYYY-MM-DD'), start_time, end_time, timezone, member_order,
		       is_active, created_at, updated_at, COALESCE(created_by::text, '')
		FROM rotation_cycles
		WHERE id = $1
	`, cycleID).Scan(&c.ID, &c.GroupID, &c.SchedulerID, &c.RotationType, &c.RotationDays,
		&c.StartDate, &c.StartTime, &c.EndTime, &c.Timezone, pq.Array(&c.MemberOrder),
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt, &c.CreatedBy)
	if err != nil {
		return db.RotationCycle{}, notFound(err)
	}
	return c, nil
}

func (s *Store) CountRotationShifts(ctx context.Context, cycleID string) (int, error) {
	var n int
	err := s.PG.QueryRowContext(ctx, `SELECT COUNT(*) FROM shifts WHERE rotation_cycle_id = $1`, cycleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rotation shifts: %w", err)
	}
	return n, nil
}

// DeactivateRotationCycle deactivates the cycle and its shifts starting
// after from, returning how many shifts were deactivated.
func (s *Store) DeactivateRotationCycle(ctx context.Context, cycleID string, from time.Time) (int64, error) {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE rotation_cycles SET is_active = false, updated_at = $2 WHERE id = $1
	`, cycleID, from)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate rotation cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, db.ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE shifts SET is_active = false, updated_at = $2
		WHERE rotation_cycle_id = $1 AND is_active = true AND start_time > $2
	`, cycleID, from)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate rotation shifts: %w", err)
	}
	deactivated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rotation deactivation: %w", err)
	}
	return deactivated, nil
}
