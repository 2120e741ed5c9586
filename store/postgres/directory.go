package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/phonginreallife/oncall/db"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// constraintError maps unique and foreign key violations onto the db
// sentinels.
func constraintError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", db.ErrDuplicate, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%w: %s", db.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, user *db.User) error {
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO users (id, name, email, phone, team, fcm_token, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.ID, user.Name, user.Email, nullString(user.Phone), nullString(user.Team),
		nullString(user.FCMToken), user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return constraintError(err)
	}
	return nil
}

func (s *Store) UpdateUserFCMToken(ctx context.Context, userID, token string, at time.Time) error {
	res, err := s.PG.ExecContext(ctx, `
		UPDATE users SET fcm_token = $2, updated_at = $3 WHERE id = $1
	`, userID, token, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (s *Store) CreateGroup(ctx context.Context, group *db.Group) error {
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, is_active, escalation_timeout, escalation_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, group.ID, group.Name, group.Description, group.IsActive, group.EscalationTimeout,
		group.EscalationMethod, group.CreatedAt, group.UpdatedAt)
	return constraintError(err)
}

func (s *Store) AddGroupMember(ctx context.Context, member *db.GroupMember) error {
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO group_members (id, group_id, user_id, role, escalation_order, is_active, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, member.ID, member.GroupID, member.UserID, member.Role, member.EscalationOrder,
		member.IsActive, member.AddedAt)
	return constraintError(err)
}

// CreatePolicy inserts the policy and its levels in one transaction.
func (s *Store) CreatePolicy(ctx context.Context, policy *db.EscalationPolicy) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO escalation_policies (id, name, description, is_active, repeat_max_times,
		                                 escalate_after_minutes, group_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, policy.ID, policy.Name, policy.Description, policy.IsActive, policy.RepeatMaxTimes,
		policy.EscalateAfterMinutes, nullString(policy.GroupID), policy.CreatedAt, policy.UpdatedAt); err != nil {
		return constraintError(err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO escalation_levels (id, policy_id, level_number, target_type, target_id,
		                               timeout_minutes, notification_methods, message_template, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range policy.Levels {
		methods, err := marshalJSON(l.NotificationMethods)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, l.ID, policy.ID, l.LevelNumber, l.TargetType, l.TargetID,
			l.TimeoutMinutes, methods, l.MessageTemplate, l.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert escalation level %d: %w", l.LevelNumber, constraintError(err))
		}
	}
	return tx.Commit()
}
