package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/phonginreallife/oncall/db"
)

// ALERTS

const alertColumns = `
	id, title, description, severity, source, environment, labels, metadata,
	status, COALESCE(assigned_to::text, ''), COALESCE(acked_by::text, ''), acked_at,
	COALESCE(group_id::text, ''), COALESCE(escalation_policy_id::text, ''),
	current_escalation_level, escalation_cycle, escalation_step, last_escalated_at,
	escalation_status, created_at, updated_at`

func scanAlert(row rowScanner) (db.Alert, error) {
	var a db.Alert
	var labelsJSON, metadataJSON []byte
	var ackedAt, lastEscalatedAt sql.NullTime
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.Severity, &a.Source, &a.Environment,
		&labelsJSON, &metadataJSON, &a.Status, &a.AssignedTo, &a.AckedBy, &ackedAt,
		&a.GroupID, &a.EscalationPolicyID, &a.CurrentEscalationLevel, &a.EscalationCycle,
		&a.EscalationStep, &lastEscalatedAt, &a.EscalationStatus, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return db.Alert{}, err
	}
	if err := unmarshalJSON(labelsJSON, &a.Labels); err != nil {
		return db.Alert{}, fmt.Errorf("failed to decode alert labels: %w", err)
	}
	if err := unmarshalJSON(metadataJSON, &a.Metadata); err != nil {
		return db.Alert{}, fmt.Errorf("failed to decode alert metadata: %w", err)
	}
	a.AckedAt = timePtr(ackedAt)
	a.LastEscalatedAt = timePtr(lastEscalatedAt)
	return a, nil
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (db.Alert, error) {
	row := s.PG.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, alertID)
	a, err := scanAlert(row)
	if err != nil {
		return db.Alert{}, notFound(err)
	}
	return a, nil
}

// ListEscalatingAlerts returns alerts whose escalation is still in flight,
// oldest first.
func (s *Store) ListEscalatingAlerts(ctx context.Context) ([]db.Alert, error) {
	rows, err := s.PG.QueryContext(ctx, `SELECT `+alertColumns+`
		FROM alerts
		WHERE escalation_status IN ('pending', 'escalating') AND escalation_policy_id IS NOT NULL
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalating alerts: %w", err)
	}
	defer rows.Close()

	var alerts []db.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// TransitionAlert writes to only while the stored escalation columns, and
// the alert status when from carries one, still equal from.
func (s *Store) TransitionAlert(ctx context.Context, alertID string, from, to db.EscalationState) (bool, error) {
	res, err := s.PG.ExecContext(ctx, `
		UPDATE alerts SET
			escalation_policy_id = COALESCE($6::uuid, escalation_policy_id),
			escalation_status = $7::text,
			current_escalation_level = $8,
			escalation_cycle = $9,
			escalation_step = $10,
			last_escalated_at = $11,
			acked_by = COALESCE($12::uuid, acked_by),
			acked_at = COALESCE($13, acked_at),
			status = COALESCE($15::text, status),
			updated_at = NOW()
		WHERE id = $1
		  AND escalation_status = $2
		  AND current_escalation_level = $3
		  AND escalation_cycle = $4
		  AND escalation_step = $5
		  AND ($14::text IS NULL OR status = $14::text)
	`, alertID, from.Status, from.Level, from.Cycle, from.Step,
		nullString(to.PolicyID), to.Status, to.Level, to.Cycle, to.Step,
		nullTime(to.LastEscalatedAt), nullString(to.AckedBy), nullTime(to.AckedAt),
		nullString(from.AlertStatus), nullString(to.AlertStatus))
	if err != nil {
		return false, fmt.Errorf("failed to transition alert escalation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.PG.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM alerts WHERE id = $1)`, alertID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check alert: %w", err)
	}
	if !exists {
		return false, db.ErrNotFound
	}
	return false, nil
}

// POLICIES, GROUPS AND USERS

func (s *Store) GetPolicy(ctx context.Context, policyID string) (db.EscalationPolicy, error) {
	var p db.EscalationPolicy
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, name, description, is_active, repeat_max_times, escalate_after_minutes,
		       COALESCE(group_id::text, ''), created_at, updated_at
		FROM escalation_policies
		WHERE id = $1
	`, policyID).Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &p.RepeatMaxTimes,
		&p.EscalateAfterMinutes, &p.GroupID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return db.EscalationPolicy{}, notFound(err)
	}

	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, policy_id, level_number, target_type, target_id, timeout_minutes,
		       notification_methods, message_template, created_at
		FROM escalation_levels
		WHERE policy_id = $1
		ORDER BY level_number ASC
	`, policyID)
	if err != nil {
		return db.EscalationPolicy{}, fmt.Errorf("failed to get escalation levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level db.EscalationLevel
		var methodsJSON []byte
		if err := rows.Scan(&level.ID, &level.PolicyID, &level.LevelNumber, &level.TargetType,
			&level.TargetID, &level.TimeoutMinutes, &methodsJSON, &level.MessageTemplate,
			&level.CreatedAt); err != nil {
			return db.EscalationPolicy{}, fmt.Errorf("failed to scan escalation level: %w", err)
		}
		if err := unmarshalJSON(methodsJSON, &level.NotificationMethods); err != nil {
			return db.EscalationPolicy{}, fmt.Errorf("failed to decode notification methods: %w", err)
		}
		p.Levels = append(p.Levels, level)
	}
	return p, rows.Err()
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (db.Group, error) {
	var g db.Group
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, name, description, is_active, escalation_timeout, escalation_method,
		       round_robin_counter, created_at, updated_at
		FROM groups
		WHERE id = $1
	`, groupID).Scan(&g.ID, &g.Name, &g.Description, &g.IsActive, &g.EscalationTimeout,
		&g.EscalationMethod, &g.RoundRobinCounter, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return db.Group{}, notFound(err)
	}
	return g, nil
}

func (s *Store) ListActiveGroupMembers(ctx context.Context, groupID string) ([]db.GroupMember, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, group_id, user_id, role, escalation_order, is_active, added_at
		FROM group_members
		WHERE group_id = $1 AND is_active = true
		ORDER BY escalation_order ASC, user_id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []db.GroupMember
	for rows.Next() {
		var m db.GroupMember
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.EscalationOrder,
			&m.IsActive, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// NextRoundRobinIndex atomically claims the group's next round-robin slot.
func (s *Store) NextRoundRobinIndex(ctx context.Context, groupID string) (int64, error) {
	var index int64
	err := s.PG.QueryRowContext(ctx, `
		UPDATE groups SET round_robin_counter = round_robin_counter + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING round_robin_counter - 1
	`, groupID).Scan(&index)
	if err != nil {
		return 0, notFound(err)
	}
	return index, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (db.User, error) {
	var u db.User
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, name, email, COALESCE(phone, ''), COALESCE(team, ''), COALESCE(fcm_token, ''),
		       is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Team, &u.FCMToken,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return db.User{}, notFound(err)
	}
	return u, nil
}

// ESCALATION ATTEMPTS

func (s *Store) CreateAlertEscalation(ctx context.Context, e *db.AlertEscalation) error {
	deliveryJSON, err := marshalJSON(e.Delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	methodsJSON, err := marshalJSON(e.NotificationMethods)
	if err != nil {
		return fmt.Errorf("failed to marshal notification methods: %w", err)
	}

	_, err = s.PG.ExecContext(ctx, `
		INSERT INTO alert_escalations (
			id, alert_id, escalation_policy_id, escalation_level, escalation_cycle, escalation_step,
			target_type, target_id, status, error_message, notified_user_ids, delivery,
			notification_methods, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ID, e.AlertID, nullString(e.EscalationPolicyID), e.EscalationLevel, e.EscalationCycle,
		e.EscalationStep, e.TargetType, e.TargetID, e.Status, e.ErrorMessage,
		pq.Array(nonNil(e.NotifiedUserIDs)), deliveryJSON, methodsJSON, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert escalation: %w", err)
	}
	return nil
}

func (s *Store) UpdateAlertEscalation(ctx context.Context, e *db.AlertEscalation) error {
	deliveryJSON, err := marshalJSON(e.Delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	res, err := s.PG.ExecContext(ctx, `
		UPDATE alert_escalations
		SET status = $2, error_message = $3, notified_user_ids = $4, delivery = $5, updated_at = $6
		WHERE id = $1
	`, e.ID, e.Status, e.ErrorMessage, pq.Array(nonNil(e.NotifiedUserIDs)), deliveryJSON, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update alert escalation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAlertEscalations(ctx context.Context, alertID string, level, cycle int, fromStatuses []string, toStatus string, at time.Time) error {
	_, err := s.PG.ExecContext(ctx, `
		UPDATE alert_escalations
		SET status = $5, updated_at = $6
		WHERE alert_id = $1 AND escalation_level = $2 AND escalation_cycle = $3 AND status = ANY($4)
	`, alertID, level, cycle, pq.Array(fromStatuses), toStatus, at)
	if err != nil {
		return fmt.Errorf("failed to mark alert escalations: %w", err)
	}
	return nil
}

func (s *Store) AcknowledgeAlertEscalations(ctx context.Context, alertID, userID string, at time.Time) error {
	_, err := s.PG.ExecContext(ctx, `
		UPDATE alert_escalations
		SET status = 'acknowledged',
		    acknowledged_at = $3,
		    acknowledged_by = $2,
		    response_time_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3::timestamptz - created_at)))::int,
		    updated_at = $3
		WHERE alert_id = $1 AND status IN ('executing', 'sent')
	`, alertID, nullString(userID), at)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert escalations: %w", err)
	}
	return nil
}

func (s *Store) ListAlertEscalations(ctx context.Context, alertID string) ([]db.AlertEscalation, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, alert_id, COALESCE(escalation_policy_id::text, ''), escalation_level, escalation_cycle,
		       escalation_step, target_type, target_id, status, error_message, notified_user_ids,
		       delivery, notification_methods, created_at, updated_at, acknowledged_at,
		       COALESCE(acknowledged_by::text, ''), response_time_seconds
		FROM alert_escalations
		WHERE alert_id = $1
		ORDER BY created_at ASC, escalation_cycle ASC, escalation_level ASC
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert escalations: %w", err)
	}
	defer rows.Close()

	var out []db.AlertEscalation
	for rows.Next() {
		var e db.AlertEscalation
		var deliveryJSON, methodsJSON []byte
		var acknowledgedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.AlertID, &e.EscalationPolicyID, &e.EscalationLevel,
			&e.EscalationCycle, &e.EscalationStep, &e.TargetType, &e.TargetID, &e.Status,
			&e.ErrorMessage, pq.Array(&e.NotifiedUserIDs), &deliveryJSON, &methodsJSON,
			&e.CreatedAt, &e.UpdatedAt, &acknowledgedAt, &e.AcknowledgedBy,
			&e.ResponseTimeSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan alert escalation: %w", err)
		}
		if err := unmarshalJSON(deliveryJSON, &e.Delivery); err != nil {
			return nil, fmt.Errorf("failed to decode delivery: %w", err)
		}
		if err := unmarshalJSON(methodsJSON, &e.NotificationMethods); err != nil {
			return nil, fmt.Errorf("failed to decode notification methods: %w", err)
		}
		e.AcknowledgedAt = timePtr(acknowledgedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// CreateAlert stores a normalized alert. A duplicate ID is ErrAlertExists.
func (s *Store) CreateAlert(ctx context.Context, a *db.Alert) error {
	labelsJSON, err := marshalJSON(a.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	metadataJSON, err := marshalJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	res, err := s.PG.ExecContext(ctx, `
		INSERT INTO alerts (
			id, title, description, severity, source, environment, labels, metadata, status,
			group_id, escalation_policy_id, escalation_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.Title, a.Description, a.Severity, a.Source, a.Environment, labelsJSON, metadataJSON,
		a.Status, nullString(a.GroupID), nullString(a.EscalationPolicyID), a.EscalationStatus,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.ErrAlertExists
	}
	return nil
}

// AssignAlertRoute records the routing outcome on a stored alert.
func (s *Store) AssignAlertRoute(ctx context.Context, alertID, groupID, policyID string, at time.Time) error {
	res, err := s.PG.ExecContext(ctx, `
		UPDATE alerts SET group_id = $2::uuid, escalation_policy_id = $3::uuid, updated_at = $4
		WHERE id = $1
	`, alertID, nullString(groupID), nullString(policyID), at)
	if err != nil {
		return fmt.Errorf("failed to assign alert route: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}
