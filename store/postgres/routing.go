package postgres

import (
	"context"
	"fmt"

	"github.com/phonginreallife/oncall/db"
)

// ROUTING TABLES AND RULES

func (s *Store) ListActiveRoutingTables(ctx context.Context) ([]db.AlertRoutingTable, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, name, description, is_active, priority, created_at, updated_at,
		       COALESCE(created_by::text, '')
		FROM alert_routing_tables
		WHERE is_active = true
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing tables: %w", err)
	}
	defer rows.Close()

	var tables []db.AlertRoutingTable
	for rows.Next() {
		var t db.AlertRoutingTable
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.Priority,
			&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan routing table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (s *Store) ListActiveRoutingRules(ctx context.Context, tableID string) ([]db.AlertRoutingRule, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, routing_table_id, name, priority, is_active, match_conditions, time_conditions,
		       target_group_id, COALESCE(escalation_policy_id::text, ''),
		       created_at, updated_at, COALESCE(created_by::text, '')
		FROM alert_routing_rules
		WHERE routing_table_id = $1 AND is_active = true
		ORDER BY priority DESC, created_at ASC
	`, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing rules: %w", err)
	}
	defer rows.Close()

	var rules []db.AlertRoutingRule
	for rows.Next() {
		var rule db.AlertRoutingRule
		var matchConditionsJSON, timeConditionsJSON []byte
		if err := rows.Scan(&rule.ID, &rule.RoutingTableID, &rule.Name, &rule.Priority, &rule.IsActive,
			&matchConditionsJSON, &timeConditionsJSON, &rule.TargetGroupID, &rule.EscalationPolicyID,
			&rule.CreatedAt, &rule.UpdatedAt, &rule.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan routing rule: %w", err)
		}
		// Conditions that are not a JSON object become an unknown field, so
		// the engine reports the rule as malformed instead of matching all.
		if err := unmarshalJSON(matchConditionsJSON, &rule.MatchConditions); err != nil {
			rule.MatchConditions = map[string]interface{}{"__invalid__": string(matchConditionsJSON)}
		}
		if err := unmarshalJSON(timeConditionsJSON, &rule.TimeConditions); err != nil {
			rule.TimeConditions = map[string]interface{}{"__invalid__": string(timeConditionsJSON)}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) CreateRoutingTable(ctx context.Context, table *db.AlertRoutingTable) error {
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO alert_routing_tables (id, name, description, is_active, priority, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, table.ID, table.Name, table.Description, table.IsActive, table.Priority,
		table.CreatedAt, table.UpdatedAt, nullString(table.CreatedBy))
	if err != nil {
		return fmt.Errorf("failed to create routing table: %w", err)
	}
	return nil
}

func (s *Store) CreateRoutingRule(ctx context.Context, rule *db.AlertRoutingRule) error {
	matchConditionsJSON, err := marshalJSON(rule.MatchConditions)
	if err != nil {
		return fmt.Errorf("failed to marshal match conditions: %w", err)
	}
	if matchConditionsJSON == nil {
		matchConditionsJSON = "{}"
	}
	timeConditionsJSON, err := marshalJSON(rule.TimeConditions)
	if err != nil {
		return fmt.Errorf("failed to marshal time conditions: %w", err)
	}

	res, err := s.PG.ExecContext(ctx, `
		INSERT INTO alert_routing_rules (
			id, routing_table_id, name, priority, is_active, match_conditions, time_conditions,
			target_group_id, escalation_policy_id, created_at, updated_at, created_by
		)
		SELECT $1, t.id, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		FROM alert_routing_tables t
		WHERE t.id = $2
	`, rule.ID, rule.RoutingTableID, rule.Name, rule.Priority, rule.IsActive, matchConditionsJSON,
		timeConditionsJSON, rule.TargetGroupID, nullString(rule.EscalationPolicyID),
		rule.CreatedAt, rule.UpdatedAt, nullString(rule.CreatedBy))
	if err != nil {
		return fmt.Errorf("failed to create routing rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// ROUTE LOGS

func (s *Store) CreateRouteLog(ctx context.Context, entry *db.AlertRouteLog) error {
	matchConditionsJSON, err := marshalJSON(entry.MatchConditions)
	if err != nil {
		return fmt.Errorf("failed to marshal match conditions: %w", err)
	}
	attributesJSON, err := marshalJSON(entry.AlertAttributes)
	if err != nil {
		return fmt.Errorf("failed to marshal alert attributes: %w", err)
	}

	_, err = s.PG.ExecContext(ctx, `
		INSERT INTO alert_route_logs (
			id, alert_id, matched, routing_table_id, routing_rule_id, target_group_id,
			matched_at, matched_reason, match_conditions, alert_attributes, evaluation_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, entry.AlertID, entry.Matched, nullString(entry.RoutingTableID), nullString(entry.RoutingRuleID),
		nullString(entry.TargetGroupID), entry.MatchedAt, entry.MatchedReason, matchConditionsJSON,
		attributesJSON, entry.EvaluationTimeMs)
	if err != nil {
		return fmt.Errorf("failed to create route log: %w", err)
	}
	return nil
}

// ListRouteLogs returns the routing decisions for an alert, newest first.
// An empty alertID lists every decision.
func (s *Store) ListRouteLogs(ctx context.Context, alertID string) ([]db.AlertRouteLog, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, alert_id, matched, COALESCE(routing_table_id::text, ''), COALESCE(routing_rule_id::text, ''),
		       COALESCE(target_group_id::text, ''), matched_at, matched_reason, match_conditions,
		       alert_attributes, evaluation_time_ms
		FROM alert_route_logs
		WHERE $1 = '' OR alert_id::text = $1
		ORDER BY matched_at DESC
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list route logs: %w", err)
	}
	defer rows.Close()

	var logs []db.AlertRouteLog
	for rows.Next() {
		var entry db.AlertRouteLog
		var matchConditionsJSON, attributesJSON []byte
		if err := rows.Scan(&entry.ID, &entry.AlertID, &entry.Matched, &entry.RoutingTableID,
			&entry.RoutingRuleID, &entry.TargetGroupID, &entry.MatchedAt, &entry.MatchedReason,
			&matchConditionsJSON, &attributesJSON, &entry.EvaluationTimeMs); err != nil {
			return nil, fmt.Errorf("failed to scan route log: %w", err)
		}
		if err := unmarshalJSON(matchConditionsJSON, &entry.MatchConditions); err != nil {
			return nil, fmt.Errorf("failed to decode match conditions: %w", err)
		}
		if err := unmarshalJSON(attributesJSON, &entry.AlertAttributes); err != nil {
			return nil, fmt.Errorf("failed to decode alert attributes: %w", err)
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
