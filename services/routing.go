package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

const noMatchReason = "No routing rule matched"

type RoutingService struct {
	Store   RoutingStore
	Clock   Clock
	Logger  *zap.Logger
	Metrics *Metrics
}

func NewRoutingService(store RoutingStore, clock Clock, logger *zap.Logger, metrics *Metrics) *RoutingService {
	return &RoutingService{
		Store:   store,
		Clock:   clock,
		Logger:  logger.Named("routing"),
		Metrics: metrics,
	}
}

// compiledRule is a rule with its conditions parsed once per evaluation.
type compiledRule struct {
	rule   db.AlertRoutingRule
	match  Condition
	window *TimeWindow
	err    error
}

// Route evaluates the routing tables for an alert and always records
// one AlertRouteLog row, including when nothing matched. A returned error
// only reports a storage failure.
func (s *RoutingService) Route(ctx context.Context, alert db.Alert) (*db.RoutingResult, error) {
	startTime := time.Now()
	attrs := alert.Attributes()

	result, err := s.evaluate(ctx, attrs, false)
	evaluationTime := int(time.Since(startTime).Milliseconds())
	s.Metrics.RoutingEvaluation.Observe(time.Since(startTime).Seconds())

	entry := &db.AlertRouteLog{
		ID:               uuid.New().String(),
		AlertID:          alert.ID,
		MatchedAt:        s.Clock.Now(),
		AlertAttributes:  attrs,
		EvaluationTimeMs: evaluationTime,
	}

	if err != nil {
		entry.MatchedReason = fmt.Sprintf("Routing evaluation failed: %v", err)
		s.writeRouteLog(ctx, entry)
		s.Metrics.RoutingDecisions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to route alert %s: %w", alert.ID, err)
	}

	result.EvaluationTimeMs = evaluationTime
	entry.Matched = result.Matched
	entry.MatchedReason = result.MatchedReason
	if result.Matched {
		entry.RoutingTableID = result.MatchedTable.ID
		entry.RoutingRuleID = result.MatchedRule.ID
		entry.TargetGroupID = result.TargetGroupID
		entry.MatchConditions = result.MatchedRule.MatchConditions
		s.Metrics.RoutingDecisions.WithLabelValues("matched").Inc()
	} else {
		s.Metrics.RoutingDecisions.WithLabelValues("no_match").Inc()
	}
	s.writeRouteLog(ctx, entry)

	s.Logger.Info("alert routed",
		zap.String("alert_id", alert.ID),
		zap.Bool("matched", result.Matched),
		zap.String("target_group_id", result.TargetGroupID),
		zap.Int("evaluation_ms", evaluationTime))

	return result, nil
}

// TestRouting tests routing for given alert attributes without creating logs
func (s *RoutingService) TestRouting(ctx context.Context, attrs db.AlertAttributes) (*db.RoutingResult, error) {
	startTime := time.Now()
	result, err := s.evaluate(ctx, attrs, true)
	if err != nil {
		return nil, fmt.Errorf("failed to test routing: %w", err)
	}
	result.EvaluationTimeMs = int(time.Since(startTime).Milliseconds())
	return result, nil
}

// evaluate walks tables and rules in descending priority and stops at the
// first rule whose time and match conditions both hold.
func (s *RoutingService) evaluate(ctx context.Context, attrs db.AlertAttributes, dryRun bool) (*db.RoutingResult, error) {
	tables, err := s.Store.ListActiveRoutingTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get routing tables: %w", err)
	}
	sortRoutingTables(tables)

	at := s.Clock.Now()
	if attrs.CreatedAt != nil {
		at = *attrs.CreatedAt
	}

	for i := range tables {
		table := tables[i]
		rules, err := s.Store.ListActiveRoutingRules(ctx, table.ID)
		if err != nil {
			s.Logger.Error("failed to load routing rules, skipping table",
				zap.String("table_id", table.ID), zap.Error(err))
			continue
		}
		sortRoutingRules(rules)

		for j := range rules {
			compiled := compileRule(rules[j])
			matched, err := compiled.matches(attrs, at)
			if err != nil {
				s.Metrics.MalformedConditions.Inc()
				s.Logger.Warn("routing rule has malformed conditions, treating as non-match",
					zap.String("table_id", table.ID),
					zap.String("rule_id", compiled.rule.ID),
					zap.Error(err))
				continue
			}
			if !matched {
				continue
			}

			rule := compiled.rule
			verb := "Matched"
			if dryRun {
				verb = "Would match"
			}
			return &db.RoutingResult{
				Matched:            true,
				TargetGroupID:      rule.TargetGroupID,
				EscalationPolicyID: rule.EscalationPolicyID,
				MatchedRule:        &rule,
				MatchedTable:       &table,
				MatchedReason: fmt.Sprintf("%s rule '%s' in table '%s' (priority %d/%d)",
					verb, rule.Name, table.Name, table.Priority, rule.Priority),
			}, nil
		}
	}

	return &db.RoutingResult{Matched: false, MatchedReason: noMatchReason}, nil
}

func compileRule(rule db.AlertRoutingRule) compiledRule {
	c := compiledRule{rule: rule}
	c.window, c.err = CompileTimeConditions(rule.TimeConditions)
	if c.err != nil {
		return c
	}
	c.match, c.err = CompileMatchConditions(rule.MatchConditions)
	return c
}

func (c compiledRule) matches(attrs db.AlertAttributes, at time.Time) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if !c.window.Allows(at) {
		return false, nil
	}
	return c.match.Evaluate(attrs)
}

func sortRoutingTables(tables []db.AlertRoutingTable) {
	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].Priority != tables[j].Priority {
			return tables[i].Priority > tables[j].Priority
		}
		return tables[i].CreatedAt.Before(tables[j].CreatedAt)
	})
}

func sortRoutingRules(rules []db.AlertRoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

func (s *RoutingService) writeRouteLog(ctx context.Context, entry *db.AlertRouteLog) {
	if err := s.Store.CreateRouteLog(ctx, entry); err != nil {
		s.Logger.Error("failed to write route log",
			zap.String("alert_id", entry.AlertID), zap.Error(err))
	}
}

// GetRoutingHistory retrieves routing history for an alert
func (s *RoutingService) GetRoutingHistory(ctx context.Context, alertID string) ([]db.AlertRouteLog, error) {
	logs, err := s.Store.ListRouteLogs(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to get routing history: %w", err)
	}
	return logs, nil
}

// CreateRoutingTable creates a new routing table
func (s *RoutingService) CreateRoutingTable(ctx context.Context, req db.CreateRoutingTableRequest, createdBy string) (*db.AlertRoutingTable, error) {
	now := s.Clock.Now()
	table := &db.AlertRoutingTable{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		IsActive:    true,
		Priority:    req.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   db.ActorOrSystem(createdBy, db.SystemUserRouting),
	}

	if err := s.Store.CreateRoutingTable(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to create routing table: %w", err)
	}
	return table, nil
}

// CreateRoutingRule validates the rule's conditions before persisting it so
// that malformed rules are rejected at configuration time.
func (s *RoutingService) CreateRoutingRule(ctx context.Context, tableID string, req db.CreateRoutingRuleRequest, createdBy string) (*db.AlertRoutingRule, error) {
	if _, err := CompileMatchConditions(req.MatchConditions); err != nil {
		return nil, err
	}
	if _, err := CompileTimeConditions(req.TimeConditions); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	rule := &db.AlertRoutingRule{
		ID:                 uuid.New().String(),
		RoutingTableID:     tableID,
		Name:               req.Name,
		Priority:           req.Priority,
		IsActive:           true,
		MatchConditions:    req.MatchConditions,
		TargetGroupID:      req.TargetGroupID,
		EscalationPolicyID: req.EscalationPolicyID,
		TimeConditions:     req.TimeConditions,
		CreatedAt:          now,
		UpdatedAt:          now,
		CreatedBy:          db.ActorOrSystem(createdBy, db.SystemUserRouting),
	}

	if err := s.Store.CreateRoutingRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create routing rule: %w", err)
	}
	return rule, nil
}
