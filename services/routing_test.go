package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/store/memory"
)

type routingEnv struct {
	store   *memory.Store
	metrics *Metrics
	logs    *observer.ObservedLogs
	svc     *RoutingService
}

func newRoutingEnv(t *testing.T) *routingEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	env := &routingEnv{
		store:   memory.NewStore(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		logs:    logs,
	}
	env.svc = NewRoutingService(env.store, newFakeClock(t0), zap.New(core), env.metrics)
	return env
}

func (e *routingEnv) table(t *testing.T, id string, priority int) {
	t.Helper()
	require.NoError(t, e.store.CreateRoutingTable(context.Background(), &db.AlertRoutingTable{
		ID: id, Name: id, Priority: priority, IsActive: true, CreatedAt: t0,
	}))
}

func (e *routingEnv) rule(t *testing.T, tableID, id string, priority int, match, timeConds map[string]interface{}, group string) {
	t.Helper()
	require.NoError(t, e.store.CreateRoutingRule(context.Background(), &db.AlertRoutingRule{
		ID:                 id,
		RoutingTableID:     tableID,
		Name:               id,
		Priority:           priority,
		IsActive:           true,
		MatchConditions:    match,
		TimeConditions:     timeConds,
		TargetGroupID:      group,
		EscalationPolicyID: "policy-" + group,
		CreatedAt:          t0,
	}))
}

func TestRoute_FirstMatchByPriority(t *testing.T) {
	ctx := context.Background()
	env := newRoutingEnv(t)
	env.table(t, "low", 10)
	env.table(t, "high", 100)
	env.rule(t, "high", "critical", 50, map[string]interface{}{"severity": "critical"}, nil, "g-critical")
	env.rule(t, "high", "critical-db", 10, map[string]interface{}{"severity": "critical", "labels.team": "db"}, nil, "g-db")
	env.rule(t, "low", "prometheus", 50, map[string]interface{}{"source": "prometheus"}, nil, "g-prom")

	result, err := env.svc.Route(ctx, db.Alert{ID: "a1", Severity: "critical", Source: "prometheus",
		Labels: map[string]interface{}{"team": "db"}, CreatedAt: t0})
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, "high", result.MatchedTable.ID)
	assert.Equal(t, "critical", result.MatchedRule.ID)
	assert.Equal(t, "g-critical", result.TargetGroupID)
	assert.Equal(t, "policy-g-critical", result.EscalationPolicyID)

	// only the lower priority table matches
	result, err = env.svc.Route(ctx, db.Alert{ID: "a2", Severity: "warning", Source: "prometheus", CreatedAt: t0})
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, "low", result.MatchedTable.ID)
	assert.Equal(t, "g-prom", result.TargetGroupID)
	assert.Contains(t, result.MatchedReason, "'low'")

	history, err := env.svc.GetRoutingHistory(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Matched)
	assert.Equal(t, "low", history[0].RoutingTableID)
	assert.Equal(t, "prometheus", history[0].RoutingRuleID)
}

func TestRoute_NoMatchIsLogged(t *testing.T) {
	ctx := context.Background()
	env := newRoutingEnv(t)
	env.table(t, "main", 1)
	env.rule(t, "main", "critical", 1, map[string]interface{}{"severity": "critical"}, nil, "g1")

	result, err := env.svc.Route(ctx, db.Alert{ID: "a1", Severity: "info", Source: "datadog", CreatedAt: t0})
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, "No routing rule matched", result.MatchedReason)

	history, err := env.svc.GetRoutingHistory(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Matched)
	assert.Equal(t, "info", history[0].AlertAttributes.Severity)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RoutingDecisions.WithLabelValues("no_match")))
}

func TestRoute_MalformedRuleIsSkipped(t *testing.T) {
	ctx := context.Background()
	env := newRoutingEnv(t)
	env.table(t, "main", 1)
	env.rule(t, "main", "broken", 100, map[string]interface{}{
		"severity": map[string]interface{}{"operator": "greater_than", "value": 3},
	}, nil, "g-broken")
	env.rule(t, "main", "unknown-op", 90, map[string]interface{}{
		"severity": map[string]interface{}{"operator": "fuzzy", "value": "crit"},
	}, nil, "g-broken")
	env.rule(t, "main", "fallback", 1, map[string]interface{}{"default": true}, nil, "g-default")

	result, err := env.svc.Route(ctx, db.Alert{ID: "a1", Severity: "critical", CreatedAt: t0})
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, "fallback", result.MatchedRule.ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.MalformedConditions))
	assert.Equal(t, 2, env.logs.FilterMessage("routing rule has malformed conditions, treating as non-match").Len())
}

func TestRoute_TimeConditionsUseAlertTime(t *testing.T) {
	ctx := context.Background()
	env := newRoutingEnv(t)
	env.table(t, "main", 1)
	env.rule(t, "main", "business", 10, map[string]interface{}{}, map[string]interface{}{"business_hours": true}, "g-day")
	env.rule(t, "main", "after-hours", 1, map[string]interface{}{}, nil, "g-night")

	saturday := time.Date(2026, 3, 7, 11, 0, 0, 0, time.UTC)
	result, err := env.svc.Route(ctx, db.Alert{ID: "weekend", Severity: "high", CreatedAt: saturday})
	require.NoError(t, err)
	assert.Equal(t, "g-night", result.TargetGroupID)

	result, err = env.svc.Route(ctx, db.Alert{ID: "weekday", Severity: "high", CreatedAt: t0})
	require.NoError(t, err)
	assert.Equal(t, "g-day", result.TargetGroupID)
}

func TestRoute_EqualPriorityUsesCreationOrder(t *testing.T) {
	ctx := context.Background()
	env := newRoutingEnv(t)
	env.table(t, "main", 1)
	require.NoError(t, env.store.CreateRoutingRule(ctx, &db.AlertRoutingRule{
		ID: "newer", RoutingTableID: "main", IsActive: true, Priority: 5, TargetGroupID: "g-newer", CreatedAt: t0.Add(time.Hour),
	}))
	require.NoError(t, env.store.CreateRoutingRule(ctx, &db.AlertRoutingRule{
		ID: "older", RoutingTableID: "main", IsActive: true, Priority: 5, TargetGroupID: "g-older", CreatedAt: t0,
	}))

	result, err := env.svc.TestRouting(ctx, db.AlertAttributes{Severity: "low"})
	require.NoError(t, err)
	assert.Equal(t, "g-older", result.TargetGroupID)
	assert.Contains(t, result.MatchedReason, "Would match")
}

func TestTestRouting_WritesNoLog(t *testing.T) {
	ctx := context.Background()
	env := newRoutingEnv(t)
	env.table(t, "main", 1)
	env.rule(t, "main", "all", 1, map[string]interface{}{"default": true}, nil, "g1")

	result, err := env.svc.TestRouting(ctx, db.AlertAttributes{Severity: "low"})
	require.NoError(t, err)
	assert.True(t, result.Matched)

	logs, err := env.store.ListRouteLogs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

type failingRoutingStore struct {
	*memory.Store
}

func (failingRoutingStore) ListActiveRoutingTables(ctx context.Context) ([]db.AlertRoutingTable, error) {
	return nil, errors.New("connection refused")
}

func TestRoute_StoreFailureStillLogs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewRoutingService(failingRoutingStore{store}, newFakeClock(t0), zap.NewNop(), NewMetrics(prometheus.NewRegistry()))

	_, err := svc.Route(ctx, db.Alert{ID: "a1", Severity: "critical"})
	require.Error(t, err)

	logs, err := store.ListRouteLogs(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Matched)
	assert.Contains(t, logs[0].MatchedReason, "connection refused")
}

func TestCreateRoutingRule_Validates(t *testing.T) {
	ctx := context.Background()
	env := newRoutingEnv(t)
	table, err := env.svc.CreateRoutingTable(ctx, db.CreateRoutingTableRequest{Name: "main", Priority: 5}, "")
	require.NoError(t, err)
	assert.Equal(t, db.SystemUserRouting, table.CreatedBy)

	_, err = env.svc.CreateRoutingRule(ctx, table.ID, db.CreateRoutingRuleRequest{
		Name:            "bad",
		MatchConditions: map[string]interface{}{"severity": map[string]interface{}{"operator": "regex", "value": "(["}},
		TargetGroupID:   "g1",
	}, "user-1")
	assert.ErrorIs(t, err, db.ErrInvalidCondition)

	_, err = env.svc.CreateRoutingRule(ctx, table.ID, db.CreateRoutingRuleRequest{
		Name:            "bad-time",
		MatchConditions: map[string]interface{}{"severity": "critical"},
		TimeConditions:  map[string]interface{}{"hours": "nine to five"},
		TargetGroupID:   "g1",
	}, "user-1")
	assert.ErrorIs(t, err, db.ErrInvalidCondition)

	rule, err := env.svc.CreateRoutingRule(ctx, table.ID, db.CreateRoutingRuleRequest{
		Name:            "good",
		MatchConditions: map[string]interface{}{"severity": "critical"},
		TargetGroupID:   "g1",
	}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", rule.CreatedBy)
}
