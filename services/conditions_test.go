package services

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/oncall/db"
)

func TestConditionEvaluate(t *testing.T) {
	attrs := db.AlertAttributes{
		Title:       "Disk usage high on db-01",
		Severity:    "critical",
		Source:      "prometheus",
		Environment: "prod",
		Labels:      map[string]interface{}{"team": "storage", "cpu": 93.5},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals", Equals("severity", "critical"), true},
		{"equals miss", Equals("severity", "low"), false},
		{"in", In("source", "datadog", "prometheus"), true},
		{"not_in absent label", Match("labels.region", db.RoutingOperatorNotIn, []interface{}{"eu"}), true},
		{"not_equals absent label", Match("labels.region", db.RoutingOperatorNotEquals, "eu"), true},
		{"equals absent label", Equals("labels.region", "eu"), false},
		{"contains", Match("title", db.RoutingOperatorContains, "db-01"), true},
		{"regex", Match("title", db.RoutingOperatorRegex, `^Disk .* db-\d+$`), true},
		{"greater_than numeric", Match("labels.cpu", db.RoutingOperatorGreaterThan, 90.0), true},
		{"less_than numeric", Match("labels.cpu", db.RoutingOperatorLessThan, 90.0), false},
		{"and", And(Equals("severity", "critical"), Equals("labels.team", "storage")), true},
		{"or", Or(Equals("severity", "low"), Equals("environment", "prod")), true},
		{"not", Not(Equals("environment", "prod")), false},
		{"default", Default(), true},
		{"empty and", And(), true},
		{"empty or", Or(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.cond.Validate())
			got, err := tt.cond.Evaluate(attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvaluate_Errors(t *testing.T) {
	attrs := db.AlertAttributes{Severity: "critical"}

	_, err := Match("severity", db.RoutingOperatorGreaterThan, 3.0).Evaluate(attrs)
	assert.ErrorIs(t, err, db.ErrInvalidCondition)

	_, err = Match("severity", "approximately", "x").Evaluate(attrs)
	assert.ErrorIs(t, err, db.ErrInvalidCondition)

	assert.ErrorIs(t, Match("severity", db.RoutingOperatorRegex, "([").Validate(), db.ErrInvalidCondition)
	assert.ErrorIs(t, Match("hostname", db.RoutingOperatorEquals, "x").Validate(), db.ErrInvalidCondition)
}

func TestConditionCreatedAtComparison(t *testing.T) {
	created := t0
	attrs := db.AlertAttributes{CreatedAt: &created}

	ok, err := Match("created_at", db.RoutingOperatorGreaterThan, "2026-01-01T00:00:00Z").Evaluate(attrs)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match("created_at", db.RoutingOperatorGreaterThan, "2026-01-01T00:00:00Z").Evaluate(db.AlertAttributes{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompileMatchConditions(t *testing.T) {
	attrs := db.AlertAttributes{Severity: "high", Source: "datadog", Labels: map[string]interface{}{"team": "api"}}

	t.Run("flat map", func(t *testing.T) {
		cond, err := CompileMatchConditions(map[string]interface{}{
			"severity":    []interface{}{"critical", "high"},
			"labels.team": map[string]interface{}{"operator": "equals", "value": "api"},
			"not":         map[string]interface{}{"source": "prometheus"},
		})
		require.NoError(t, err)
		ok, err := cond.Evaluate(attrs)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("nested or", func(t *testing.T) {
		cond, err := CompileMatchConditions(map[string]interface{}{
			"or": []interface{}{
				map[string]interface{}{"severity": "critical"},
				map[string]interface{}{"source": "datadog"},
			},
		})
		require.NoError(t, err)
		ok, err := cond.Evaluate(attrs)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tagged tree", func(t *testing.T) {
		cond, err := CompileMatchConditions(map[string]interface{}{
			"kind": "and",
			"children": []interface{}{
				map[string]interface{}{"kind": "match", "field": "severity", "operator": "in", "value": []interface{}{"high"}},
				map[string]interface{}{"kind": "not", "children": []interface{}{
					map[string]interface{}{"kind": "match", "field": "labels.team", "operator": "equals", "value": "db"},
				}},
			},
		})
		require.NoError(t, err)
		ok, err := cond.Evaluate(attrs)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("empty matches everything", func(t *testing.T) {
		cond, err := CompileMatchConditions(nil)
		require.NoError(t, err)
		ok, err := cond.Evaluate(db.AlertAttributes{})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []map[string]interface{}{
			{"hostname": "x"},
			{"severity": map[string]interface{}{"value": "x"}},
			{"severity": map[string]interface{}{"operator": "in", "value": "x"}},
			{"or": "severity"},
			{"default": false},
			{"kind": "xor"},
		} {
			_, err := CompileMatchConditions(raw)
			assert.ErrorIs(t, err, db.ErrInvalidCondition, "%v", raw)
		}
	})
}

func TestTimeWindow(t *testing.T) {
	monday10 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	monday20 := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	saturday10 := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)

	business, err := CompileTimeConditions(map[string]interface{}{"business_hours": true})
	require.NoError(t, err)
	assert.True(t, business.Allows(monday10))
	assert.False(t, business.Allows(monday20))
	assert.False(t, business.Allows(saturday10))

	night, err := CompileTimeConditions(map[string]interface{}{"hours": "18:00-06:00"})
	require.NoError(t, err)
	assert.True(t, night.Allows(monday20))
	assert.False(t, night.Allows(monday10))

	weekend, err := CompileTimeConditions(map[string]interface{}{"days": []interface{}{"sat", 0.0}})
	require.NoError(t, err)
	assert.True(t, weekend.Allows(saturday10))
	assert.False(t, weekend.Allows(monday10))

	tokyo, err := CompileTimeConditions(map[string]interface{}{
		"timezone": "Asia/Tokyo",
		"hours":    map[string]interface{}{"start": "09:00", "end": "17:00"},
	})
	require.NoError(t, err)
	// 01:00 UTC is 10:00 in Tokyo
	assert.True(t, tokyo.Allows(time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)))
	assert.False(t, tokyo.Allows(monday10))

	none, err := CompileTimeConditions(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.True(t, none.Allows(saturday10))

	for _, raw := range []map[string]interface{}{
		{"full_moon": true},
		{"business_hours": "yes"},
		{"hours": "25:00-02:00"},
		{"days": []interface{}{"someday"}},
		{"timezone": "Mars/Olympus"},
	} {
		_, err := CompileTimeConditions(raw)
		assert.ErrorIs(t, err, db.ErrInvalidCondition, "%v", raw)
	}
}
