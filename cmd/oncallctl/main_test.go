package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/oncall/db"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRotationPreview(t *testing.T) {
	out, err := runCLI(t, "rotation", "preview",
		"--type", "daily",
		"--start-date", "2026-03-02",
		"--start-time", "16:00",
		"--end-time", "15:59",
		"--members", "alice,bob",
		"--periods", "3",
		"--json")
	require.NoError(t, err)

	var periods []db.RotationPreview
	require.NoError(t, json.Unmarshal([]byte(out), &periods))
	require.Len(t, periods, 3)
	assert.Equal(t, "alice", periods[0].UserID)
	assert.Equal(t, "bob", periods[1].UserID)
	assert.Equal(t, periods[0].EndTime, periods[1].StartTime)

	out, err = runCLI(t, "rotation", "preview", "--start-date", "2026-03-02", "--members", "alice,bob", "--periods", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "PERIOD")
	assert.Contains(t, out, "2026-03-09T00:00:00Z")

	_, err = runCLI(t, "rotation", "preview", "--start-date", "2026-03-02", "--members", "alice")
	assert.ErrorIs(t, err, db.ErrInvalidRotation)
}

func TestRouteDryRun(t *testing.T) {
	rules := writeFile(t, "rules.json", `{
		"tables": [
			{"id": "ops", "name": "ops", "priority": 10, "is_active": true, "rules": [
				{"name": "critical db", "priority": 20, "is_active": true,
				 "match_conditions": {"severity": "critical", "labels.team": "db"},
				 "target_group_id": "g-db", "escalation_policy_id": "p-db"},
				{"name": "catch all", "priority": 1, "is_active": true,
				 "match_conditions": {"default": true}, "target_group_id": "g-ops"}
			]}
		]
	}`)
	alert := writeFile(t, "alert.json", `{"severity": "critical", "source": "prometheus", "labels": {"team": "db"}}`)

	out, err := runCLI(t, "route", "--rules", rules, "--alert", alert)
	require.NoError(t, err)

	var result db.RoutingResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Matched)
	assert.Equal(t, "g-db", result.TargetGroupID)
	assert.Equal(t, "p-db", result.EscalationPolicyID)
	assert.Equal(t, "ops-rule-1", result.MatchedRule.ID)
}

func TestOnCallLookup(t *testing.T) {
	schedule := writeFile(t, "schedule.json", `{
		"users": [{"id": "u1", "is_active": true}, {"id": "u2", "is_active": true}],
		"shifts": [{"id": "s1", "group_id": "g-ops", "user_id": "u1", "is_active": true,
			"start_time": "2026-03-02T00:00:00Z", "end_time": "2026-03-09T00:00:00Z"}],
		"overrides": [{"id": "o1", "original_schedule_id": "s1", "group_id": "g-ops", "new_user_id": "u2",
			"override_type": "temporary", "is_active": true,
			"override_start_time": "2026-03-03T00:00:00Z", "override_end_time": "2026-03-04T00:00:00Z"}]
	}`)

	out, err := runCLI(t, "oncall", "g-ops", "--schedule", schedule, "--at", "2026-03-03T12:00:00Z")
	require.NoError(t, err)
	var shift db.EffectiveShift
	require.NoError(t, json.Unmarshal([]byte(out), &shift))
	assert.Equal(t, "u2", shift.EffectiveUserID)
	assert.Equal(t, "u1", shift.OriginalUserID)
	assert.False(t, shift.IsFullOverride)

	out, err = runCLI(t, "oncall", "g-ops", "--schedule", schedule, "--at", "2026-03-10T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "No one is on call")

	_, err = runCLI(t, "oncall", "g-ops", "--schedule", schedule, "--at", "yesterday")
	assert.Error(t, err)
}
