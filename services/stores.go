package services

import (
	"context"
	"time"

	"github.com/phonginreallife/oncall/db"
)

// AlertStore persists alerts handed over by ingestion. AssignAlertRoute
// records the group and policy routing chose for a stored alert.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *db.Alert) error
	AssignAlertRoute(ctx context.Context, alertID, groupID, policyID string, at time.Time) error
}

// DirectoryStore manages users, groups and escalation policies.
// CreatePolicy stores the policy and all its levels atomically.
type DirectoryStore interface {
	CreateUser(ctx context.Context, user *db.User) error
	GetUser(ctx context.Context, userID string) (db.User, error)
	UpdateUserFCMToken(ctx context.Context, userID, token string, at time.Time) error

	CreateGroup(ctx context.Context, group *db.Group) error
	GetGroup(ctx context.Context, groupID string) (db.Group, error)
	AddGroupMember(ctx context.Context, member *db.GroupMember) error
	ListActiveGroupMembers(ctx context.Context, groupID string) ([]db.GroupMember, error)

	CreatePolicy(ctx context.Context, policy *db.EscalationPolicy) error
	GetPolicy(ctx context.Context, policyID string) (db.EscalationPolicy, error)
}

// RoutingStore is the persistence the routing engine needs.
type RoutingStore interface {
	ListActiveRoutingTables(ctx context.Context) ([]db.AlertRoutingTable, error)
	ListActiveRoutingRules(ctx context.Context, tableID string) ([]db.AlertRoutingRule, error)
	CreateRouteLog(ctx context.Context, entry *db.AlertRouteLog) error
	ListRouteLogs(ctx context.Context, alertID string) ([]db.AlertRouteLog, error)
	CreateRoutingTable(ctx context.Context, table *db.AlertRoutingTable) error
	CreateRoutingRule(ctx context.Context, rule *db.AlertRoutingRule) error
}

// EscalationStore is the persistence the escalation engine needs.
//
// TransitionAlert applies to only when the alert's stored status, level,
// cycle and step still equal from, and reports whether it did.
type EscalationStore interface {
	GetAlert(ctx context.Context, alertID string) (db.Alert, error)
	ListEscalatingAlerts(ctx context.Context) ([]db.Alert, error)
	TransitionAlert(ctx context.Context, alertID string, from, to db.EscalationState) (bool, error)

	GetPolicy(ctx context.Context, policyID string) (db.EscalationPolicy, error)
	GetGroup(ctx context.Context, groupID string) (db.Group, error)
	ListActiveGroupMembers(ctx context.Context, groupID string) ([]db.GroupMember, error)
	NextRoundRobinIndex(ctx context.Context, groupID string) (int64, error)
	GetUser(ctx context.Context, userID string) (db.User, error)

	CreateAlertEscalation(ctx context.Context, escalation *db.AlertEscalation) error
	UpdateAlertEscalation(ctx context.Context, escalation *db.AlertEscalation) error
	MarkAlertEscalations(ctx context.Context, alertID string, level, cycle int, fromStatuses []string, toStatus string, at time.Time) error
	AcknowledgeAlertEscalations(ctx context.Context, alertID, userID string, at time.Time) error
	ListAlertEscalations(ctx context.Context, alertID string) ([]db.AlertEscalation, error)
}

// ScheduleStore is the persistence behind on-call resolution, overrides and
// rotations.
type ScheduleStore interface {
	ListShiftsAt(ctx context.Context, ownerID string, at time.Time) ([]db.Shift, error)
	ListOverridesForShift(ctx context.Context, shiftID string) ([]db.ScheduleOverride, error)
	GetShift(ctx context.Context, shiftID string) (db.Shift, error)
	GetUser(ctx context.Context, userID string) (db.User, error)

	CreateOverride(ctx context.Context, override *db.ScheduleOverride) error
	DeactivateOverride(ctx context.Context, overrideID string, at time.Time) error
	ListOverrides(ctx context.Context, groupID string) ([]db.ScheduleOverride, error)

	CreateRotationCycle(ctx context.Context, cycle *db.RotationCycle) error
	GetRotationCycle(ctx context.Context, cycleID string) (db.RotationCycle, error)
	CreateShifts(ctx context.Context, shifts []db.Shift) error
	CountRotationShifts(ctx context.Context, cycleID string) (int, error)
	DeactivateRotationCycle(ctx context.Context, cycleID string, from time.Time) (int64, error)
}

// TimerQueue holds escalation timers. Schedule replaces any timer already
// held for the same alert; ScheduleIfAbsent leaves it in place and reports
// whether it added one. Due claims and removes timers whose DueAt is not
// after now; each timer is handed to exactly one caller.
type TimerQueue interface {
	Schedule(ctx context.Context, timer db.EscalationTimer) error
	ScheduleIfAbsent(ctx context.Context, timer db.EscalationTimer) (bool, error)
	Cancel(ctx context.Context, alertID string) error
	Due(ctx context.Context, now time.Time, limit int) ([]db.EscalationTimer, error)
}

// NotificationDispatcher delivers one alert to one user over the given methods.
type NotificationDispatcher interface {
	Send(ctx context.Context, target db.User, alert db.Alert, level db.EscalationLevel, methods []string) db.DeliveryResult
}

// OnCallResolver resolves the effective on-call user of a scheduler or group.
type OnCallResolver interface {
	EffectiveOnCall(ctx context.Context, ownerID string, at time.Time) (*db.EffectiveShift, error)
}

// ExternalNotifier delivers an alert to an external (webhook) target.
type ExternalNotifier interface {
	Notify(ctx context.Context, target string, alert db.Alert, level db.EscalationLevel) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }
