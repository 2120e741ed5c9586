package db

// Alert status
const (
	AlertStatusTriggered    = "triggered"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
)

// Escalation methods
const (
	EscalationMethodParallel   = "parallel"
	EscalationMethodSequential = "sequential"
	EscalationMethodRoundRobin = "round_robin"
)

// Group member roles. Presentation aliases such as "admin" map onto these
// before reaching the core.
const (
	GroupMemberRoleMember = "member"
	GroupMemberRoleLeader = "leader"
	GroupMemberRoleBackup = "backup"
)

// Alert escalation status
const (
	EscalationStatusNone         = "none"
	EscalationStatusPending      = "pending"
	EscalationStatusEscalating   = "escalating"
	EscalationStatusAcknowledged = "acknowledged"
	EscalationStatusCompleted    = "completed"
	EscalationStatusStopped      = "stopped"
)

// IsActiveEscalation reports whether an escalation is still advancing.
func IsActiveEscalation(status string) bool {
	return status == EscalationStatusPending || status == EscalationStatusEscalating
}

// Rotation / shift types
const (
	ScheduleTypeDaily  = "daily"
	ScheduleTypeWeekly = "weekly"
	ScheduleTypeCustom = "custom"
)

// Override types
const (
	OverrideTypeTemporary = "temporary"
	OverrideTypePermanent = "permanent"
	OverrideTypeEmergency = "emergency"
)

// Escalation level target types
const (
	EscalationTargetUser            = "user"
	EscalationTargetGroup           = "group"
	EscalationTargetScheduler       = "scheduler"
	EscalationTargetCurrentSchedule = "current_schedule"
	EscalationTargetExternal        = "external"
)

// AlertEscalation row status
const (
	AlertEscalationStatusExecuting    = "executing"
	AlertEscalationStatusSent         = "sent"
	AlertEscalationStatusCompleted    = "completed"
	AlertEscalationStatusFailed       = "failed"
	AlertEscalationStatusAcknowledged = "acknowledged"
	AlertEscalationStatusTimeout      = "timeout"
)

// Escalation timer kinds
const (
	TimerKindLevelTimeout   = "level_timeout"
	TimerKindSequentialStep = "sequential_step"
)

// Notification methods
const (
	NotificationMethodFCM     = "fcm"
	NotificationMethodEmail   = "email"
	NotificationMethodSMS     = "sms"
	NotificationMethodWebhook = "webhook"
)

// Routing operators
const (
	RoutingOperatorEquals      = "equals"
	RoutingOperatorNotEquals   = "not_equals"
	RoutingOperatorIn          = "in"
	RoutingOperatorNotIn       = "not_in"
	RoutingOperatorContains    = "contains"
	RoutingOperatorNotContains = "not_contains"
	RoutingOperatorRegex       = "regex"
	RoutingOperatorGreaterThan = "greater_than"
	RoutingOperatorLessThan    = "less_than"
	RoutingOperatorDefault     = "default"
)

// Routing logical operators
const (
	RoutingLogicalAnd = "and"
	RoutingLogicalOr  = "or"
	RoutingLogicalNot = "not"
)

// Time condition keys
const (
	TimeConditionBusinessHours = "business_hours"
	TimeConditionWeekdays      = "weekdays"
	TimeConditionWeekends      = "weekends"
	TimeConditionHours         = "hours"
	TimeConditionDays          = "days"
	TimeConditionTimezone      = "timezone"
)
