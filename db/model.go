package db

import (
	"time"
)

// USER AND ALERT MODELS

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Team      string    `json:"team,omitempty"`
	FCMToken  string    `json:"fcm_token,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alert is a normalized alert handed over by ingestion. Title through
// CreatedAt never change once created; the remaining fields are owned by the
// routing and escalation workflow.
type Alert struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Severity    string                 `json:"severity"`
	Source      string                 `json:"source"`
	Environment string                 `json:"environment,omitempty"`
	Labels      map[string]interface{} `json:"labels,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`

	Status     string     `json:"status"` // triggered, acknowledged, resolved
	AssignedTo string     `json:"assigned_to,omitempty"`
	AckedBy    string     `json:"acked_by,omitempty"`
	AckedAt    *time.Time `json:"acked_at,omitempty"`
	GroupID    string     `json:"group_id,omitempty"`

	// Escalation fields
	EscalationPolicyID     string     `json:"escalation_policy_id,omitempty"`
	CurrentEscalationLevel int        `json:"current_escalation_level"`
	EscalationCycle        int        `json:"escalation_cycle"` // completed replays of the level sequence
	EscalationStep         int        `json:"escalation_step"`  // member index for sequential groups
	LastEscalatedAt        *time.Time `json:"last_escalated_at,omitempty"`
	EscalationStatus       string     `json:"escalation_status"` // none, pending, escalating, acknowledged, completed, stopped
}

// EscalationState is the mutable escalation projection of an alert. Stores
// compare Status, Level, Cycle and Step, plus AlertStatus when set, when
// applying a transition and write every field of the target state. An empty
// AlertStatus in the target leaves the alert status unchanged.
type EscalationState struct {
	PolicyID        string
	AlertStatus     string
	Status          string
	Level           int
	Cycle           int
	Step            int
	LastEscalatedAt *time.Time
	AckedBy         string
	AckedAt         *time.Time
}

func (a *Alert) EscalationState() EscalationState {
	status := a.EscalationStatus
	if status == "" {
		status = EscalationStatusNone
	}
	return EscalationState{
		PolicyID:        a.EscalationPolicyID,
		AlertStatus:     a.Status,
		Status:          status,
		Level:           a.CurrentEscalationLevel,
		Cycle:           a.EscalationCycle,
		Step:            a.EscalationStep,
		LastEscalatedAt: a.LastEscalatedAt,
		AckedBy:         a.AckedBy,
		AckedAt:         a.AckedAt,
	}
}

// ApplyEscalationState copies a committed transition back onto the alert.
func (a *Alert) ApplyEscalationState(s EscalationState) {
	if s.PolicyID != "" {
		a.EscalationPolicyID = s.PolicyID
	}
	if s.AlertStatus != "" {
		a.Status = s.AlertStatus
	}
	a.EscalationStatus = s.Status
	a.CurrentEscalationLevel = s.Level
	a.EscalationCycle = s.Cycle
	a.EscalationStep = s.Step
	a.LastEscalatedAt = s.LastEscalatedAt
	if s.AckedBy != "" {
		a.AckedBy = s.AckedBy
		a.AckedAt = s.AckedAt
	}
}

// Attributes returns the routing view of the alert.
func (a *Alert) Attributes() AlertAttributes {
	attrs := AlertAttributes{
		Title:       a.Title,
		Severity:    a.Severity,
		Source:      a.Source,
		Labels:      a.Labels,
		Metadata:    a.Metadata,
		Environment: a.Environment,
	}
	if !a.CreatedAt.IsZero() {
		createdAt := a.CreatedAt
		attrs.CreatedAt = &createdAt
	}
	return attrs
}

// GROUP MANAGEMENT AND ESCALATION MODELS

// Group represents a group of users for escalation
type Group struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	IsActive          bool      `json:"is_active"`
	EscalationTimeout int       `json:"escalation_timeout"` // seconds between sequential members
	EscalationMethod  string    `json:"escalation_method"`  // parallel, sequential, round_robin
	RoundRobinCounter int64     `json:"round_robin_counter"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// GroupMember represents a user's membership in a group
type GroupMember struct {
	ID              string    `json:"id"`
	GroupID         string    `json:"group_id"`
	UserID          string    `json:"user_id"`
	Role            string    `json:"role"`             // member, leader, backup
	EscalationOrder int       `json:"escalation_order"` // For sequential escalation
	IsActive        bool      `json:"is_active"`
	AddedAt         time.Time `json:"added_at"`
}

// EscalationPolicy defines a multi-level escalation chain owned by a group
type EscalationPolicy struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	IsActive             bool      `json:"is_active"`
	RepeatMaxTimes       int       `json:"repeat_max_times"`       // "Repeat all rules up to X times"
	EscalateAfterMinutes int       `json:"escalate_after_minutes"` // Default timeout (can be overridden per level)
	GroupID              string    `json:"group_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	Levels []EscalationLevel `json:"levels,omitempty"`
}

// Level returns the level with the given number.
func (p *EscalationPolicy) Level(number int) (EscalationLevel, bool) {
	for _, l := range p.Levels {
		if l.LevelNumber == number {
			return l, true
		}
	}
	return EscalationLevel{}, false
}

// EscalationLevel defines a single step in the escalation chain
type EscalationLevel struct {
	ID                  string    `json:"id"`
	PolicyID            string    `json:"policy_id"`
	LevelNumber         int       `json:"level_number"`
	TargetType          string    `json:"target_type"`          // user, group, scheduler, current_schedule, external
	TargetID            string    `json:"target_id,omitempty"`  // user_id, group_id, scheduler_id, webhook_url
	TimeoutMinutes      int       `json:"timeout_minutes"`      // 0 = use policy default
	NotificationMethods []string  `json:"notification_methods"` // fcm, email, sms, webhook
	MessageTemplate     string    `json:"message_template"`
	CreatedAt           time.Time `json:"created_at"`
}

// GetEffectiveTimeout returns the effective timeout for this level
// Uses level-specific timeout if set, otherwise falls back to policy default
func (el *EscalationLevel) GetEffectiveTimeout(policyDefault int) int {
	if el.TimeoutMinutes > 0 {
		return el.TimeoutMinutes
	}
	return policyDefault
}

// AlertEscalation is one attempt of one level for one alert
type AlertEscalation struct {
	ID                  string         `json:"id"`
	AlertID             string         `json:"alert_id"`
	EscalationPolicyID  string         `json:"escalation_policy_id"`
	EscalationLevel     int            `json:"escalation_level"`
	EscalationCycle     int            `json:"escalation_cycle"`
	EscalationStep      int            `json:"escalation_step"`
	TargetType          string         `json:"target_type"`
	TargetID            string         `json:"target_id"`
	Status              string         `json:"status"` // executing, sent, completed, failed, acknowledged, timeout
	ErrorMessage        string         `json:"error_message,omitempty"`
	NotifiedUserIDs     []string       `json:"notified_user_ids,omitempty"`
	Delivery            DeliveryResult `json:"delivery"`
	NotificationMethods []string       `json:"notification_methods"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	AcknowledgedAt      *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy      string         `json:"acknowledged_by,omitempty"`
	ResponseTimeSeconds int            `json:"response_time_seconds,omitempty"`
}

// ChannelResult is the outcome of one notification channel for one user.
type ChannelResult struct {
	UserID  string `json:"user_id,omitempty"`
	Method  string `json:"method"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type DeliveryResult struct {
	Channels []ChannelResult `json:"channels,omitempty"`
}

// Succeeded reports whether at least one channel delivered.
func (r DeliveryResult) Succeeded() bool {
	for _, c := range r.Channels {
		if c.Success {
			return true
		}
	}
	return false
}

func (r *DeliveryResult) Merge(other DeliveryResult) {
	r.Channels = append(r.Channels, other.Channels...)
}

// EscalationTimer is a pending delay-queue entry. At most one exists per
// alert; scheduling a new one replaces the previous.
type EscalationTimer struct {
	AlertID string    `json:"alert_id"`
	Level   int       `json:"level"`
	Cycle   int       `json:"cycle"`
	Step    int       `json:"step"`
	Kind    string    `json:"kind"` // level_timeout, sequential_step
	DueAt   time.Time `json:"due_at"`
}

// SCHEDULE MODELS

// Shift assigns a user to a scheduler/group for [StartTime, EndTime)
type Shift struct {
	ID              string    `json:"id"`
	SchedulerID     string    `json:"scheduler_id"`
	RotationCycleID *string   `json:"rotation_cycle_id,omitempty"`
	GroupID         string    `json:"group_id"`
	UserID          string    `json:"user_id"`
	ShiftType       string    `json:"shift_type"` // daily, weekly, custom
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	IsActive        bool      `json:"is_active"`
	IsRecurring     bool      `json:"is_recurring"`
	RotationDays    int       `json:"rotation_days"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	CreatedBy       string    `json:"created_by,omitempty"`
}

// Covers reports whether t falls inside the half-open shift window.
func (s *Shift) Covers(t time.Time) bool {
	return !t.Before(s.StartTime) && t.Before(s.EndTime)
}

// ScheduleOverride replaces the effective user of a shift for a window
type ScheduleOverride struct {
	ID                 string    `json:"id"`
	OriginalScheduleID string    `json:"original_schedule_id"`
	GroupID            string    `json:"group_id"`
	NewUserID          string    `json:"new_user_id"`
	OverrideReason     *string   `json:"override_reason,omitempty"`
	OverrideType       string    `json:"override_type"` // temporary, permanent, emergency
	OverrideStartTime  time.Time `json:"override_start_time"`
	OverrideEndTime    time.Time `json:"override_end_time"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	CreatedBy          string    `json:"created_by"`
}

// ActiveAt reports whether the override is in force at t.
func (o *ScheduleOverride) ActiveAt(t time.Time) bool {
	return o.IsActive && !t.Before(o.OverrideStartTime) && t.Before(o.OverrideEndTime)
}

// EffectiveShift is a shift with the override in force applied. Derived,
// never persisted.
type EffectiveShift struct {
	Shift           Shift             `json:"shift"`
	User            User              `json:"user"`
	EffectiveUserID string            `json:"effective_user_id"`
	OriginalUserID  string            `json:"original_user_id"`
	Override        *ScheduleOverride `json:"override,omitempty"`
	IsOverridden    bool              `json:"is_overridden"`
	IsFullOverride  bool              `json:"is_full_override"`
}

// RotationCycle is the declarative spec shifts are generated from
type RotationCycle struct {
	ID           string    `json:"id"`
	GroupID      string    `json:"group_id"`
	SchedulerID  string    `json:"scheduler_id,omitempty"`
	RotationType string    `json:"rotation_type"` // daily, weekly, custom
	RotationDays int       `json:"rotation_days"` // 1=daily, 7=weekly, etc.
	StartDate    string    `json:"start_date"`    // "2024-01-15"
	StartTime    string    `json:"start_time"`    // "09:00"
	EndTime      string    `json:"end_time"`      // "17:00"
	Timezone     string    `json:"timezone,omitempty"`
	MemberOrder  []string  `json:"member_order"` // ['user-id-1', 'user-id-2']
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CreatedBy    string    `json:"created_by,omitempty"`
}

// REQUEST MODELS

// CreateScheduleOverrideRequest represents the request body for creating an override
type CreateScheduleOverrideRequest struct {
	OriginalScheduleID string    `json:"original_schedule_id" binding:"required"`
	NewUserID          string    `json:"new_user_id" binding:"required"`
	OverrideReason     *string   `json:"override_reason,omitempty"`
	OverrideType       string    `json:"override_type"` // temporary, permanent, emergency
	OverrideStartTime  time.Time `json:"override_start_time" binding:"required"`
	OverrideEndTime    time.Time `json:"override_end_time" binding:"required"`
}

// CreateRotationCycleRequest represents request to create automatic rotation
type CreateRotationCycleRequest struct {
	SchedulerID  string   `json:"scheduler_id"`
	RotationType string   `json:"rotation_type" binding:"required"` // daily, weekly, custom
	RotationDays int      `json:"rotation_days"`                    // defaults based on type
	StartDate    string   `json:"start_date" binding:"required"`    // "2024-01-15"
	StartTime    string   `json:"start_time"`                       // "09:00" default "00:00"
	EndTime      string   `json:"end_time"`                         // "17:00" default "23:59"
	Timezone     string   `json:"timezone"`
	MemberOrder  []string `json:"member_order" binding:"required"` // ['user-id-1', 'user-id-2']
	WeeksAhead   int      `json:"weeks_ahead"`                     // periods to generate, default 52
}

// RotationPreview is one generated period, without persistence
type RotationPreview struct {
	Period    int       `json:"period"`
	UserID    string    `json:"user_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// ALERT ROUTING TABLE MODELS (VPC-style routing)

// AlertRoutingTable represents a routing table for alerts (similar to VPC routing)
type AlertRoutingTable struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	Priority    int       `json:"priority"` // Higher number = higher priority
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// AlertRoutingRule represents a rule within a routing table
type AlertRoutingRule struct {
	ID             string `json:"id"`
	RoutingTableID string `json:"routing_table_id"`
	Name           string `json:"name"`
	Priority       int    `json:"priority"` // Rule priority within table
	IsActive       bool   `json:"is_active"`

	// Matching Conditions (JSON for flexibility)
	MatchConditions map[string]interface{} `json:"match_conditions"`

	// Target routing
	TargetGroupID      string `json:"target_group_id"`
	EscalationPolicyID string `json:"escalation_policy_id,omitempty"`

	// Time-based routing conditions
	TimeConditions map[string]interface{} `json:"time_conditions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// AlertRouteLog represents a log entry for alert routing decisions
type AlertRouteLog struct {
	ID               string                 `json:"id"`
	AlertID          string                 `json:"alert_id"`
	Matched          bool                   `json:"matched"`
	RoutingTableID   string                 `json:"routing_table_id,omitempty"`
	RoutingRuleID    string                 `json:"routing_rule_id,omitempty"`
	TargetGroupID    string                 `json:"target_group_id,omitempty"`
	MatchedAt        time.Time              `json:"matched_at"`
	MatchedReason    string                 `json:"matched_reason"`
	MatchConditions  map[string]interface{} `json:"match_conditions,omitempty"`
	AlertAttributes  AlertAttributes        `json:"alert_attributes"`
	EvaluationTimeMs int                    `json:"evaluation_time_ms"`
}

// RoutingResult represents the result of routing evaluation. Matched is
// false when no rule applied; that is a valid outcome, not an error.
type RoutingResult struct {
	Matched            bool               `json:"matched"`
	TargetGroupID      string             `json:"target_group_id,omitempty"`
	EscalationPolicyID string             `json:"escalation_policy_id,omitempty"`
	MatchedRule        *AlertRoutingRule  `json:"matched_rule,omitempty"`
	MatchedTable       *AlertRoutingTable `json:"matched_table,omitempty"`
	MatchedReason      string             `json:"matched_reason"`
	EvaluationTimeMs   int                `json:"evaluation_time_ms"`
}

// CreateUserRequest registers a notification target. Identity itself is
// managed elsewhere; the ID is the external subject.
type CreateUserRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Phone    string `json:"phone,omitempty"`
	Team     string `json:"team,omitempty"`
	FCMToken string `json:"fcm_token,omitempty"`
}

type UpdateFCMTokenRequest struct {
	FCMToken string `json:"fcm_token" binding:"required"`
}

// CreateGroupRequest represents the request body for creating a group
type CreateGroupRequest struct {
	Name              string `json:"name" binding:"required"`
	Description       string `json:"description"`
	EscalationTimeout int    `json:"escalation_timeout"` // seconds, default 300
	EscalationMethod  string `json:"escalation_method"`  // default parallel
}

// AddGroupMemberRequest represents the request body for adding a member
type AddGroupMemberRequest struct {
	UserID          string `json:"user_id" binding:"required"`
	Role            string `json:"role"` // member, leader, backup
	EscalationOrder int    `json:"escalation_order"`
}

// GroupWithMembers is a group together with its active members
type GroupWithMembers struct {
	Group
	Members []GroupMember `json:"members"`
}

// CreateRoutingTableRequest for creating a new routing table
type CreateRoutingTableRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Priority    int    `json:"priority,omitempty"`
}

// CreateRoutingRuleRequest for creating a new routing rule
type CreateRoutingRuleRequest struct {
	Name               string                 `json:"name" binding:"required"`
	Priority           int                    `json:"priority,omitempty"`
	MatchConditions    map[string]interface{} `json:"match_conditions" binding:"required"`
	TargetGroupID      string                 `json:"target_group_id" binding:"required"`
	EscalationPolicyID string                 `json:"escalation_policy_id,omitempty"`
	TimeConditions     map[string]interface{} `json:"time_conditions,omitempty"`
}

// TestRoutingRequest for testing routing rules
type TestRoutingRequest struct {
	Alert AlertAttributes `json:"alert" binding:"required"`
}

// AlertAttributes represents alert attributes for routing evaluation
type AlertAttributes struct {
	Title       string                 `json:"title,omitempty"`
	Severity    string                 `json:"severity"`
	Source      string                 `json:"source"`
	Labels      map[string]interface{} `json:"labels,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   *time.Time             `json:"created_at,omitempty"`
	Environment string                 `json:"environment,omitempty"`
}
