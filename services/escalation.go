package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

const (
	defaultEscalateAfterMinutes = 5
	maxTransitionAttempts       = 3
)

// EscalationService drives the per-alert escalation state machine. Every
// state change goes through EscalationStore.TransitionAlert so concurrent
// timers, acknowledgements and stops never overwrite each other.
type EscalationService struct {
	Store      EscalationStore
	Resolver   OnCallResolver
	Dispatcher NotificationDispatcher
	External   ExternalNotifier
	Timers     TimerQueue
	Clock      Clock
	Logger     *zap.Logger
	Metrics    *Metrics
}

func NewEscalationService(store EscalationStore, resolver OnCallResolver, dispatcher NotificationDispatcher, external ExternalNotifier, timers TimerQueue, clock Clock, logger *zap.Logger, metrics *Metrics) *EscalationService {
	return &EscalationService{
		Store:      store,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		External:   external,
		Timers:     timers,
		Clock:      clock,
		Logger:     logger.Named("escalation"),
		Metrics:    metrics,
	}
}

// NormalizeEscalationPolicy fills defaults without touching the caller's copy.
func NormalizeEscalationPolicy(policy db.EscalationPolicy) db.EscalationPolicy {
	if policy.EscalateAfterMinutes <= 0 {
		policy.EscalateAfterMinutes = defaultEscalateAfterMinutes
	}
	if policy.RepeatMaxTimes < 0 {
		policy.RepeatMaxTimes = 0
	}
	levels := make([]db.EscalationLevel, len(policy.Levels))
	for i, l := range policy.Levels {
		if len(l.NotificationMethods) == 0 {
			l.NotificationMethods = []string{db.NotificationMethodEmail}
		}
		levels[i] = l
	}
	policy.Levels = levels
	return policy
}

// ValidateEscalationPolicy checks the structural invariants of a policy:
// levels numbered 1..n in order, a positive effective timeout everywhere and
// a resolvable target on every level.
func ValidateEscalationPolicy(policy db.EscalationPolicy) error {
	if len(policy.Levels) == 0 {
		return fmt.Errorf("%w: policy %s has no levels", db.ErrInvalidPolicy, policy.ID)
	}
	for i, l := range policy.Levels {
		if l.LevelNumber != i+1 {
			return fmt.Errorf("%w: level numbers must be unique and ascending from 1, got %d at position %d",
				db.ErrInvalidPolicy, l.LevelNumber, i+1)
		}
		if l.GetEffectiveTimeout(policy.EscalateAfterMinutes) <= 0 {
			return fmt.Errorf("%w: level %d has no timeout", db.ErrInvalidPolicy, l.LevelNumber)
		}
		switch l.TargetType {
		case db.EscalationTargetUser, db.EscalationTargetGroup, db.EscalationTargetExternal:
			if l.TargetID == "" {
				return fmt.Errorf("%w: level %d target %s requires target_id", db.ErrInvalidPolicy, l.LevelNumber, l.TargetType)
			}
		case db.EscalationTargetScheduler, db.EscalationTargetCurrentSchedule:
			if l.TargetID == "" && policy.GroupID == "" {
				return fmt.Errorf("%w: level %d schedule target needs a scheduler or policy group", db.ErrInvalidPolicy, l.LevelNumber)
			}
		default:
			return fmt.Errorf("%w: level %d has unknown target type %q", db.ErrInvalidPolicy, l.LevelNumber, l.TargetType)
		}
	}
	return nil
}

func (s *EscalationService) loadPolicy(ctx context.Context, policyID string) (db.EscalationPolicy, error) {
	policy, err := s.Store.GetPolicy(ctx, policyID)
	if err != nil {
		return db.EscalationPolicy{}, fmt.Errorf("failed to get escalation policy %s: %w", policyID, err)
	}
	policy = NormalizeEscalationPolicy(policy)
	if err := ValidateEscalationPolicy(policy); err != nil {
		return db.EscalationPolicy{}, err
	}
	return policy, nil
}

// ProcessAlert starts escalation of a stored alert at level 1. The policy is
// taken from alert.EscalationPolicyID, falling back to the stored alert's.
// An alert whose escalation already started is left alone.
func (s *EscalationService) ProcessAlert(ctx context.Context, alert db.Alert) error {
	stored, err := s.Store.GetAlert(ctx, alert.ID)
	if err != nil {
		return fmt.Errorf("failed to get alert %s: %w", alert.ID, err)
	}

	policyID := alert.EscalationPolicyID
	if policyID == "" {
		policyID = stored.EscalationPolicyID
	}
	if policyID == "" {
		return db.ErrNoEscalationPolicy
	}
	policy, err := s.loadPolicy(ctx, policyID)
	if err != nil {
		return err
	}

	cur := stored.EscalationState()
	if cur.Status != db.EscalationStatusNone {
		s.Logger.Debug("escalation already started",
			zap.String("alert_id", stored.ID),
			zap.String("status", cur.Status))
		return nil
	}

	now := s.Clock.Now()
	next := db.EscalationState{
		PolicyID:        policy.ID,
		Status:          db.EscalationStatusPending,
		Level:           1,
		LastEscalatedAt: &now,
	}
	ok, err := s.Store.TransitionAlert(ctx, stored.ID, cur, next)
	if err != nil {
		return fmt.Errorf("failed to start escalation: %w", err)
	}
	if !ok {
		return nil
	}
	stored.ApplyEscalationState(next)
	s.Metrics.EscalationTransition.WithLabelValues(next.Status).Inc()
	s.Logger.Info("escalation started",
		zap.String("alert_id", stored.ID),
		zap.String("policy_id", policy.ID),
		zap.Int("levels", len(policy.Levels)))

	return s.enterLevel(ctx, stored, policy, now)
}

// ProcessAlertByID starts escalation of a stored alert with the given
// policy, or with the alert's own policy when policyID is empty.
func (s *EscalationService) ProcessAlertByID(ctx context.Context, alertID, policyID string) error {
	return s.ProcessAlert(ctx, db.Alert{ID: alertID, EscalationPolicyID: policyID})
}

// Acknowledge stops all further escalation of an alert on behalf of userID.
// Repeated acknowledgements and acknowledgements of stopped alerts are no-ops.
func (s *EscalationService) Acknowledge(ctx context.Context, alertID, userID string) error {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		alert, err := s.Store.GetAlert(ctx, alertID)
		if err != nil {
			return fmt.Errorf("failed to get alert %s: %w", alertID, err)
		}
		cur := alert.EscalationState()
		if alert.Status == db.AlertStatusResolved {
			return nil
		}
		switch cur.Status {
		case db.EscalationStatusAcknowledged:
			return nil
		case db.EscalationStatusStopped:
			s.Logger.Info("ignoring acknowledgement of stopped escalation",
				zap.String("alert_id", alertID),
				zap.String("user_id", userID))
			return nil
		}

		now := s.Clock.Now()
		next := cur
		next.Status = db.EscalationStatusAcknowledged
		next.AlertStatus = db.AlertStatusAcknowledged
		next.AckedBy = userID
		next.AckedAt = &now
		ok, err := s.Store.TransitionAlert(ctx, alertID, cur, next)
		if err != nil {
			return fmt.Errorf("failed to acknowledge alert: %w", err)
		}
		if !ok {
			continue
		}

		s.cancelTimer(ctx, alertID)
		if err := s.Store.AcknowledgeAlertEscalations(ctx, alertID, userID, now); err != nil {
			s.Logger.Error("failed to acknowledge escalation attempts",
				zap.String("alert_id", alertID),
				zap.Error(err))
		}
		s.Metrics.EscalationTransition.WithLabelValues(next.Status).Inc()
		s.Logger.Info("alert acknowledged",
			zap.String("alert_id", alertID),
			zap.String("user_id", userID),
			zap.Int("level", cur.Level),
			zap.Int("cycle", cur.Cycle))
		return nil
	}
	return fmt.Errorf("failed to acknowledge alert %s: state changed %d times", alertID, maxTransitionAttempts)
}

// Stop ends escalation of an alert without an acknowledgement, for example
// when it is resolved. Stopping an already terminal escalation is a no-op.
func (s *EscalationService) Stop(ctx context.Context, alertID string) error {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		alert, err := s.Store.GetAlert(ctx, alertID)
		if err != nil {
			return fmt.Errorf("failed to get alert %s: %w", alertID, err)
		}
		cur := alert.EscalationState()
		switch cur.Status {
		case db.EscalationStatusStopped, db.EscalationStatusAcknowledged, db.EscalationStatusCompleted:
			s.cancelTimer(ctx, alertID)
			return nil
		}

		next := cur
		next.Status = db.EscalationStatusStopped
		ok, err := s.Store.TransitionAlert(ctx, alertID, cur, next)
		if err != nil {
			return fmt.Errorf("failed to stop escalation: %w", err)
		}
		if !ok {
			continue
		}
		s.cancelTimer(ctx, alertID)
		s.Metrics.EscalationTransition.WithLabelValues(next.Status).Inc()
		s.Logger.Info("escalation stopped", zap.String("alert_id", alertID), zap.Int("level", cur.Level))
		return nil
	}
	return fmt.Errorf("failed to stop escalation of alert %s: state changed %d times", alertID, maxTransitionAttempts)
}

// Resolve closes an alert and ends any escalation still in flight. The
// alert status is part of the compare-and-swap, so a timer firing
// concurrently either loses its transition or is stopped on retry.
// Resolving a resolved alert is a no-op.
func (s *EscalationService) Resolve(ctx context.Context, alertID, userID string) error {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		alert, err := s.Store.GetAlert(ctx, alertID)
		if err != nil {
			return fmt.Errorf("failed to get alert %s: %w", alertID, err)
		}
		if alert.Status == db.AlertStatusResolved {
			s.cancelTimer(ctx, alertID)
			return nil
		}

		cur := alert.EscalationState()
		next := cur
		next.AlertStatus = db.AlertStatusResolved
		switch cur.Status {
		case db.EscalationStatusAcknowledged, db.EscalationStatusCompleted, db.EscalationStatusStopped:
		default:
			next.Status = db.EscalationStatusStopped
		}
		ok, err := s.Store.TransitionAlert(ctx, alertID, cur, next)
		if err != nil {
			return fmt.Errorf("failed to resolve alert: %w", err)
		}
		if !ok {
			continue
		}

		s.cancelTimer(ctx, alertID)
		if next.Status != cur.Status {
			s.Metrics.EscalationTransition.WithLabelValues(next.Status).Inc()
		}
		s.Logger.Info("alert resolved",
			zap.String("alert_id", alertID),
			zap.String("user_id", userID),
			zap.String("escalation_status", next.Status),
			zap.Int("level", cur.Level))
		return nil
	}
	return fmt.Errorf("failed to resolve alert %s: state changed %d times", alertID, maxTransitionAttempts)
}

// GetAlert returns a stored alert with its escalation state.
func (s *EscalationService) GetAlert(ctx context.Context, alertID string) (db.Alert, error) {
	alert, err := s.Store.GetAlert(ctx, alertID)
	if err != nil {
		return db.Alert{}, fmt.Errorf("failed to get alert %s: %w", alertID, err)
	}
	return alert, nil
}

// Retrigger restarts escalation from level 1 for an alert whose previous
// escalation is acknowledged, completed or stopped. Resolved alerts are
// refused.
func (s *EscalationService) Retrigger(ctx context.Context, alertID string) error {
	alert, err := s.Store.GetAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("failed to get alert %s: %w", alertID, err)
	}
	if alert.Status == db.AlertStatusResolved {
		return db.ErrAlertResolved
	}
	cur := alert.EscalationState()
	if db.IsActiveEscalation(cur.Status) {
		return db.ErrEscalationActive
	}
	if cur.Status != db.EscalationStatusNone {
		reset := db.EscalationState{
			PolicyID:    cur.PolicyID,
			AlertStatus: db.AlertStatusTriggered,
			Status:      db.EscalationStatusNone,
		}
		ok, err := s.Store.TransitionAlert(ctx, alertID, cur, reset)
		if err != nil {
			return fmt.Errorf("failed to reset escalation: %w", err)
		}
		if !ok {
			return db.ErrEscalationActive
		}
		s.Logger.Info("escalation reset for retrigger",
			zap.String("alert_id", alertID),
			zap.String("previous_status", cur.Status))
	}
	return s.ProcessAlert(ctx, db.Alert{ID: alertID})
}

// HandleTimer applies one fired timer. Timers that no longer match the
// alert's state are dropped.
func (s *EscalationService) HandleTimer(ctx context.Context, timer db.EscalationTimer) error {
	alert, err := s.Store.GetAlert(ctx, timer.AlertID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.timerOutcome(timer, "orphaned")
			return nil
		}
		return fmt.Errorf("failed to get alert %s: %w", timer.AlertID, err)
	}

	cur := alert.EscalationState()
	if !db.IsActiveEscalation(cur.Status) || cur.Level != timer.Level || cur.Cycle != timer.Cycle {
		s.timerOutcome(timer, "stale")
		return nil
	}
	if timer.Kind == db.TimerKindSequentialStep && cur.Step != timer.Step-1 {
		s.timerOutcome(timer, "stale")
		return nil
	}

	policy, err := s.loadPolicy(ctx, cur.PolicyID)
	if err != nil {
		return err
	}

	if timer.Kind == db.TimerKindSequentialStep {
		return s.advanceStep(ctx, alert, policy, timer)
	}
	return s.expireLevel(ctx, alert, policy, timer)
}

// expireLevel moves to the next level, replays the policy or completes.
func (s *EscalationService) expireLevel(ctx context.Context, alert db.Alert, policy db.EscalationPolicy, timer db.EscalationTimer) error {
	now := s.Clock.Now()
	cur := alert.EscalationState()
	next := cur
	next.Step = 0
	next.LastEscalatedAt = &now

	lastLevel := policy.Levels[len(policy.Levels)-1].LevelNumber
	switch {
	case cur.Level < lastLevel:
		next.Status = db.EscalationStatusEscalating
		next.Level = cur.Level + 1
	case cur.Cycle < policy.RepeatMaxTimes:
		next.Status = db.EscalationStatusEscalating
		next.Level = 1
		next.Cycle = cur.Cycle + 1
	default:
		next.Status = db.EscalationStatusCompleted
		next.Level = lastLevel
		next.LastEscalatedAt = cur.LastEscalatedAt
	}

	ok, err := s.Store.TransitionAlert(ctx, alert.ID, cur, next)
	if err != nil {
		return fmt.Errorf("failed to advance escalation: %w", err)
	}
	if !ok {
		s.timerOutcome(timer, "lost_race")
		return nil
	}
	s.timerOutcome(timer, "applied")
	s.Metrics.EscalationTransition.WithLabelValues(next.Status).Inc()

	if err := s.Store.MarkAlertEscalations(ctx, alert.ID, cur.Level, cur.Cycle,
		[]string{db.AlertEscalationStatusExecuting, db.AlertEscalationStatusSent},
		db.AlertEscalationStatusTimeout, now); err != nil {
		s.Logger.Error("failed to time out escalation attempts",
			zap.String("alert_id", alert.ID),
			zap.Int("level", cur.Level),
			zap.Error(err))
	}

	alert.ApplyEscalationState(next)
	if next.Status == db.EscalationStatusCompleted {
		s.Logger.Info("escalation completed without acknowledgement",
			zap.String("alert_id", alert.ID),
			zap.Int("cycles", cur.Cycle+1))
		return nil
	}

	s.Logger.Info("escalating alert",
		zap.String("alert_id", alert.ID),
		zap.Int("from_level", cur.Level),
		zap.Int("to_level", next.Level),
		zap.Int("cycle", next.Cycle))
	return s.enterLevel(ctx, alert, policy, now)
}

// advanceStep notifies the next member of a sequential group within the
// current level.
func (s *EscalationService) advanceStep(ctx context.Context, alert db.Alert, policy db.EscalationPolicy, timer db.EscalationTimer) error {
	cur := alert.EscalationState()
	next := cur
	next.Step = timer.Step

	ok, err := s.Store.TransitionAlert(ctx, alert.ID, cur, next)
	if err != nil {
		return fmt.Errorf("failed to advance sequential step: %w", err)
	}
	if !ok {
		s.timerOutcome(timer, "lost_race")
		return nil
	}
	s.timerOutcome(timer, "applied")
	alert.ApplyEscalationState(next)

	level, found := policy.Level(cur.Level)
	if !found {
		return fmt.Errorf("%w: level %d missing from policy %s", db.ErrInvalidPolicy, cur.Level, policy.ID)
	}
	if !s.stillAt(ctx, alert.ID, next) {
		return nil
	}
	plan := s.executeLevel(ctx, alert, policy, level, s.Clock.Now())
	return s.armTimer(ctx, alert, policy, level, plan)
}

func (s *EscalationService) enterLevel(ctx context.Context, alert db.Alert, policy db.EscalationPolicy, now time.Time) error {
	level, found := policy.Level(alert.CurrentEscalationLevel)
	if !found {
		return fmt.Errorf("%w: level %d missing from policy %s", db.ErrInvalidPolicy, alert.CurrentEscalationLevel, policy.ID)
	}
	if !s.stillAt(ctx, alert.ID, alert.EscalationState()) {
		return nil
	}
	plan := s.executeLevel(ctx, alert, policy, level, now)
	return s.armTimer(ctx, alert, policy, level, plan)
}

// stillAt re-reads the alert and reports whether its escalation is still
// active at st. An acknowledgement or stop that lands between a transition
// and its notification leaves nothing to notify.
func (s *EscalationService) stillAt(ctx context.Context, alertID string, st db.EscalationState) bool {
	alert, err := s.Store.GetAlert(ctx, alertID)
	if err != nil {
		s.Logger.Warn("failed to recheck alert before notifying", zap.String("alert_id", alertID), zap.Error(err))
		return true
	}
	cur := alert.EscalationState()
	if db.IsActiveEscalation(cur.Status) && cur.Level == st.Level && cur.Cycle == st.Cycle && cur.Step == st.Step {
		return true
	}
	s.Logger.Info("escalation changed before notification, level not sent",
		zap.String("alert_id", alertID),
		zap.String("status", cur.Status),
		zap.Int("level", st.Level))
	return false
}

func (s *EscalationService) armTimer(ctx context.Context, alert db.Alert, policy db.EscalationPolicy, level db.EscalationLevel, plan sequentialPlan) error {
	timer := nextTimer(alert.ID, alert.EscalationState(), policy, level, plan)
	if err := s.Timers.Schedule(ctx, timer); err != nil {
		return fmt.Errorf("failed to schedule escalation timer: %w", err)
	}
	s.Logger.Debug("escalation timer armed",
		zap.String("alert_id", alert.ID),
		zap.String("kind", timer.Kind),
		zap.Int("level", timer.Level),
		zap.Time("due_at", timer.DueAt))
	return nil
}

func (s *EscalationService) cancelTimer(ctx context.Context, alertID string) {
	if err := s.Timers.Cancel(ctx, alertID); err != nil {
		// A leftover timer is dropped as stale when it fires.
		s.Logger.Warn("failed to cancel escalation timer", zap.String("alert_id", alertID), zap.Error(err))
	}
}

func (s *EscalationService) timerOutcome(timer db.EscalationTimer, outcome string) {
	s.Metrics.TimersFired.WithLabelValues(timer.Kind, outcome).Inc()
	if outcome != "applied" {
		s.Logger.Debug("escalation timer ignored",
			zap.String("alert_id", timer.AlertID),
			zap.String("kind", timer.Kind),
			zap.Int("level", timer.Level),
			zap.Int("cycle", timer.Cycle),
			zap.String("outcome", outcome))
	}
}

// nextTimer derives the pending timer from the alert's state. The level
// deadline is LastEscalatedAt plus the level timeout; a sequential group
// schedules its next member first when that comes earlier.
func nextTimer(alertID string, st db.EscalationState, policy db.EscalationPolicy, level db.EscalationLevel, plan sequentialPlan) db.EscalationTimer {
	base := time.Time{}
	if st.LastEscalatedAt != nil {
		base = *st.LastEscalatedAt
	}
	levelDue := base.Add(time.Duration(level.GetEffectiveTimeout(policy.EscalateAfterMinutes)) * time.Minute)
	timer := db.EscalationTimer{
		AlertID: alertID,
		Level:   st.Level,
		Cycle:   st.Cycle,
		Step:    st.Step,
		Kind:    db.TimerKindLevelTimeout,
		DueAt:   levelDue,
	}
	if plan.members > 0 && plan.interval > 0 && st.Step+1 < plan.members {
		stepDue := base.Add(time.Duration(st.Step+1) * plan.interval)
		if stepDue.Before(levelDue) {
			timer.Kind = db.TimerKindSequentialStep
			timer.Step = st.Step + 1
			timer.DueAt = stepDue
		}
	}
	return timer
}

// Rehydrate re-arms the timer of every escalating alert that has none
// queued, typically on process start. It returns the number of timers added.
func (s *EscalationService) Rehydrate(ctx context.Context) (int, error) {
	alerts, err := s.Store.ListEscalatingAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list escalating alerts: %w", err)
	}

	scheduled := 0
	for _, alert := range alerts {
		st := alert.EscalationState()
		policy, err := s.loadPolicy(ctx, st.PolicyID)
		if err != nil {
			s.Logger.Error("cannot rehydrate escalation", zap.String("alert_id", alert.ID), zap.Error(err))
			continue
		}
		level, found := policy.Level(st.Level)
		if !found {
			s.Logger.Error("cannot rehydrate escalation: level missing",
				zap.String("alert_id", alert.ID),
				zap.Int("level", st.Level))
			continue
		}
		if st.LastEscalatedAt == nil {
			createdAt := alert.CreatedAt
			st.LastEscalatedAt = &createdAt
		}

		// A timer already queued was armed after the list was read and
		// reflects newer state than this snapshot.
		plan := s.planFor(ctx, level)
		timer := nextTimer(alert.ID, st, policy, level, plan)
		added, err := s.Timers.ScheduleIfAbsent(ctx, timer)
		if err != nil {
			return scheduled, fmt.Errorf("failed to schedule timer for alert %s: %w", alert.ID, err)
		}
		if added {
			scheduled++
		}
	}

	s.Logger.Info("escalation timers rehydrated", zap.Int("count", scheduled), zap.Int("alerts", len(alerts)))
	return scheduled, nil
}

// GetAlertEscalations returns the escalation attempts of an alert, oldest first.
func (s *EscalationService) GetAlertEscalations(ctx context.Context, alertID string) ([]db.AlertEscalation, error) {
	escalations, err := s.Store.ListAlertEscalations(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert escalations: %w", err)
	}
	return escalations, nil
}
