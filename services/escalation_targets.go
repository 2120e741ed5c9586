package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phonginreallife/oncall/db"
)

const (
	defaultSequentialTimeoutSeconds = 300
	maxParallelNotifications        = 16
)

// sequentialPlan describes how a sequential group walks its members inside
// one level. A zero plan means the level notifies all at once.
type sequentialPlan struct {
	members  int
	interval time.Duration
}

type targetOutcome struct {
	users    []db.User
	delivery db.DeliveryResult
	plan     sequentialPlan
	err      error
}

// executeLevel records one attempt of the alert's current level and step,
// notifies the resolved users and returns the sequential plan of the target.
func (s *EscalationService) executeLevel(ctx context.Context, alert db.Alert, policy db.EscalationPolicy, level db.EscalationLevel, now time.Time) sequentialPlan {
	row := &db.AlertEscalation{
		ID:                  uuid.New().String(),
		AlertID:             alert.ID,
		EscalationPolicyID:  policy.ID,
		EscalationLevel:     level.LevelNumber,
		EscalationCycle:     alert.EscalationCycle,
		EscalationStep:      alert.EscalationStep,
		TargetType:          level.TargetType,
		TargetID:            level.TargetID,
		Status:              db.AlertEscalationStatusExecuting,
		NotificationMethods: level.NotificationMethods,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.Store.CreateAlertEscalation(ctx, row); err != nil {
		s.Logger.Error("failed to save escalation attempt", zap.String("alert_id", alert.ID), zap.Error(err))
	}

	out := s.notifyTarget(ctx, alert, policy, level, now)
	for _, u := range out.users {
		row.NotifiedUserIDs = append(row.NotifiedUserIDs, u.ID)
	}
	row.Delivery = out.delivery
	row.UpdatedAt = s.Clock.Now()

	switch {
	case out.err != nil:
		row.Status = db.AlertEscalationStatusFailed
		row.ErrorMessage = out.err.Error()
	case !out.delivery.Succeeded():
		row.Status = db.AlertEscalationStatusFailed
		row.ErrorMessage = "all notification deliveries failed"
	default:
		row.Status = db.AlertEscalationStatusSent
	}

	if err := s.Store.UpdateAlertEscalation(ctx, row); err != nil {
		s.Logger.Error("failed to update escalation attempt", zap.String("escalation_id", row.ID), zap.Error(err))
	}
	s.Metrics.EscalationAttempts.WithLabelValues(level.TargetType, row.Status).Inc()

	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.Int("level", level.LevelNumber),
		zap.Int("cycle", alert.EscalationCycle),
		zap.Int("step", alert.EscalationStep),
		zap.String("target_type", level.TargetType),
		zap.Strings("notified_user_ids", row.NotifiedUserIDs),
	}
	if row.Status == db.AlertEscalationStatusFailed {
		s.Logger.Warn("escalation level failed", append(fields, zap.String("error", row.ErrorMessage))...)
	} else {
		s.Logger.Info("escalation level sent", fields...)
	}
	return out.plan
}

func (s *EscalationService) notifyTarget(ctx context.Context, alert db.Alert, policy db.EscalationPolicy, level db.EscalationLevel, now time.Time) targetOutcome {
	var out targetOutcome

	switch level.TargetType {
	case db.EscalationTargetUser:
		user, err := s.activeUser(ctx, level.TargetID)
		if err != nil {
			out.err = err
			return out
		}
		out.users = []db.User{user}

	case db.EscalationTargetGroup:
		out.users, out.plan, out.err = s.resolveGroup(ctx, level.TargetID, alert.EscalationStep)
		if out.err != nil {
			return out
		}

	case db.EscalationTargetScheduler, db.EscalationTargetCurrentSchedule:
		ownerID := level.TargetID
		if ownerID == "" {
			ownerID = policy.GroupID
		}
		effective, err := s.Resolver.EffectiveOnCall(ctx, ownerID, now)
		if err != nil {
			out.err = fmt.Errorf("failed to resolve on-call for %s: %w", ownerID, err)
			return out
		}
		out.users = []db.User{effective.User}

	case db.EscalationTargetExternal:
		err := s.External.Notify(ctx, level.TargetID, alert, level)
		result := db.ChannelResult{Method: db.NotificationMethodWebhook, Success: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		out.delivery.Channels = []db.ChannelResult{result}
		s.recordDelivery(out.delivery)
		return out

	default:
		out.err = fmt.Errorf("unknown target type: %s", level.TargetType)
		return out
	}

	out.delivery = s.dispatch(ctx, out.users, alert, level)
	return out
}

// resolveGroup returns the members a group target notifies at the given step.
func (s *EscalationService) resolveGroup(ctx context.Context, groupID string, step int) ([]db.User, sequentialPlan, error) {
	group, err := s.Store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, sequentialPlan{}, fmt.Errorf("failed to get group %s: %w", groupID, err)
	}
	members, err := s.Store.ListActiveGroupMembers(ctx, groupID)
	if err != nil {
		return nil, sequentialPlan{}, fmt.Errorf("failed to list members of group %s: %w", groupID, err)
	}
	if len(members) == 0 {
		return nil, sequentialPlan{}, fmt.Errorf("group %s has no active members", groupID)
	}

	switch group.EscalationMethod {
	case db.EscalationMethodSequential:
		plan := sequentialPlan{members: len(members), interval: sequentialInterval(group)}
		if step >= len(members) {
			return nil, plan, fmt.Errorf("group %s has no member at step %d", groupID, step)
		}
		user, err := s.activeUser(ctx, members[step].UserID)
		if err != nil {
			return nil, plan, err
		}
		return []db.User{user}, plan, nil

	case db.EscalationMethodRoundRobin:
		idx, err := s.Store.NextRoundRobinIndex(ctx, groupID)
		if err != nil {
			return nil, sequentialPlan{}, fmt.Errorf("failed to advance round robin of group %s: %w", groupID, err)
		}
		member := members[int(idx%int64(len(members)))]
		user, err := s.activeUser(ctx, member.UserID)
		if err != nil {
			return nil, sequentialPlan{}, err
		}
		return []db.User{user}, sequentialPlan{}, nil

	default:
		users := make([]db.User, 0, len(members))
		for _, m := range members {
			user, err := s.activeUser(ctx, m.UserID)
			if err != nil {
				s.Logger.Warn("skipping group member", zap.String("group_id", groupID), zap.Error(err))
				continue
			}
			users = append(users, user)
		}
		if len(users) == 0 {
			return nil, sequentialPlan{}, fmt.Errorf("group %s has no reachable members", groupID)
		}
		return users, sequentialPlan{}, nil
	}
}

// planFor recomputes the sequential plan of a level without notifying anyone.
func (s *EscalationService) planFor(ctx context.Context, level db.EscalationLevel) sequentialPlan {
	if level.TargetType != db.EscalationTargetGroup {
		return sequentialPlan{}
	}
	group, err := s.Store.GetGroup(ctx, level.TargetID)
	if err != nil || group.EscalationMethod != db.EscalationMethodSequential {
		return sequentialPlan{}
	}
	members, err := s.Store.ListActiveGroupMembers(ctx, group.ID)
	if err != nil {
		return sequentialPlan{}
	}
	return sequentialPlan{members: len(members), interval: sequentialInterval(group)}
}

func sequentialInterval(group db.Group) time.Duration {
	seconds := group.EscalationTimeout
	if seconds <= 0 {
		seconds = defaultSequentialTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (s *EscalationService) activeUser(ctx context.Context, userID string) (db.User, error) {
	user, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return db.User{}, fmt.Errorf("user %s not found: %w", userID, err)
		}
		return db.User{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	if !user.IsActive {
		return db.User{}, fmt.Errorf("user %s is inactive", userID)
	}
	return user, nil
}

// dispatch sends the alert to every user concurrently and merges the results.
func (s *EscalationService) dispatch(ctx context.Context, users []db.User, alert db.Alert, level db.EscalationLevel) db.DeliveryResult {
	results := make([]db.DeliveryResult, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelNotifications)
	for i, user := range users {
		i, user := i, user
		g.Go(func() error {
			res := s.Dispatcher.Send(gctx, user, alert, level, level.NotificationMethods)
			for j := range res.Channels {
				if res.Channels[j].UserID == "" {
					res.Channels[j].UserID = user.ID
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var merged db.DeliveryResult
	for _, r := range results {
		merged.Merge(r)
	}
	s.recordDelivery(merged)
	return merged
}

func (s *EscalationService) recordDelivery(result db.DeliveryResult) {
	for _, c := range result.Channels {
		outcome := "success"
		if !c.Success {
			outcome = "failure"
		}
		s.Metrics.Notifications.WithLabelValues(c.Method, outcome).Inc()
	}
}
