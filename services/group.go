package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

const defaultGroupEscalationTimeout = 300

type GroupService struct {
	Store  DirectoryStore
	Clock  Clock
	Logger *zap.Logger
}

func NewGroupService(store DirectoryStore, clock Clock, logger *zap.Logger) *GroupService {
	return &GroupService{Store: store, Clock: clock, Logger: logger.Named("group")}
}

// GROUP CRUD OPERATIONS

func (s *GroupService) CreateGroup(ctx context.Context, req db.CreateGroupRequest) (*db.Group, error) {
	now := s.Clock.Now()
	group := db.Group{
		ID:                uuid.New().String(),
		Name:              req.Name,
		Description:       req.Description,
		IsActive:          true,
		EscalationTimeout: req.EscalationTimeout,
		EscalationMethod:  req.EscalationMethod,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Set default values if not provided
	if group.EscalationTimeout <= 0 {
		group.EscalationTimeout = defaultGroupEscalationTimeout
	}
	switch group.EscalationMethod {
	case "":
		group.EscalationMethod = db.EscalationMethodParallel
	case db.EscalationMethodParallel, db.EscalationMethodSequential, db.EscalationMethodRoundRobin:
	default:
		return nil, fmt.Errorf("%w: unknown escalation method %q", db.ErrInvalidPolicy, req.EscalationMethod)
	}

	if err := s.Store.CreateGroup(ctx, &group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	s.Logger.Info("group created",
		zap.String("group_id", group.ID),
		zap.String("escalation_method", group.EscalationMethod))
	return &group, nil
}

func (s *GroupService) GetGroupWithMembers(ctx context.Context, groupID string) (*db.GroupWithMembers, error) {
	group, err := s.Store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	members, err := s.Store.ListActiveGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []db.GroupMember{}
	}
	return &db.GroupWithMembers{Group: group, Members: members}, nil
}

// AddGroupMember adds a user to a group. The "admin" role some clients send
// is stored as leader.
func (s *GroupService) AddGroupMember(ctx context.Context, groupID string, req db.AddGroupMemberRequest) (*db.GroupMember, error) {
	member := db.GroupMember{
		ID:              uuid.New().String(),
		GroupID:         groupID,
		UserID:          req.UserID,
		Role:            req.Role,
		EscalationOrder: req.EscalationOrder,
		IsActive:        true,
		AddedAt:         s.Clock.Now(),
	}
	switch member.Role {
	case "":
		member.Role = db.GroupMemberRoleMember
	case "admin":
		member.Role = db.GroupMemberRoleLeader
	case db.GroupMemberRoleMember, db.GroupMemberRoleLeader, db.GroupMemberRoleBackup:
	default:
		return nil, fmt.Errorf("%w: unknown member role %q", db.ErrInvalidPolicy, req.Role)
	}

	if _, err := s.Store.GetGroup(ctx, groupID); err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	if _, err := s.Store.GetUser(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", req.UserID, err)
	}
	if err := s.Store.AddGroupMember(ctx, &member); err != nil {
		return nil, fmt.Errorf("failed to add group member: %w", err)
	}
	return &member, nil
}

// ESCALATION POLICIES

// CreateEscalationPolicy stores a policy owned by groupID. Levels are
// numbered by position when the caller leaves LevelNumber at zero, and the
// result must pass ValidateEscalationPolicy.
func (s *GroupService) CreateEscalationPolicy(ctx context.Context, groupID string, policy db.EscalationPolicy) (*db.EscalationPolicy, error) {
	if _, err := s.Store.GetGroup(ctx, groupID); err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	now := s.Clock.Now()
	policy.ID = uuid.New().String()
	policy.GroupID = groupID
	policy.IsActive = true
	policy.CreatedAt = now
	policy.UpdatedAt = now
	for i := range policy.Levels {
		l := &policy.Levels[i]
		l.ID = uuid.New().String()
		l.PolicyID = policy.ID
		l.CreatedAt = now
		if l.LevelNumber == 0 {
			l.LevelNumber = i + 1
		}
	}

	policy = NormalizeEscalationPolicy(policy)
	if err := ValidateEscalationPolicy(policy); err != nil {
		return nil, err
	}
	for _, l := range policy.Levels {
		if l.TargetType != db.EscalationTargetGroup {
			continue
		}
		if _, err := s.Store.GetGroup(ctx, l.TargetID); errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: level %d targets unknown group %s", db.ErrInvalidPolicy, l.LevelNumber, l.TargetID)
		}
	}

	if err := s.Store.CreatePolicy(ctx, &policy); err != nil {
		return nil, fmt.Errorf("failed to create escalation policy: %w", err)
	}
	s.Logger.Info("escalation policy created",
		zap.String("policy_id", policy.ID),
		zap.String("group_id", groupID),
		zap.Int("levels", len(policy.Levels)))
	return &policy, nil
}

func (s *GroupService) GetEscalationPolicy(ctx context.Context, policyID string) (*db.EscalationPolicy, error) {
	policy, err := s.Store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation policy: %w", err)
	}
	return &policy, nil
}
