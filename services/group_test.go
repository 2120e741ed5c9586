package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/store/memory"
)

func TestGroupService_GroupsAndMembers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewGroupService(store, newFakeClock(t0), zap.NewNop())
	store.PutUser(activeUser("u1"))

	group, err := svc.CreateGroup(ctx, db.CreateGroupRequest{Name: "sre"})
	require.NoError(t, err)
	assert.Equal(t, db.EscalationMethodParallel, group.EscalationMethod)
	assert.Equal(t, 300, group.EscalationTimeout)

	_, err = svc.CreateGroup(ctx, db.CreateGroupRequest{Name: "bad", EscalationMethod: "random"})
	assert.ErrorIs(t, err, db.ErrInvalidPolicy)

	member, err := svc.AddGroupMember(ctx, group.ID, db.AddGroupMemberRequest{UserID: "u1", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, db.GroupMemberRoleLeader, member.Role)

	_, err = svc.AddGroupMember(ctx, group.ID, db.AddGroupMemberRequest{UserID: "u1"})
	assert.ErrorIs(t, err, db.ErrDuplicate)
	_, err = svc.AddGroupMember(ctx, group.ID, db.AddGroupMemberRequest{UserID: "ghost"})
	assert.ErrorIs(t, err, db.ErrNotFound)
	_, err = svc.AddGroupMember(ctx, "missing", db.AddGroupMemberRequest{UserID: "u1"})
	assert.ErrorIs(t, err, db.ErrNotFound)

	withMembers, err := svc.GetGroupWithMembers(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, withMembers.Members, 1)
	assert.Equal(t, "u1", withMembers.Members[0].UserID)
}

func TestGroupService_CreateEscalationPolicy(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewGroupService(store, newFakeClock(t0), zap.NewNop())
	store.PutGroup(db.Group{ID: "g1", IsActive: true})

	policy, err := svc.CreateEscalationPolicy(ctx, "g1", db.EscalationPolicy{
		Name:           "primary",
		RepeatMaxTimes: 1,
		Levels: []db.EscalationLevel{
			{TargetType: db.EscalationTargetCurrentSchedule},
			{TargetType: db.EscalationTargetGroup, TargetID: "g1", TimeoutMinutes: 10},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "g1", policy.GroupID)
	assert.Equal(t, defaultEscalateAfterMinutes, policy.EscalateAfterMinutes)
	require.Len(t, policy.Levels, 2)
	assert.Equal(t, 1, policy.Levels[0].LevelNumber)
	assert.Equal(t, 2, policy.Levels[1].LevelNumber)
	assert.Equal(t, []string{db.NotificationMethodEmail}, policy.Levels[0].NotificationMethods)

	stored, err := svc.GetEscalationPolicy(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.Levels, stored.Levels)

	_, err = svc.CreateEscalationPolicy(ctx, "g1", db.EscalationPolicy{Name: "empty"})
	assert.ErrorIs(t, err, db.ErrInvalidPolicy)

	_, err = svc.CreateEscalationPolicy(ctx, "g1", db.EscalationPolicy{
		Name:   "gap",
		Levels: []db.EscalationLevel{{LevelNumber: 1, TargetType: db.EscalationTargetUser, TargetID: "u1"}, {LevelNumber: 3, TargetType: db.EscalationTargetUser, TargetID: "u2"}},
	})
	assert.ErrorIs(t, err, db.ErrInvalidPolicy)

	_, err = svc.CreateEscalationPolicy(ctx, "g1", db.EscalationPolicy{
		Name:   "dangling",
		Levels: []db.EscalationLevel{{TargetType: db.EscalationTargetGroup, TargetID: "nope"}},
	})
	assert.ErrorIs(t, err, db.ErrInvalidPolicy)

	_, err = svc.CreateEscalationPolicy(ctx, "missing", db.EscalationPolicy{Name: "x"})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestUserService_FCMToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewUserService(store, newFakeClock(t0), zap.NewNop())

	user, err := svc.CreateUser(ctx, db.CreateUserRequest{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.True(t, user.IsActive)

	_, err = svc.CreateUser(ctx, db.CreateUserRequest{ID: user.ID, Name: "Ana", Email: "ana@example.com"})
	assert.ErrorIs(t, err, db.ErrDuplicate)

	require.NoError(t, svc.UpdateFCMToken(ctx, user.ID, "device-token"))
	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "device-token", got.FCMToken)

	assert.ErrorIs(t, svc.UpdateFCMToken(ctx, "ghost", "t"), db.ErrNotFound)
}
