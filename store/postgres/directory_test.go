package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/oncall/db"
)

func TestCreatePolicy_InsertsLevelsInTransaction(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	policy := &db.EscalationPolicy{
		ID: "p1", Name: "primary", IsActive: true, EscalateAfterMinutes: 5, GroupID: "g1",
		CreatedAt: now, UpdatedAt: now,
		Levels: []db.EscalationLevel{
			{ID: "l1", LevelNumber: 1, TargetType: "user", TargetID: "u1", NotificationMethods: []string{"email", "fcm"}, CreatedAt: now},
			{ID: "l2", LevelNumber: 2, TargetType: "group", TargetID: "g1", TimeoutMinutes: 10, NotificationMethods: []string{"sms"}, CreatedAt: now},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO escalation_policies").
		WithArgs("p1", "primary", "", true, 0, 5, "g1", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare("INSERT INTO escalation_levels")
	prep.ExpectExec().
		WithArgs("l1", "p1", 1, "user", "u1", 0, `["email","fcm"]`, "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("l2", "p1", 2, "group", "g1", 10, `["sms"]`, "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.CreatePolicy(ctx, policy))
}

func TestCreatePolicy_LevelFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	policy := &db.EscalationPolicy{
		ID: "p1", Name: "primary", CreatedAt: now, UpdatedAt: now,
		Levels: []db.EscalationLevel{{ID: "l1", LevelNumber: 1, TargetType: "user", TargetID: "u1", NotificationMethods: []string{"email"}, CreatedAt: now}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO escalation_policies").WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare("INSERT INTO escalation_levels")
	prep.ExpectExec().WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "escalation_levels_policy_id_level_number_key"})
	mock.ExpectRollback()

	err := store.CreatePolicy(ctx, policy)
	assert.ErrorIs(t, err, db.ErrDuplicate)
}

func TestAddGroupMember_ConstraintErrors(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	member := &db.GroupMember{ID: "m1", GroupID: "g1", UserID: "u1", Role: "member", IsActive: true, AddedAt: now}

	mock.ExpectExec("INSERT INTO group_members").WillReturnError(&pq.Error{Code: pqUniqueViolation})
	assert.ErrorIs(t, store.AddGroupMember(ctx, member), db.ErrDuplicate)

	mock.ExpectExec("INSERT INTO group_members").WillReturnError(&pq.Error{Code: pqForeignKeyViolation})
	assert.ErrorIs(t, store.AddGroupMember(ctx, member), db.ErrNotFound)

	mock.ExpectExec("INSERT INTO group_members").WillReturnError(errors.New("connection reset"))
	err := store.AddGroupMember(ctx, member)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, db.ErrNotFound)
}

func TestUpdateUserFCMToken(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET fcm_token").WithArgs("u1", "tok", now).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateUserFCMToken(ctx, "u1", "tok", now))

	mock.ExpectExec("UPDATE users SET fcm_token").WithArgs("ghost", "tok", now).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.UpdateUserFCMToken(ctx, "ghost", "tok", now), db.ErrNotFound)
}
