package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) (*UserRepository, *AuditRepository) {
	t.Helper()
	gdb, err := Open(":memory:")
	require.NoError(t, err)
	return NewUserRepository(gdb), NewAuditRepository(gdb)
}

func TestEnsureBySubject_Idempotent(t *testing.T) {
	users, _ := testDB(t)
	ctx := context.Background()

	first, err := users.EnsureBySubject(ctx, "tt_subject1")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := users.EnsureBySubject(ctx, "tt_subject1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeat logins must resolve to the same user")

	other, err := users.EnsureBySubject(ctx, "tt_subject2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetByID(t *testing.T) {
	users, _ := testDB(t)
	ctx := context.Background()

	created, err := users.EnsureBySubject(ctx, "tt_subject1")
	require.NoError(t, err)

	loaded, err := users.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "tt_subject1", loaded.ExternalSubject)

	missing, err := users.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAudit_InsertAndRetention(t *testing.T) {
	_, audit := testDB(t)
	ctx := context.Background()

	old := &AuditEvent{
		UserID:    "u1",
		EventType: "tool.create_task",
		Status:    "success",
		CreatedAt: time.Now().Add(-100 * 24 * time.Hour),
	}
	recent := &AuditEvent{
		UserID:    "u1",
		EventType: "tool.delete_task",
		Status:    "error",
		Detail:    `{"code":"TASK_NOT_FOUND"}`,
	}
	require.NoError(t, audit.Insert(ctx, old))
	require.NoError(t, audit.Insert(ctx, recent))
	assert.NotEmpty(t, recent.ID, "Insert should assign an id")

	count, err := audit.CountForUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	deleted, err := audit.DeleteOlderThan(ctx, time.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	count, err = audit.CountForUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
