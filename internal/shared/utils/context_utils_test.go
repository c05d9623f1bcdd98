package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSetContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithUserID(ctx, "user1")
	ctx = WithUserEmail(ctx, "user@example.com")
	ctx = WithUserRole(ctx, "provider")
	ctx = WithRequestID(ctx, "req1")
	ctx = WithComponent(ctx, "componentA")
	ctx = WithOperation(ctx, "opX")

	userID, err := GetUserIDFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "user1", userID)

	email, err := GetUserEmailFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "user@example.com", email)

	role, err := GetUserRoleFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "provider", role)

	reqID, err := GetRequestIDFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "req1", reqID)

	assert.True(t, HasUserID(ctx))
	assert.Equal(t, "user1", GetUserIDOrDefault(ctx, "default"))
	assert.Equal(t, "provider", GetUserRoleOrDefault(ctx, "default"))
}

func TestContextUtils_MissingValues(t *testing.T) {
	ctx := context.Background()
	_, err := GetUserIDFromContext(ctx)
	assert.Error(t, err)
	assert.Equal(t, "userID not found in context", err.Error())

	assert.Equal(t, "default", GetUserIDOrDefault(ctx, "default"))
	assert.Equal(t, "viewer", GetUserRoleOrDefault(ctx, "viewer"))
	assert.False(t, HasUserID(ctx))
}
