package security

import (
	"context"
	"testing"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type silentLogger struct{}

func (silentLogger) Debug(args ...interface{})                         {}
func (silentLogger) Info(args ...interface{})                          {}
func (silentLogger) Warn(args ...interface{})                          {}
func (silentLogger) Error(args ...interface{})                         {}
func (silentLogger) Fatal(args ...interface{})                         {}
func (silentLogger) Debugf(format string, args ...interface{})         {}
func (silentLogger) Infof(format string, args ...interface{})          {}
func (silentLogger) Warnf(format string, args ...interface{})          {}
func (silentLogger) Errorf(format string, args ...interface{})         {}
func (silentLogger) Fatalf(format string, args ...interface{})         {}
func (s silentLogger) WithFields(map[string]interface{}) logger.Logger { return s }
func (s silentLogger) WithContext(context.Context) logger.Logger       { return s }
func (s silentLogger) WithComponent(string) logger.Logger              { return s }

func conversationRules(t *testing.T) *RulesEngine {
	t.Helper()
	engine, err := NewRulesEngine([]AccessRule{
		{
			Match:    "conversations/{conversationId}",
			Priority: 10,
			Allow: map[repository.OperationType]string{
				repository.OperationRead:   `auth != null && auth.uid in resource.participants`,
				repository.OperationCreate: `auth != null && auth.uid in request.participants`,
				repository.OperationUpdate: `auth != null && auth.uid in resource.participants`,
			},
			Deny: map[repository.OperationType]string{
				repository.OperationDelete: `true`,
			},
		},
		{
			Match:    "users/{userId}",
			Priority: 10,
			Allow: map[repository.OperationType]string{
				repository.OperationRead:   `auth != null`,
				repository.OperationUpdate: `auth != null && auth.uid == variables.userId`,
			},
		},
	}, silentLogger{})
	require.NoError(t, err)
	return engine
}

func TestRulesEngine_AllowsParticipantRead(t *testing.T) {
	engine := conversationRules(t)

	err := engine.Authorize(context.Background(), repository.AccessRequest{
		Principal: &model.Principal{UID: "u1"},
		Operation: repository.OperationRead,
		Path:      "conversations/u1_u2",
		Resource:  map[string]interface{}{"participants": []interface{}{"u1", "u2"}},
	})
	assert.NoError(t, err)
}

func TestRulesEngine_DeniesStrangerRead(t *testing.T) {
	engine := conversationRules(t)

	err := engine.Authorize(context.Background(), repository.AccessRequest{
		Principal: &model.Principal{UID: "intruder"},
		Operation: repository.OperationRead,
		Path:      "conversations/u1_u2",
		Resource:  map[string]interface{}{"participants": []interface{}{"u1", "u2"}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestRulesEngine_DeniesUnauthenticated(t *testing.T) {
	engine := conversationRules(t)

	err := engine.Authorize(context.Background(), repository.AccessRequest{
		Operation: repository.OperationRead,
		Path:      "conversations/u1_u2",
		Resource:  map[string]interface{}{"participants": []interface{}{"u1", "u2"}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestRulesEngine_CreateChecksRequestData(t *testing.T) {
	engine := conversationRules(t)
	ctx := context.Background()

	err := engine.Authorize(ctx, repository.AccessRequest{
		Principal: &model.Principal{UID: "u1"},
		Operation: repository.OperationCreate,
		Path:      "conversations/u1_u2",
		NewData:   map[string]interface{}{"participants": []interface{}{"u1", "u2"}},
	})
	assert.NoError(t, err)

	err = engine.Authorize(ctx, repository.AccessRequest{
		Principal: &model.Principal{UID: "u3"},
		Operation: repository.OperationCreate,
		Path:      "conversations/u1_u2",
		NewData:   map[string]interface{}{"participants": []interface{}{"u1", "u2"}},
	})
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestRulesEngine_DenyWinsOverAllow(t *testing.T) {
	engine := conversationRules(t)

	// Delete carries an unconditional deny even for participants
	err := engine.Authorize(context.Background(), repository.AccessRequest{
		Principal: &model.Principal{UID: "u1"},
		Operation: repository.OperationDelete,
		Path:      "conversations/u1_u2",
		Resource:  map[string]interface{}{"participants": []interface{}{"u1", "u2"}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestRulesEngine_PathVariablesBind(t *testing.T) {
	engine := conversationRules(t)
	ctx := context.Background()

	err := engine.Authorize(ctx, repository.AccessRequest{
		Principal: &model.Principal{UID: "u1"},
		Operation: repository.OperationUpdate,
		Path:      "users/u1",
	})
	assert.NoError(t, err)

	err = engine.Authorize(ctx, repository.AccessRequest{
		Principal: &model.Principal{UID: "u1"},
		Operation: repository.OperationUpdate,
		Path:      "users/u2",
	})
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestRulesEngine_UnmatchedPathDefaultDeny(t *testing.T) {
	engine := conversationRules(t)

	err := engine.Authorize(context.Background(), repository.AccessRequest{
		Principal: &model.Principal{UID: "u1"},
		Operation: repository.OperationRead,
		Path:      "serviceRequests/r1",
	})
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestRulesEngine_HigherPriorityRuleWins(t *testing.T) {
	engine, err := NewRulesEngine([]AccessRule{
		{
			Match:    "notifications/{notificationId}",
			Priority: 1,
			Allow:    map[repository.OperationType]string{repository.OperationRead: `auth != null`},
		},
		{
			Match:    "notifications/{notificationId}",
			Priority: 5,
			Deny:     map[repository.OperationType]string{repository.OperationRead: `auth == null || auth.uid != resource.recipientId`},
		},
	}, silentLogger{})
	require.NoError(t, err)

	ctx := context.Background()
	err = engine.Authorize(ctx, repository.AccessRequest{
		Principal: &model.Principal{UID: "u2"},
		Operation: repository.OperationRead,
		Path:      "notifications/n1",
		Resource:  map[string]interface{}{"recipientId": "u1"},
	})
	assert.True(t, errors.IsPermissionDenied(err))

	err = engine.Authorize(ctx, repository.AccessRequest{
		Principal: &model.Principal{UID: "u1"},
		Operation: repository.OperationRead,
		Path:      "notifications/n1",
		Resource:  map[string]interface{}{"recipientId": "u1"},
	})
	assert.NoError(t, err)
}

func TestRulesEngine_RejectsInvalidCondition(t *testing.T) {
	_, err := NewRulesEngine([]AccessRule{
		{
			Match: "conversations/{conversationId}",
			Allow: map[repository.OperationType]string{repository.OperationRead: `auth ==`},
		},
	}, silentLogger{})
	assert.Error(t, err)
}

func TestCompileMatchPattern(t *testing.T) {
	regex, variables, err := compileMatchPattern("serviceRequests/{requestId}/statusHistory/{entryId}")
	require.NoError(t, err)
	assert.Equal(t, []string{"requestId", "entryId"}, variables)
	assert.True(t, regex.MatchString("serviceRequests/r1/statusHistory/h1"))
	assert.False(t, regex.MatchString("serviceRequests/r1"))
	assert.False(t, regex.MatchString("serviceRequests/r1/statusHistory/h1/extra"))

	_, _, err = compileMatchPattern("")
	assert.Error(t, err)
}
