package security

import (
	"context"
	"testing"
	"time"

	"habitora-core/internal/docstore/adapter/persistence/memory"
	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGuardedStore(t *testing.T) (*GuardedStore, *memory.MemoryStore, *eventbus.EventBus) {
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
		},
		{
			Match: "conversations",
			Allow: map[repository.OperationType]string{
				repository.OperationList: `auth != null`,
			},
		},
	}, silentLogger{})
	require.NoError(t, err)

	bus := eventbus.NewEventBus(nil)
	inner := memory.NewMemoryStore(nil, bus, nil)
	guarded := NewGuardedStore(inner, engine, bus, silentLogger{})
	return guarded, inner, bus
}

func asUser(uid string) context.Context {
	return repository.ContextWithPrincipal(context.Background(), &model.Principal{UID: uid})
}

func TestGuardedStore_ParticipantCanReadConversation(t *testing.T) {
	guarded, inner, _ := setupGuardedStore(t)
	_, err := inner.Create(context.Background(), "conversations/u1_u2", map[string]interface{}{
		"participants": []interface{}{"u1", "u2"},
	})
	require.NoError(t, err)

	doc, err := guarded.Get(asUser("u1"), "conversations/u1_u2")
	require.NoError(t, err)
	assert.Equal(t, "u1_u2", doc.ID)
}

func TestGuardedStore_StrangerReadDenied(t *testing.T) {
	guarded, inner, _ := setupGuardedStore(t)
	_, err := inner.Create(context.Background(), "conversations/u1_u2", map[string]interface{}{
		"participants": []interface{}{"u1", "u2"},
	})
	require.NoError(t, err)

	_, err = guarded.Get(asUser("intruder"), "conversations/u1_u2")
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestGuardedStore_CreateValidatedAgainstRequest(t *testing.T) {
	guarded, _, _ := setupGuardedStore(t)

	_, err := guarded.Create(asUser("u1"), "conversations/u1_u2", map[string]interface{}{
		"participants": []interface{}{"u1", "u2"},
	})
	require.NoError(t, err)

	_, err = guarded.Create(asUser("u3"), "conversations/u3_u4", map[string]interface{}{
		"participants": []interface{}{"u1", "u2"},
	})
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestGuardedStore_UpdateSeesCurrentResource(t *testing.T) {
	guarded, inner, _ := setupGuardedStore(t)
	_, err := inner.Create(context.Background(), "conversations/u1_u2", map[string]interface{}{
		"participants": []interface{}{"u1", "u2"},
		"unreadFor":    map[string]interface{}{"u1": false, "u2": false},
	})
	require.NoError(t, err)

	_, err = guarded.Update(asUser("u2"), "conversations/u1_u2", map[string]interface{}{
		"unreadFor.u1": true,
	})
	require.NoError(t, err)

	_, err = guarded.Update(asUser("intruder"), "conversations/u1_u2", map[string]interface{}{
		"unreadFor.u1": true,
	})
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestGuardedStore_QueryRequiresAuthenticatedLister(t *testing.T) {
	guarded, _, _ := setupGuardedStore(t)

	query := model.Query{Collection: "conversations"}

	_, err := guarded.Query(context.Background(), query)
	assert.True(t, errors.IsPermissionDenied(err))

	docs, err := guarded.Query(asUser("u1"), query)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGuardedStore_UnmatchedCollectionDenied(t *testing.T) {
	guarded, _, _ := setupGuardedStore(t)

	_, err := guarded.Create(asUser("u1"), "serviceRequests/r1", map[string]interface{}{"status": "Pending"})
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestGuardedStore_BatchDeniedAtomically(t *testing.T) {
	guarded, inner, _ := setupGuardedStore(t)
	_, err := inner.Create(context.Background(), "conversations/u1_u2", map[string]interface{}{
		"participants": []interface{}{"u1", "u2"},
	})
	require.NoError(t, err)

	err = guarded.RunBatchWrite(asUser("intruder"), []model.WriteOperation{
		{Type: model.WriteTypeUpdate, Path: "conversations/u1_u2", Data: map[string]interface{}{"hijacked": true}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))

	doc, err := inner.Get(context.Background(), "conversations/u1_u2")
	require.NoError(t, err)
	_, tampered := doc.Data["hijacked"]
	assert.False(t, tampered, "denied batch must not touch the store")
}

func TestGuardedStore_DenialPublishesRuleViolation(t *testing.T) {
	guarded, inner, bus := setupGuardedStore(t)
	_, err := inner.Create(context.Background(), "conversations/u1_u2", map[string]interface{}{
		"participants": []interface{}{"u1", "u2"},
	})
	require.NoError(t, err)

	violations := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.EventTypeRuleViolation, func(ctx context.Context, event eventbus.Event) error {
		violations <- event
		return nil
	})

	_, err = guarded.Get(asUser("intruder"), "conversations/u1_u2")
	require.Error(t, err)

	select {
	case event := <-violations:
		payload, ok := event.Data().(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "conversations/u1_u2", payload["path"])
		assert.Equal(t, "intruder", payload["uid"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected a rule violation event")
	}
}
