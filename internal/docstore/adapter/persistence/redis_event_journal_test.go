package persistence

import (
	"context"
	"testing"
	"time"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestJournal(t *testing.T) *RedisEventJournal {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisEventJournal(client, logger.NewLogger())
}

func sampleChange(collection, id, status string) model.ChangeEvent {
	return model.ChangeEvent{
		Type:       model.EventTypeCreated,
		Collection: collection,
		Path:       collection + "/" + id,
		DocumentID: id,
		Data:       map[string]interface{}{"status": status},
		Timestamp:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestRedisEventJournal_AppendAndReplay(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	token1, err := journal.Append(ctx, sampleChange("serviceRequests", "r1", "Pending"))
	require.NoError(t, err)
	require.NotEmpty(t, token1)

	token2, err := journal.Append(ctx, sampleChange("serviceRequests", "r2", "InProgress"))
	require.NoError(t, err)
	require.NotEqual(t, token1, token2)

	events, next, err := journal.Replay(ctx, "serviceRequests", "", 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, token2, next)

	assert.Equal(t, model.EventTypeCreated, events[0].Type)
	assert.Equal(t, "serviceRequests/r1", events[0].Path)
	assert.Equal(t, "r1", events[0].DocumentID)
	assert.Equal(t, "Pending", events[0].Data["status"])
	assert.Equal(t, int64(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC).UnixNano()), events[0].Timestamp.UnixNano())
}

func TestRedisEventJournal_ReplayResumesAfterToken(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	_, err := journal.Append(ctx, sampleChange("serviceRequests", "r1", "Pending"))
	require.NoError(t, err)
	token2, err := journal.Append(ctx, sampleChange("serviceRequests", "r2", "Pending"))
	require.NoError(t, err)
	_, err = journal.Append(ctx, sampleChange("serviceRequests", "r3", "Pending"))
	require.NoError(t, err)

	// Resuming from token2 must deliver only r3
	events, next, err := journal.Replay(ctx, "serviceRequests", token2, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "r3", events[0].DocumentID)

	// Nothing new after the last token; the token sticks
	events, again, err := journal.Replay(ctx, "serviceRequests", next, 100)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, next, again)
}

func TestRedisEventJournal_ReplayUnknownCollectionIsEmpty(t *testing.T) {
	journal := setupTestJournal(t)

	events, next, err := journal.Replay(context.Background(), "conversations", "", 100)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, next)
}

func TestRedisEventJournal_ReplayRejectsMalformedToken(t *testing.T) {
	journal := setupTestJournal(t)

	_, _, err := journal.Replay(context.Background(), "serviceRequests", "not-a-token-", 100)
	assert.Error(t, err)
}

func TestRedisEventJournal_CollectionsAreIsolated(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	_, err := journal.Append(ctx, sampleChange("serviceRequests", "r1", "Pending"))
	require.NoError(t, err)
	_, err = journal.Append(ctx, sampleChange("conversations", "c1", "open"))
	require.NoError(t, err)

	events, _, err := journal.Replay(ctx, "conversations", "", 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "c1", events[0].DocumentID)
}

func TestRedisEventJournal_Trim(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := journal.Append(ctx, sampleChange("serviceRequests", "r1", "Pending"))
		require.NoError(t, err)
	}
	require.Equal(t, int64(5), journal.Len(ctx, "serviceRequests"))

	require.NoError(t, journal.Trim(ctx, "serviceRequests", 2))
	assert.Equal(t, int64(2), journal.Len(ctx, "serviceRequests"))
}

func TestRedisEventJournal_AttachToBusJournalsCommits(t *testing.T) {
	journal := setupTestJournal(t)
	bus := eventbus.NewEventBus(nil)
	journal.AttachToBus(bus)

	ctx := context.Background()
	change := sampleChange("serviceRequests", "r1", "Pending")
	require.NoError(t, bus.Publish(ctx, eventbus.NewBasicEventWithSource(eventbus.EventTypeDocumentCreated, change, "test")))

	events, _, err := journal.Replay(ctx, "serviceRequests", "", 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "serviceRequests/r1", events[0].Path)
}

func TestNextStreamID(t *testing.T) {
	next, err := nextStreamID("1700000000000-0")
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-1", next)

	_, err = nextStreamID("garbage")
	assert.Error(t, err)
}
