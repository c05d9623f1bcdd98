package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docmodel "habitora-core/internal/docstore/domain/model"
	docusecase "habitora-core/internal/docstore/usecase"
	"habitora-core/internal/marketplace/domain/model"
	"habitora-core/internal/shared/errors"
)

func TestResolve_CreatesCanonicalConversation(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	conv, err := h.conversations.Resolve(ctx, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, "alice_bob", conv.ID)
	assert.Equal(t, []string{"alice", "bob"}, conv.Participants)
	assert.Equal(t, "Alice", conv.ParticipantDetails["alice"].Name)
	assert.Equal(t, "Bob", conv.ParticipantDetails["bob"].Name)
	assert.False(t, conv.UnreadFor["alice"])
	assert.False(t, conv.UnreadFor["bob"])
	assert.Equal(t, "", conv.LastMessage)
}

func TestResolve_IdempotentAcrossArgumentOrder(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	first, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)

	// Swap the argument order and resolve again: same document, no second
	// conversation.
	second, err := h.conversations.Resolve(ctx, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 1, h.count(t, model.ConversationsCollection))
}

func TestResolve_ConcurrentCallsConvergeOnOneDocument(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			first, second := "alice", "bob"
			if i%2 == 1 {
				first, second = second, first
			}
			conv, err := h.conversations.Resolve(ctx, first, second)
			if err == nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		assert.Equal(t, "alice_bob", id, "caller %d", i)
	}
	assert.Equal(t, 1, h.count(t, model.ConversationsCollection))
}

func TestResolve_IdentityFailureUsesPlaceholder(t *testing.T) {
	h := newMarketplaceHarness(t)
	h.identity.failLookup = true
	ctx := context.Background()

	conv, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err, "a directory outage must not block resolution")

	assert.Equal(t, model.PlaceholderDisplayName, conv.ParticipantDetails["alice"].Name)
	assert.Equal(t, model.PlaceholderDisplayName, conv.ParticipantDetails["bob"].Name)
}

func TestResolve_RejectsInvalidPairs(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	_, err := h.conversations.Resolve(ctx, "alice", "alice")
	assert.True(t, errors.IsValidation(err))

	_, err = h.conversations.Resolve(ctx, "", "bob")
	assert.True(t, errors.IsValidation(err))

	_, err = h.conversations.Resolve(ctx, "alice", "")
	assert.True(t, errors.IsValidation(err))
}

func TestSend_AppendsMessageAndFlagsCounterpart(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	conv, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, err := h.conversations.Send(ctx, conv.ID, "alice", "are you free this week?")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.False(t, msg.CreatedAt.IsZero())

	doc, err := h.store.Get(ctx, model.ConversationPath(conv.ID))
	require.NoError(t, err)
	updated := model.ConversationFromDocument(doc)
	assert.Equal(t, "are you free this week?", updated.LastMessage)
	assert.True(t, updated.UnreadFor["bob"], "counterpart must be flagged unread")
	assert.False(t, updated.UnreadFor["alice"], "sender must stay read")
	assert.Equal(t, 1, h.count(t, model.MessagesCollection(conv.ID)))
}

func TestSend_NonParticipantDenied(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	conv, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = h.conversations.Send(ctx, conv.ID, "carol", "let me in")
	assert.True(t, errors.IsPermissionDenied(err))
	assert.Equal(t, 0, h.count(t, model.MessagesCollection(conv.ID)))
}

func TestGet_RestrictedToParticipants(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	conv, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)

	got, err := h.conversations.Get(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, got.Participants)

	_, err = h.conversations.Get(ctx, conv.ID, "carol")
	assert.True(t, errors.IsPermissionDenied(err))

	_, err = h.conversations.Get(ctx, "alice_zed", "alice")
	assert.True(t, errors.IsNotFound(err))
}

func TestSend_Validation(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	conv, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = h.conversations.Send(ctx, conv.ID, "alice", "   ")
	assert.True(t, errors.IsValidation(err))

	_, err = h.conversations.Send(ctx, "alice_zed", "alice", "hello?")
	assert.True(t, errors.IsNotFound(err))
}

func TestMarkRead_ClearsOnlyReadersFlag(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	conv, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = h.conversations.Send(ctx, conv.ID, "alice", "ping")
	require.NoError(t, err)

	require.NoError(t, h.conversations.MarkRead(ctx, conv.ID, "bob"))

	doc, err := h.store.Get(ctx, model.ConversationPath(conv.ID))
	require.NoError(t, err)
	updated := model.ConversationFromDocument(doc)
	assert.False(t, updated.UnreadFor["bob"])

	// Idempotent: a second mark-read is a no-op, not an error.
	require.NoError(t, h.conversations.MarkRead(ctx, conv.ID, "bob"))

	err = h.conversations.MarkRead(ctx, conv.ID, "carol")
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestSubscribeInbox_RunsOnFallbackAndKeepsOrder(t *testing.T) {
	// No composite index for participants+updatedAt is declared anywhere,
	// so the inbox always exercises the degradation path.
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	convAB, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)
	convAC, err := h.conversations.Resolve(ctx, "alice", "carol")
	require.NoError(t, err)

	// carol's thread is the most recently active one.
	_, err = h.conversations.Send(ctx, convAB.ID, "bob", "old")
	require.NoError(t, err)
	_, err = h.conversations.Send(ctx, convAC.ID, "carol", "new")
	require.NoError(t, err)

	sub, err := h.conversations.SubscribeInbox(ctx, "alice")
	require.NoError(t, err)
	defer sub.Release()

	assert.Equal(t, docusecase.ModeFallback, sub.Mode())

	snapshot := waitSnapshot(t, sub)
	require.Len(t, snapshot.Documents, 2)
	assert.Equal(t, []string{convAC.ID, convAB.ID}, snapshotIDs(snapshot),
		"most recently active conversation first")

	// New activity in the older thread moves it back to the top.
	_, err = h.conversations.Send(ctx, convAB.ID, "alice", "revived")
	require.NoError(t, err)

	snapshot = waitSnapshotWhere(t, sub, func(s docmodel.Snapshot) bool {
		ids := snapshotIDs(s)
		return len(ids) == 2 && ids[0] == convAB.ID
	})
	assert.Equal(t, []string{convAB.ID, convAC.ID}, snapshotIDs(snapshot))
}

func TestSubscribeMessages_ChronologicalOrder(t *testing.T) {
	h := newMarketplaceHarness(t)
	ctx := context.Background()

	conv, err := h.conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)

	for _, text := range []string{"first", "second", "third"} {
		_, err = h.conversations.Send(ctx, conv.ID, "alice", text)
		require.NoError(t, err)
	}

	sub, err := h.conversations.SubscribeMessages(ctx, conv.ID)
	require.NoError(t, err)
	defer sub.Release()

	// A single-field order needs no composite index.
	assert.Equal(t, docusecase.ModeIndexed, sub.Mode())

	snapshot := waitSnapshot(t, sub)
	assert.Equal(t, []string{"first", "second", "third"}, snapshotField(snapshot, "text"))

	_, err = h.conversations.Send(ctx, conv.ID, "bob", "fourth")
	require.NoError(t, err)

	snapshot = waitSnapshotWhere(t, sub, func(s docmodel.Snapshot) bool {
		return len(s.Documents) == 4
	})
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, snapshotField(snapshot, "text"))
}

func snapshotIDs(snapshot docmodel.Snapshot) []string {
	ids := make([]string, 0, len(snapshot.Documents))
	for _, doc := range snapshot.Documents {
		ids = append(ids, doc.ID)
	}
	return ids
}
