package usecase

import (
	"context"
	"testing"
	"time"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/shared/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changeFor(collection, id string) model.ChangeEvent {
	return model.ChangeEvent{
		Type:       model.EventTypeCreated,
		Collection: collection,
		Path:       collection + "/" + id,
		DocumentID: id,
		Data:       map[string]interface{}{"status": "Pending"},
		Timestamp:  time.Now(),
	}
}

func TestChangeFeedHub_DeliversToCollectionListeners(t *testing.T) {
	hub := NewChangeFeedHub(quietLogger{})
	ch1 := make(chan model.ChangeEvent, 1)
	ch2 := make(chan model.ChangeEvent, 1)
	other := make(chan model.ChangeEvent, 1)

	hub.Register("serviceRequests", "l1", ch1)
	hub.Register("serviceRequests", "l2", ch2)
	hub.Register("conversations", "l3", other)

	hub.Publish(context.Background(), changeFor("serviceRequests", "r1"))

	for _, ch := range []chan model.ChangeEvent{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Equal(t, "r1", event.DocumentID)
		default:
			t.Fatal("listener did not receive the event")
		}
	}
	assert.Empty(t, other, "listeners on other collections must not receive the event")
}

func TestChangeFeedHub_SubcollectionPathsAreDistinct(t *testing.T) {
	hub := NewChangeFeedHub(quietLogger{})
	inbox := make(chan model.ChangeEvent, 1)
	thread := make(chan model.ChangeEvent, 1)

	hub.Register("conversations", "inbox", inbox)
	hub.Register("conversations/a_b/messages", "thread", thread)

	hub.Publish(context.Background(), changeFor("conversations/a_b/messages", "m1"))

	select {
	case event := <-thread:
		assert.Equal(t, "m1", event.DocumentID)
	default:
		t.Fatal("thread listener did not receive the event")
	}
	assert.Empty(t, inbox, "parent collection listeners must not receive subcollection events")
}

func TestChangeFeedHub_UnregisterStopsDelivery(t *testing.T) {
	hub := NewChangeFeedHub(quietLogger{})
	ch := make(chan model.ChangeEvent, 1)

	hub.Register("serviceRequests", "l1", ch)
	require.Equal(t, 1, hub.ListenerCount("serviceRequests"))

	hub.Unregister("serviceRequests", "l1")
	assert.Zero(t, hub.ListenerCount("serviceRequests"))

	hub.Publish(context.Background(), changeFor("serviceRequests", "r1"))
	assert.Empty(t, ch)

	// Unregistering again or on an unknown collection is a no-op
	hub.Unregister("serviceRequests", "l1")
	hub.Unregister("nope", "l1")
}

func TestChangeFeedHub_FullChannelDropsInsteadOfBlocking(t *testing.T) {
	hub := NewChangeFeedHub(quietLogger{})
	full := make(chan model.ChangeEvent) // unbuffered, nobody reading
	healthy := make(chan model.ChangeEvent, 1)

	hub.Register("serviceRequests", "stalled", full)
	hub.Register("serviceRequests", "healthy", healthy)

	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background(), changeFor("serviceRequests", "r1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled listener")
	}

	select {
	case event := <-healthy:
		assert.Equal(t, "r1", event.DocumentID)
	default:
		t.Fatal("healthy listener starved by a stalled one")
	}
}

func TestChangeFeedHub_AttachToBusRoutesDocumentEvents(t *testing.T) {
	bus := eventbus.NewEventBus(nil)
	hub := NewChangeFeedHub(quietLogger{})
	hub.AttachToBus(bus)

	ch := make(chan model.ChangeEvent, 3)
	hub.Register("serviceRequests", "l1", ch)

	ctx := context.Background()
	for _, busType := range []string{
		eventbus.EventTypeDocumentCreated,
		eventbus.EventTypeDocumentUpdated,
		eventbus.EventTypeDocumentDeleted,
	} {
		require.NoError(t, bus.Publish(ctx, eventbus.NewBasicEventWithSource(busType, changeFor("serviceRequests", "r1"), "test")))
	}

	assert.Len(t, ch, 3)

	// Payloads that are not change events are ignored, not fatal
	require.NoError(t, bus.Publish(ctx, eventbus.NewBasicEventWithSource(eventbus.EventTypeDocumentCreated, "garbage", "test")))
	assert.Len(t, ch, 3)
}
