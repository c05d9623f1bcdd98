package usecase

import (
	"context"
	"sync"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"
)

// ChangeFeedHub fans committed change events out to collection listeners.
// The persistence adapters publish onto the shared event bus; AttachToBus
// routes those events here, and live query subscriptions register listener
// channels per collection path.
type ChangeFeedHub struct {
	// listeners maps a collection path to a map of listener IDs to their
	// event channels.
	listeners map[string]map[string]chan<- model.ChangeEvent
	mu        sync.RWMutex
	log       logger.Logger
}

// NewChangeFeedHub creates an empty hub.
func NewChangeFeedHub(log logger.Logger) *ChangeFeedHub {
	return &ChangeFeedHub{
		listeners: make(map[string]map[string]chan<- model.ChangeEvent),
		log:       log,
	}
}

var _ repository.ChangeFeed = (*ChangeFeedHub)(nil)

// Register attaches a listener channel to a collection path.
func (h *ChangeFeedHub) Register(collection, listenerID string, ch chan<- model.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.listeners[collection]; !ok {
		h.listeners[collection] = make(map[string]chan<- model.ChangeEvent)
	}

	if _, ok := h.listeners[collection][listenerID]; ok {
		h.log.Warnf("Listener %s already registered on %s, overwriting", listenerID, collection)
	}

	h.listeners[collection][listenerID] = ch
	h.log.Debugf("Listener %s registered on %s", listenerID, collection)
}

// Unregister detaches a listener. The listener owns its channel; the hub only
// stops delivering to it.
func (h *ChangeFeedHub) Unregister(collection, listenerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	listeners, ok := h.listeners[collection]
	if !ok {
		return
	}

	if _, ok := listeners[listenerID]; !ok {
		return
	}

	delete(listeners, listenerID)
	if len(listeners) == 0 {
		delete(h.listeners, collection)
	}
	h.log.Debugf("Listener %s unregistered from %s", listenerID, collection)
}

// ListenerCount returns the number of listeners on a collection path.
func (h *ChangeFeedHub) ListenerCount(collection string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[collection])
}

// Publish delivers an event to every listener of its collection. Sends are
// non-blocking so a stalled listener drops events instead of holding up the
// rest; listeners size their channel buffers accordingly.
func (h *ChangeFeedHub) Publish(ctx context.Context, event model.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	listeners, ok := h.listeners[event.Collection]
	if !ok {
		return
	}

	for listenerID, ch := range listeners {
		select {
		case ch <- event:
		default:
			h.log.Warnf("Dropping %s event for listener %s on %s (channel full)",
				event.Type, listenerID, event.Collection)
		}
	}
}

// AttachToBus subscribes the hub to the document change topics.
func (h *ChangeFeedHub) AttachToBus(bus eventbus.EventBusInterface) {
	handler := func(ctx context.Context, event eventbus.Event) error {
		change, ok := event.Data().(model.ChangeEvent)
		if !ok {
			h.log.Warnf("Ignoring %s event with unexpected payload type", event.Type())
			return nil
		}
		h.Publish(ctx, change)
		return nil
	}

	bus.Subscribe(eventbus.EventTypeDocumentCreated, handler)
	bus.Subscribe(eventbus.EventTypeDocumentUpdated, handler)
	bus.Subscribe(eventbus.EventTypeDocumentDeleted, handler)
}
