package repository

import (
	"context"

	"habitora-core/internal/docstore/domain/model"
)

// ChangeFeed delivers committed document changes to registered listeners.
// Delivery is per-listener ordered and non-blocking; a listener that cannot
// keep up loses events rather than stalling the feed.
type ChangeFeed interface {
	// Register attaches a listener channel to a collection path.
	Register(collection, listenerID string, ch chan<- model.ChangeEvent)

	// Unregister detaches a listener. Safe to call for unknown IDs.
	Unregister(collection, listenerID string)

	// ListenerCount returns the number of listeners on a collection path.
	ListenerCount(collection string) int
}

// EventJournal persists change events durably for replay after reconnects.
type EventJournal interface {
	// Append stores an event and returns its resume token.
	Append(ctx context.Context, event model.ChangeEvent) (string, error)

	// Replay returns events for a collection after the given resume token
	// ("" means from the start), plus the token to resume from next time.
	Replay(ctx context.Context, collection, sinceToken string, limit int64) ([]model.ChangeEvent, string, error)

	// Trim caps a collection's journal length.
	Trim(ctx context.Context, collection string, maxLen int64) error

	// Close releases the underlying connection.
	Close() error
}
