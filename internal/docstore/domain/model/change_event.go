package model

import "time"

// EventType defines the type of document change event.
type EventType string

const (
	// EventTypeCreated signifies a new document was created.
	EventTypeCreated EventType = "created"
	// EventTypeUpdated signifies an existing document was updated.
	EventTypeUpdated EventType = "updated"
	// EventTypeDeleted signifies a document was deleted.
	EventTypeDeleted EventType = "deleted"
)

// ChangeEvent represents a committed change to a document. The persistence
// adapters publish one per write; the change feed and the event journal both
// consume them.
type ChangeEvent struct {
	// Type of the event (created, updated, deleted).
	Type EventType `json:"type"`

	// Collection is the path of the collection containing the document,
	// e.g. "conversations" or "serviceRequests/req1/statusHistory".
	Collection string `json:"collection"`

	// Path is the full document path, e.g. "conversations/abc_def".
	Path string `json:"path"`

	// DocumentID is the final segment of Path.
	DocumentID string `json:"documentId"`

	// Data contains the document data after the change; nil for deletions.
	Data map[string]interface{} `json:"data,omitempty"`

	// OldData contains the previous document data for update events.
	OldData map[string]interface{} `json:"oldData,omitempty"`

	// Timestamp when the change committed.
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is one full emission of a live query's current result set. Each
// snapshot supersedes the previous one; consumers apply last-write-wins.
type Snapshot struct {
	Collection string      `json:"collection"`
	Documents  []*Document `json:"documents"`
	At         time.Time   `json:"at"`
}
