package ws

import (
	"time"

	docmodel "habitora-core/internal/docstore/domain/model"
	docusecase "habitora-core/internal/docstore/usecase"
)

// Views the listen endpoint serves. Every view is scoped to the
// authenticated caller; a client cannot open someone else's inbox.
const (
	// ViewInbox streams the caller's conversations, most recently active
	// first.
	ViewInbox = "inbox"

	// ViewMessages streams one conversation's messages in chronological
	// order. Requires the conversationId parameter and participant
	// membership.
	ViewMessages = "messages"

	// ViewProviderRequests streams service requests assigned to the caller.
	ViewProviderRequests = "provider-requests"

	// ViewRequesterRequests streams service requests opened by the caller.
	ViewRequesterRequests = "requester-requests"

	// ViewNotifications streams the caller's notification feed.
	ViewNotifications = "notifications"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	// ActionPing is the client keepalive. Every inbound frame extends the
	// server's read deadline; this one additionally earns a pong frame.
	ActionPing = "ping"
)

// Server frame types.
const (
	MessageTypeSnapshot                = "snapshot"
	MessageTypeSubscriptionConfirmed   = "subscription_confirmed"
	MessageTypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	MessageTypeSubscriptionError       = "subscription_error"
	MessageTypePing                    = "ping"
	MessageTypePong                    = "pong"
	MessageTypeError                   = "error"
)

// ClientRequest is one inbound frame on the listen socket.
type ClientRequest struct {
	Action         string            `json:"action"`
	SubscriptionID string            `json:"subscriptionId"`
	View           string            `json:"view,omitempty"`
	Params         map[string]string `json:"params,omitempty"`
}

// ServerMessage is one outbound frame on the listen socket.
type ServerMessage struct {
	Type           string         `json:"type"`
	SubscriptionID string         `json:"subscriptionId,omitempty"`
	View           string         `json:"view,omitempty"`
	Mode           string         `json:"mode,omitempty"`
	Documents      []DocumentView `json:"documents,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// DocumentView is the wire form of one document inside a snapshot frame.
type DocumentView struct {
	ID        string                 `json:"id"`
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// snapshotFrame converts a live query snapshot into its wire form. Each frame
// carries the full result set and supersedes the previous one.
func snapshotFrame(subscriptionID, view string, mode docusecase.SubscriptionMode, snapshot docmodel.Snapshot) ServerMessage {
	documents := make([]DocumentView, 0, len(snapshot.Documents))
	for _, doc := range snapshot.Documents {
		documents = append(documents, DocumentView{
			ID:        doc.ID,
			Data:      doc.Data,
			UpdatedAt: doc.UpdatedAt,
		})
	}
	return ServerMessage{
		Type:           MessageTypeSnapshot,
		SubscriptionID: subscriptionID,
		View:           view,
		Mode:           string(mode),
		Documents:      documents,
		Timestamp:      snapshot.At,
	}
}

// KnownView reports whether the view name is one the gateway serves.
func KnownView(view string) bool {
	switch view {
	case ViewInbox, ViewMessages, ViewProviderRequests, ViewRequesterRequests, ViewNotifications:
		return true
	}
	return false
}
