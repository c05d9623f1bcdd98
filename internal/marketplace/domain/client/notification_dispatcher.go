package client

import (
	"context"

	"habitora-core/internal/marketplace/domain/model"
)

// NotificationDispatcher delivers notifications to a recipient's inbox.
// Dispatch is best-effort from the workflow engine's point of view: a failed
// delivery is logged by the caller and never rolls back the state change
// that produced it.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, recipientID, title, message string, notifType model.NotificationType, link string) error
}
