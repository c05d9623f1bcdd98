package model

import (
	"time"

	docmodel "habitora-core/internal/docstore/domain/model"
)

const NotificationsCollection = "notifications"

// NotificationType distinguishes the content class of a notification so
// clients can route taps and pick icons.
type NotificationType string

const (
	NotificationStatusChange NotificationType = "status_change"
	NotificationProgress     NotificationType = "progress_update"
	NotificationAssignment   NotificationType = "assignment"
	NotificationNewRequest   NotificationType = "new_request"
)

// NotificationPath returns the document path of a notification.
func NotificationPath(notificationID string) string {
	return NotificationsCollection + "/" + notificationID
}

// Notification is a recipient-owned inbox entry created by the workflow
// engine. The engine only ever creates; MarkRead and Delete belong to the
// recipient.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type"`
	Link        string           `json:"link"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// NewNotificationData builds the document data for an unread notification.
func NewNotificationData(recipientID, title, message string, notifType NotificationType, link string) map[string]interface{} {
	return map[string]interface{}{
		"recipientId": recipientID,
		"title":       title,
		"message":     message,
		"type":        string(notifType),
		"link":        link,
		"read":        false,
		"createdAt":   docmodel.ServerTimestamp,
	}
}

// NotificationFromDocument maps a stored document onto the model.
func NotificationFromDocument(doc *docmodel.Document) *Notification {
	if doc == nil {
		return nil
	}
	return &Notification{
		ID:          doc.ID,
		RecipientID: stringField(doc.Data, "recipientId"),
		Title:       stringField(doc.Data, "title"),
		Message:     stringField(doc.Data, "message"),
		Type:        NotificationType(stringField(doc.Data, "type")),
		Link:        stringField(doc.Data, "link"),
		Read:        boolField(doc.Data, "read"),
		CreatedAt:   timeField(doc.Data, "createdAt", doc.CreatedAt),
	}
}
