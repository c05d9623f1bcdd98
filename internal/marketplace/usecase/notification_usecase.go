package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	docmodel "habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	docusecase "habitora-core/internal/docstore/usecase"
	"habitora-core/internal/marketplace/domain/client"
	"habitora-core/internal/marketplace/domain/model"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"
)

// NotificationUsecase creates inbox entries on behalf of the workflow engine
// and lets recipients manage them. It satisfies client.NotificationDispatcher
// so the engine depends only on the port.
type NotificationUsecase interface {
	client.NotificationDispatcher

	// MarkRead flags a notification as read. Recipient-only.
	MarkRead(ctx context.Context, notificationID, recipientID string) error

	// Delete removes a notification. Recipient-only.
	Delete(ctx context.Context, notificationID, recipientID string) error

	// SubscribeForRecipient streams the recipient's notifications, newest
	// first.
	SubscribeForRecipient(ctx context.Context, recipientID string) (*docusecase.Subscription, error)
}

type notificationUsecase struct {
	store    repository.DocumentStore
	live     docusecase.LiveQueryUsecase
	identity client.IdentityClient
	log      logger.Logger
}

// NewNotificationUsecase wires the notification inbox.
func NewNotificationUsecase(store repository.DocumentStore, live docusecase.LiveQueryUsecase, identity client.IdentityClient, log logger.Logger) NotificationUsecase {
	return &notificationUsecase{
		store:    store,
		live:     live,
		identity: identity,
		log:      log.WithComponent("notifications"),
	}
}

func (uc *notificationUsecase) Dispatch(ctx context.Context, recipientID, title, message string, notifType model.NotificationType, link string) error {
	if recipientID == "" {
		return errors.NewValidationError("recipient id is required")
	}

	notificationID := uuid.New().String()
	_, err := uc.store.Create(ctx, model.NotificationPath(notificationID),
		model.NewNotificationData(recipientID, title, message, notifType, link))
	if err != nil {
		return err
	}

	uc.log.WithContext(ctx).Debug("Notification created",
		zap.String("notificationID", notificationID),
		zap.String("recipientID", recipientID),
		zap.String("type", string(notifType)))
	return nil
}

func (uc *notificationUsecase) MarkRead(ctx context.Context, notificationID, recipientID string) error {
	notification, err := uc.loadOwned(ctx, notificationID, recipientID)
	if err != nil {
		return err
	}
	if notification.Read {
		return nil
	}
	_, err = uc.store.Update(ctx, model.NotificationPath(notificationID), map[string]interface{}{
		"read": true,
	})
	return err
}

func (uc *notificationUsecase) Delete(ctx context.Context, notificationID, recipientID string) error {
	if _, err := uc.loadOwned(ctx, notificationID, recipientID); err != nil {
		return err
	}
	return uc.store.Delete(ctx, model.NotificationPath(notificationID))
}

func (uc *notificationUsecase) SubscribeForRecipient(ctx context.Context, recipientID string) (*docusecase.Subscription, error) {
	if recipientID == "" {
		return nil, errors.NewValidationError("recipient id is required")
	}

	req := docusecase.SubscribeRequest{
		Query: docmodel.Query{
			Collection: model.NotificationsCollection,
			Filters: []docmodel.Filter{
				{Field: "recipientId", Operator: docmodel.OperatorEqual, Value: recipientID},
			},
			Orders: []docmodel.Order{
				{Field: "createdAt", Direction: docmodel.Descending},
			},
		},
	}
	if identity, err := uc.identity.CurrentIdentity(ctx); err == nil && identity != nil {
		req.Principal = identity.Principal()
	}
	return uc.live.Subscribe(ctx, req)
}

// loadOwned fetches a notification and verifies the caller owns it.
func (uc *notificationUsecase) loadOwned(ctx context.Context, notificationID, recipientID string) (*model.Notification, error) {
	doc, err := uc.store.Get(ctx, model.NotificationPath(notificationID))
	if err != nil {
		return nil, err
	}
	notification := model.NotificationFromDocument(doc)
	if notification.RecipientID != recipientID {
		return nil, errors.NewPermissionDeniedError("notification belongs to another user")
	}
	return notification, nil
}
