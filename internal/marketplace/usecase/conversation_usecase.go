package usecase

import (
	"context"
	"strings"

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

// ConversationUsecase resolves and operates two-party conversations. Resolve
// is the only way a conversation comes into existence; every caller path
// (contact seller, respond to request, reopen old thread) funnels through it.
type ConversationUsecase interface {
	// Resolve returns the single conversation for the unordered pair,
	// creating it when absent. Safe to call concurrently from both sides.
	Resolve(ctx context.Context, firstID, secondID string) (*model.Conversation, error)

	// Get returns one conversation, restricted to its participants.
	Get(ctx context.Context, conversationID, callerID string) (*model.Conversation, error)

	// Send appends a message and updates the conversation summary fields
	// in one atomic commit.
	Send(ctx context.Context, conversationID, senderID, text string) (*model.Message, error)

	// MarkRead clears the reader's unread flag.
	MarkRead(ctx context.Context, conversationID, readerID string) error

	// SubscribeInbox streams the user's conversation list, most recently
	// active first.
	SubscribeInbox(ctx context.Context, userID string) (*docusecase.Subscription, error)

	// SubscribeMessages streams a conversation's message history in
	// chronological order.
	SubscribeMessages(ctx context.Context, conversationID string) (*docusecase.Subscription, error)
}

type conversationUsecase struct {
	store    repository.DocumentStore
	live     docusecase.LiveQueryUsecase
	identity client.IdentityClient
	log      logger.Logger
}

// NewConversationUsecase wires the resolver against the document store, the
// live query layer and the identity directory.
func NewConversationUsecase(store repository.DocumentStore, live docusecase.LiveQueryUsecase, identity client.IdentityClient, log logger.Logger) ConversationUsecase {
	return &conversationUsecase{
		store:    store,
		live:     live,
		identity: identity,
		log:      log.WithComponent("conversations"),
	}
}

func (uc *conversationUsecase) Resolve(ctx context.Context, firstID, secondID string) (*model.Conversation, error) {
	if firstID == "" || secondID == "" {
		return nil, errors.NewValidationError("both participant ids are required")
	}
	if firstID == secondID {
		return nil, errors.NewValidationError("a conversation needs two distinct participants")
	}

	conversationID := model.CanonicalConversationID(firstID, secondID)
	participants := []string{firstID, secondID}

	// Identity snapshots are best-effort: a directory outage must not block
	// two users from talking to each other.
	details := make(map[string]model.ParticipantDetail, len(participants))
	for _, id := range participants {
		identity, err := uc.identity.Lookup(ctx, id)
		if err != nil || identity == nil {
			uc.log.WithContext(ctx).Warn("Identity lookup failed, using placeholder",
				zap.String("userID", id), zap.Error(err))
			details[id] = model.ParticipantDetail{Name: model.PlaceholderDisplayName}
			continue
		}
		details[id] = identity.Detail()
	}

	data := model.NewConversationData(participants, details)
	doc, created, err := uc.store.CreateIfAbsent(ctx, model.ConversationPath(conversationID), data)
	if err != nil {
		return nil, err
	}

	if created {
		uc.log.WithContext(ctx).Info("Conversation created",
			zap.String("conversationID", conversationID))
	} else {
		uc.log.WithContext(ctx).Debug("Conversation already exists",
			zap.String("conversationID", conversationID))
	}
	return model.ConversationFromDocument(doc), nil
}

func (uc *conversationUsecase) Get(ctx context.Context, conversationID, callerID string) (*model.Conversation, error) {
	doc, err := uc.store.Get(ctx, model.ConversationPath(conversationID))
	if err != nil {
		return nil, err
	}
	conv := model.ConversationFromDocument(doc)
	if !conv.HasParticipant(callerID) {
		return nil, errors.NewPermissionDeniedError("caller is not a participant of this conversation")
	}
	return conv, nil
}

func (uc *conversationUsecase) Send(ctx context.Context, conversationID, senderID, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewValidationError("message text must not be empty")
	}

	doc, err := uc.store.Get(ctx, model.ConversationPath(conversationID))
	if err != nil {
		return nil, err
	}
	conv := model.ConversationFromDocument(doc)
	if !conv.HasParticipant(senderID) {
		return nil, errors.NewPermissionDeniedError("sender is not a participant of this conversation")
	}

	messageID := uuid.New().String()
	messagePath := model.MessagePath(conversationID, messageID)

	summary := map[string]interface{}{
		"lastMessage": text,
		"updatedAt":   docmodel.ServerTimestamp,
	}
	if counterpart := conv.CounterpartOf(senderID); counterpart != "" {
		summary["unreadFor."+counterpart] = true
	}

	writes := []docmodel.WriteOperation{
		{Type: docmodel.WriteTypeCreate, Path: messagePath, Data: model.NewMessageData(senderID, text)},
		{Type: docmodel.WriteTypeUpdate, Path: model.ConversationPath(conversationID), Data: summary},
	}
	if err := uc.store.RunBatchWrite(ctx, writes); err != nil {
		return nil, err
	}

	stored, err := uc.store.Get(ctx, messagePath)
	if err != nil {
		// The commit succeeded; a failed read-back only loses the server
		// timestamp in the returned value.
		uc.log.WithContext(ctx).Warn("Message read-back failed",
			zap.String("conversationID", conversationID),
			zap.String("messageID", messageID), zap.Error(err))
		return &model.Message{
			ID:             messageID,
			ConversationID: conversationID,
			SenderID:       senderID,
			Text:           text,
		}, nil
	}
	return model.MessageFromDocument(stored), nil
}

func (uc *conversationUsecase) MarkRead(ctx context.Context, conversationID, readerID string) error {
	doc, err := uc.store.Get(ctx, model.ConversationPath(conversationID))
	if err != nil {
		return err
	}
	conv := model.ConversationFromDocument(doc)
	if !conv.HasParticipant(readerID) {
		return errors.NewPermissionDeniedError("reader is not a participant of this conversation")
	}
	if !conv.UnreadFor[readerID] {
		return nil
	}

	_, err = uc.store.Update(ctx, model.ConversationPath(conversationID), map[string]interface{}{
		"unreadFor." + readerID: false,
	})
	return err
}

func (uc *conversationUsecase) SubscribeInbox(ctx context.Context, userID string) (*docusecase.Subscription, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user id is required")
	}

	// The classic composite-index victim: array membership plus an order on
	// another field. Left undeclared on purpose, so this view runs on the
	// fallback path with client-side ordering.
	query := docmodel.Query{
		Collection: model.ConversationsCollection,
		Filters: []docmodel.Filter{
			{Field: "participants", Operator: docmodel.OperatorArrayContains, Value: userID},
		},
		Orders: []docmodel.Order{
			{Field: "updatedAt", Direction: docmodel.Descending},
		},
	}
	return uc.live.Subscribe(ctx, docusecase.SubscribeRequest{
		Query:     query,
		Principal: uc.principal(ctx),
	})
}

func (uc *conversationUsecase) SubscribeMessages(ctx context.Context, conversationID string) (*docusecase.Subscription, error) {
	if conversationID == "" {
		return nil, errors.NewValidationError("conversation id is required")
	}

	query := docmodel.Query{
		Collection: model.MessagesCollection(conversationID),
		Orders: []docmodel.Order{
			{Field: "createdAt", Direction: docmodel.Ascending},
		},
	}
	return uc.live.Subscribe(ctx, docusecase.SubscribeRequest{
		Query:     query,
		Principal: uc.principal(ctx),
	})
}

// principal derives the store-layer principal from the caller's verified
// claims. Absent claims yield a nil principal; access rules then decide what
// an anonymous read may see.
func (uc *conversationUsecase) principal(ctx context.Context) *docmodel.Principal {
	identity, err := uc.identity.CurrentIdentity(ctx)
	if err != nil || identity == nil {
		return nil
	}
	return identity.Principal()
}
