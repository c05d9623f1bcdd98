package usecase

import (
	"context"
	"fmt"
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

// SubmitRequest describes a new service request. ProviderID may be empty;
// the requester can assign a provider later.
type SubmitRequest struct {
	RequesterID string
	ProviderID  string
	Category    model.RequestCategory
	Title       string
	Description string
	Budget      float64
	Note        string
}

// TransitionRequest asks the engine to move a request to a target status.
// Images carry already-hosted URLs; Uploads are raw attachments the engine
// stores through the media client before anything is written.
type TransitionRequest struct {
	RequestID string
	ActorID   string
	Target    model.RequestStatus
	Note      string
	Images    []string
	Uploads   []client.MediaUpload
}

// ProgressRequest appends a status-unchanged update to a running request.
type ProgressRequest struct {
	RequestID string
	ActorID   string
	Note      string
	Images    []string
	Uploads   []client.MediaUpload
}

// WorkflowUsecase advances service requests through their per-category
// transition graphs. Every accepted mutation commits the status change and
// its audit entry in one batch; notifications go out only after the commit
// and never undo it.
type WorkflowUsecase interface {
	// Submit creates a Pending request together with its first history
	// entry. The audit trail is never empty.
	Submit(ctx context.Context, in SubmitRequest) (*model.ServiceRequest, error)

	// Assign binds a provider to a still-Pending, unassigned request.
	Assign(ctx context.Context, requestID, requesterID, providerID string) (*model.ServiceRequest, error)

	// Transition validates the edge against the category's graph, checks
	// the actor's role, then commits status update and history entry
	// atomically. A rejected validation leaves the request untouched.
	Transition(ctx context.Context, in TransitionRequest) (*model.ServiceRequest, error)

	// AppendProgress records provider notes and photos without changing
	// status.
	AppendProgress(ctx context.Context, in ProgressRequest) (*model.StatusHistoryEntry, error)

	// History returns the audit trail in chronological order.
	History(ctx context.Context, requestID string) ([]*model.StatusHistoryEntry, error)

	// SubscribeForProvider streams the provider's assigned requests,
	// newest first.
	SubscribeForProvider(ctx context.Context, providerID string) (*docusecase.Subscription, error)

	// SubscribeForRequester streams the requester's own requests, newest
	// first.
	SubscribeForRequester(ctx context.Context, requesterID string) (*docusecase.Subscription, error)
}

type workflowUsecase struct {
	store    repository.DocumentStore
	live     docusecase.LiveQueryUsecase
	media    client.MediaClient
	notifier client.NotificationDispatcher
	identity client.IdentityClient
	log      logger.Logger
}

// NewWorkflowUsecase wires the engine. The notifier is consulted after every
// committed mutation; the media client only before, so an upload failure can
// still abort cleanly.
func NewWorkflowUsecase(
	store repository.DocumentStore,
	live docusecase.LiveQueryUsecase,
	media client.MediaClient,
	notifier client.NotificationDispatcher,
	identity client.IdentityClient,
	log logger.Logger,
) WorkflowUsecase {
	return &workflowUsecase{
		store:    store,
		live:     live,
		media:    media,
		notifier: notifier,
		identity: identity,
		log:      log.WithComponent("workflow"),
	}
}

func (uc *workflowUsecase) Submit(ctx context.Context, in SubmitRequest) (*model.ServiceRequest, error) {
	if in.RequesterID == "" {
		return nil, errors.NewValidationError("requester id is required")
	}
	if !model.ValidCategory(in.Category) {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown request category: %s", in.Category))
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.NewValidationError("request title is required")
	}
	if in.Budget < 0 {
		return nil, errors.NewValidationError("budget must not be negative")
	}
	if in.ProviderID == in.RequesterID && in.ProviderID != "" {
		return nil, errors.NewValidationError("requester cannot be their own provider")
	}

	requestID := uuid.New().String()
	entryID := uuid.New().String()

	writes := []docmodel.WriteOperation{
		{
			Type: docmodel.WriteTypeCreate,
			Path: model.ServiceRequestPath(requestID),
			Data: model.NewServiceRequestData(in.RequesterID, in.ProviderID, in.Category, in.Title, in.Description, in.Budget),
		},
		{
			Type: docmodel.WriteTypeCreate,
			Path: model.StatusHistoryPath(requestID, entryID),
			Data: model.NewStatusHistoryData(model.StatusPending, in.RequesterID, in.Note, nil),
		},
	}
	if err := uc.store.RunBatchWrite(ctx, writes); err != nil {
		return nil, err
	}

	uc.log.WithContext(ctx).Info("Service request submitted",
		zap.String("requestID", requestID),
		zap.String("category", string(in.Category)))

	if in.ProviderID != "" {
		requesterName := uc.displayName(ctx, in.RequesterID)
		uc.notify(ctx, in.ProviderID,
			"New service request",
			fmt.Sprintf("%s invited you to %q.", requesterName, in.Title),
			model.NotificationNewRequest, requestLink(requestID))
	}

	return uc.readBack(ctx, requestID)
}

func (uc *workflowUsecase) Assign(ctx context.Context, requestID, requesterID, providerID string) (*model.ServiceRequest, error) {
	if providerID == "" {
		return nil, errors.NewValidationError("provider id is required")
	}
	if providerID == requesterID {
		return nil, errors.NewValidationError("requester cannot be their own provider")
	}

	req, err := uc.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != requesterID {
		return nil, errors.NewPermissionDeniedError("only the requester may assign a provider")
	}
	if req.Status != model.StatusPending {
		return nil, errors.NewConflictError("a provider can only be assigned while the request is pending")
	}
	if req.ProviderID != "" {
		return nil, errors.NewConflictError("request already has a provider assigned")
	}

	providerName := uc.displayName(ctx, providerID)
	entryID := uuid.New().String()

	writes := []docmodel.WriteOperation{
		{
			Type: docmodel.WriteTypeUpdate,
			Path: model.ServiceRequestPath(requestID),
			Data: map[string]interface{}{
				"providerId": providerID,
				"updatedAt":  docmodel.ServerTimestamp,
			},
		},
		{
			Type: docmodel.WriteTypeCreate,
			Path: model.StatusHistoryPath(requestID, entryID),
			Data: model.NewStatusHistoryData(req.Status, requesterID,
				fmt.Sprintf("assigned provider %s", providerName), nil),
		},
	}
	if err := uc.store.RunBatchWrite(ctx, writes); err != nil {
		return nil, err
	}

	uc.log.WithContext(ctx).Info("Provider assigned",
		zap.String("requestID", requestID),
		zap.String("providerID", providerID))

	requesterName := uc.displayName(ctx, requesterID)
	uc.notify(ctx, providerID,
		"You were assigned",
		fmt.Sprintf("%s assigned you to %q.", requesterName, req.Title),
		model.NotificationAssignment, requestLink(requestID))

	return uc.readBack(ctx, requestID)
}

func (uc *workflowUsecase) Transition(ctx context.Context, in TransitionRequest) (*model.ServiceRequest, error) {
	if !model.ValidStatus(in.Target) {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown target status: %s", in.Target))
	}

	req, err := uc.load(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	// Graph first: an edge the category does not carry is invalid no
	// matter who asks.
	if !model.TransitionAllowed(req.Category, req.Status, in.Target) {
		return nil, errors.NewInvalidTransitionError(string(req.Status), string(in.Target)).
			WithDetail("category", string(req.Category))
	}

	switch in.Target {
	case model.StatusInProgress, model.StatusCompleted:
		if req.ProviderID == "" || in.ActorID != req.ProviderID {
			return nil, errors.NewPermissionDeniedError("only the assigned provider may advance the work")
		}
	case model.StatusCancelled:
		if in.ActorID != req.RequesterID {
			return nil, errors.NewPermissionDeniedError("only the requester may cancel")
		}
	case model.StatusRejected:
		if req.ProviderID == "" || in.ActorID != req.ProviderID {
			return nil, errors.NewPermissionDeniedError("only the assigned provider may reject")
		}
		if strings.TrimSpace(in.Note) == "" {
			return nil, errors.NewValidationError("a rejection requires a note")
		}
	}

	images, err := uc.resolveImages(ctx, in.Images, in.Uploads)
	if err != nil {
		return nil, err
	}

	entryID := uuid.New().String()
	writes := []docmodel.WriteOperation{
		{
			Type: docmodel.WriteTypeUpdate,
			Path: model.ServiceRequestPath(in.RequestID),
			Data: map[string]interface{}{
				"status":    string(in.Target),
				"updatedAt": docmodel.ServerTimestamp,
			},
		},
		{
			Type: docmodel.WriteTypeCreate,
			Path: model.StatusHistoryPath(in.RequestID, entryID),
			Data: model.NewStatusHistoryData(in.Target, in.ActorID, in.Note, images),
		},
	}
	if err := uc.store.RunBatchWrite(ctx, writes); err != nil {
		return nil, err
	}

	uc.log.WithContext(ctx).Info("Request transitioned",
		zap.String("requestID", in.RequestID),
		zap.String("from", string(req.Status)),
		zap.String("to", string(in.Target)))

	if recipient := req.CounterpartyOf(in.ActorID); recipient != "" {
		title, message := uc.statusNotification(ctx, req, in)
		uc.notify(ctx, recipient, title, message,
			model.NotificationStatusChange, requestLink(in.RequestID))
	}

	return uc.readBack(ctx, in.RequestID)
}

func (uc *workflowUsecase) AppendProgress(ctx context.Context, in ProgressRequest) (*model.StatusHistoryEntry, error) {
	if strings.TrimSpace(in.Note) == "" && len(in.Images) == 0 && len(in.Uploads) == 0 {
		return nil, errors.NewValidationError("a progress update needs a note or images")
	}

	req, err := uc.load(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.ProviderID == "" || in.ActorID != req.ProviderID {
		return nil, errors.NewPermissionDeniedError("only the assigned provider may post progress")
	}
	if req.Status.IsTerminal() {
		return nil, errors.NewConflictError("no progress can be added to a settled request")
	}

	images, err := uc.resolveImages(ctx, in.Images, in.Uploads)
	if err != nil {
		return nil, err
	}

	entryID := uuid.New().String()
	entryPath := model.StatusHistoryPath(in.RequestID, entryID)
	writes := []docmodel.WriteOperation{
		{
			Type: docmodel.WriteTypeCreate,
			Path: entryPath,
			Data: model.NewStatusHistoryData(req.Status, in.ActorID, in.Note, images),
		},
		{
			Type: docmodel.WriteTypeUpdate,
			Path: model.ServiceRequestPath(in.RequestID),
			Data: map[string]interface{}{"updatedAt": docmodel.ServerTimestamp},
		},
	}
	if err := uc.store.RunBatchWrite(ctx, writes); err != nil {
		return nil, err
	}

	providerName := uc.displayName(ctx, in.ActorID)
	uc.notify(ctx, req.RequesterID,
		"New update",
		fmt.Sprintf("%s posted an update on %q.", providerName, req.Title),
		model.NotificationProgress, requestLink(in.RequestID))

	stored, err := uc.store.Get(ctx, entryPath)
	if err != nil {
		uc.log.WithContext(ctx).Warn("History entry read-back failed",
			zap.String("requestID", in.RequestID), zap.Error(err))
		return &model.StatusHistoryEntry{
			ID:      entryID,
			Status:  req.Status,
			ActorID: in.ActorID,
			Note:    in.Note,
			Images:  images,
		}, nil
	}
	return model.StatusHistoryEntryFromDocument(stored), nil
}

func (uc *workflowUsecase) History(ctx context.Context, requestID string) ([]*model.StatusHistoryEntry, error) {
	// An unknown request yields an empty trail, mirroring the store's
	// unknown-collection semantics.
	docs, err := uc.store.Query(ctx, docmodel.Query{
		Collection: model.StatusHistoryCollection(requestID),
		Orders: []docmodel.Order{
			{Field: "createdAt", Direction: docmodel.Ascending},
		},
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*model.StatusHistoryEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, model.StatusHistoryEntryFromDocument(doc))
	}
	return entries, nil
}

func (uc *workflowUsecase) SubscribeForProvider(ctx context.Context, providerID string) (*docusecase.Subscription, error) {
	if providerID == "" {
		return nil, errors.NewValidationError("provider id is required")
	}
	return uc.subscribeRequests(ctx, "providerId", providerID)
}

func (uc *workflowUsecase) SubscribeForRequester(ctx context.Context, requesterID string) (*docusecase.Subscription, error) {
	if requesterID == "" {
		return nil, errors.NewValidationError("requester id is required")
	}
	return uc.subscribeRequests(ctx, "requesterId", requesterID)
}

func (uc *workflowUsecase) subscribeRequests(ctx context.Context, field, value string) (*docusecase.Subscription, error) {
	query := docmodel.Query{
		Collection: model.ServiceRequestsCollection,
		Filters: []docmodel.Filter{
			{Field: field, Operator: docmodel.OperatorEqual, Value: value},
		},
		Orders: []docmodel.Order{
			{Field: "createdAt", Direction: docmodel.Descending},
		},
	}
	req := docusecase.SubscribeRequest{Query: query}
	if identity, err := uc.identity.CurrentIdentity(ctx); err == nil && identity != nil {
		req.Principal = identity.Principal()
	}
	return uc.live.Subscribe(ctx, req)
}

// load fetches and maps a request document.
func (uc *workflowUsecase) load(ctx context.Context, requestID string) (*model.ServiceRequest, error) {
	if requestID == "" {
		return nil, errors.NewValidationError("request id is required")
	}
	doc, err := uc.store.Get(ctx, model.ServiceRequestPath(requestID))
	if err != nil {
		return nil, err
	}
	return model.ServiceRequestFromDocument(doc), nil
}

// readBack returns the committed state of a request.
func (uc *workflowUsecase) readBack(ctx context.Context, requestID string) (*model.ServiceRequest, error) {
	doc, err := uc.store.Get(ctx, model.ServiceRequestPath(requestID))
	if err != nil {
		return nil, err
	}
	return model.ServiceRequestFromDocument(doc), nil
}

// resolveImages turns raw uploads into hosted URLs and appends them to the
// already-hosted ones. Runs before the batch commit so a storage failure
// aborts the whole operation with no mutation.
func (uc *workflowUsecase) resolveImages(ctx context.Context, urls []string, uploads []client.MediaUpload) ([]string, error) {
	resolved := append([]string(nil), urls...)
	if len(uploads) == 0 {
		return resolved, nil
	}
	if uc.media == nil {
		return nil, errors.NewValidationError("media uploads are not supported in this deployment")
	}
	for _, upload := range uploads {
		url, err := uc.media.Upload(ctx, upload)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, url)
	}
	return resolved, nil
}

// notify delivers best-effort. A dispatch failure is logged and dropped so
// it can never roll back the state change that triggered it.
func (uc *workflowUsecase) notify(ctx context.Context, recipientID, title, message string, notifType model.NotificationType, link string) {
	if uc.notifier == nil || recipientID == "" {
		return
	}
	if err := uc.notifier.Dispatch(ctx, recipientID, title, message, notifType, link); err != nil {
		uc.log.WithContext(ctx).Warn("Notification dispatch failed",
			zap.String("recipientID", recipientID),
			zap.String("type", string(notifType)),
			zap.Error(err))
	}
}

// displayName resolves a user's display name, degrading to the placeholder
// when the directory cannot answer.
func (uc *workflowUsecase) displayName(ctx context.Context, userID string) string {
	identity, err := uc.identity.Lookup(ctx, userID)
	if err != nil || identity == nil || identity.DisplayName == "" {
		return model.PlaceholderDisplayName
	}
	return identity.DisplayName
}

// statusNotification renders the counterparty-facing text for a committed
// transition.
func (uc *workflowUsecase) statusNotification(ctx context.Context, req *model.ServiceRequest, in TransitionRequest) (string, string) {
	actorName := uc.displayName(ctx, in.ActorID)
	switch in.Target {
	case model.StatusInProgress:
		return "Work started", fmt.Sprintf("%s started work on %q.", actorName, req.Title)
	case model.StatusCompleted:
		return "Work completed", fmt.Sprintf("%s marked %q as completed.", actorName, req.Title)
	case model.StatusRejected:
		return "Request rejected", fmt.Sprintf("%s rejected %q: %s", actorName, req.Title, in.Note)
	case model.StatusCancelled:
		return "Request cancelled", fmt.Sprintf("%s cancelled %q.", actorName, req.Title)
	}
	return "Request updated", fmt.Sprintf("%s updated %q.", actorName, req.Title)
}

func requestLink(requestID string) string {
	return "/requests/" + requestID
}
