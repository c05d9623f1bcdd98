package mongodb

import (
	"context"
	stderrors "errors"
	"time"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	apperrors "habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const documentsCollection = "documents"

// storedDocument is the MongoDB representation of a document. The full path
// doubles as _id, which gives every document a unique index and makes
// InsertOne the atomic create-if-absent primitive.
type storedDocument struct {
	Path       string                 `bson:"_id"`
	Collection string                 `bson:"collection"`
	DocumentID string                 `bson:"documentId"`
	Data       map[string]interface{} `bson:"data"`
	CreatedAt  time.Time              `bson:"createdAt"`
	UpdatedAt  time.Time              `bson:"updatedAt"`
}

func (sd *storedDocument) toModel() *model.Document {
	return &model.Document{
		ID:        sd.DocumentID,
		Path:      sd.Path,
		Data:      normalizeData(sd.Data),
		CreatedAt: sd.CreatedAt,
		UpdatedAt: sd.UpdatedAt,
	}
}

// DocumentStore implements repository.DocumentStore on MongoDB. All documents
// live in a single collection keyed by path; the registry decides which
// ordered queries are servable, exactly as the memory adapter does.
type DocumentStore struct {
	documents *mongo.Collection
	registry  *model.IndexRegistry
	bus       eventbus.EventBusInterface
	logger    logger.Logger
}

func NewDocumentStore(db *mongo.Database, registry *model.IndexRegistry, bus eventbus.EventBusInterface, log logger.Logger) *DocumentStore {
	if registry == nil {
		registry = model.NewIndexRegistry()
	}
	return &DocumentStore{
		documents: db.Collection(documentsCollection),
		registry:  registry,
		bus:       bus,
		logger:    log,
	}
}

var _ repository.DocumentStore = (*DocumentStore)(nil)

// EnsureIndexes creates the collection-scan index. Called once at startup.
func (s *DocumentStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.documents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}},
	})
	if err != nil {
		return wrapMongoError(err, "create indexes")
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, path string) (*model.Document, error) {
	if err := model.ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	var stored storedDocument
	err := s.documents.FindOne(ctx, bson.M{"_id": path}).Decode(&stored)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NewNotFoundError("document").WithDetail("path", path)
	}
	if err != nil {
		return nil, wrapMongoError(err, path)
	}
	return stored.toModel(), nil
}

func (s *DocumentStore) Create(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	doc, created, err := s.CreateIfAbsent(ctx, path, data)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, apperrors.NewConflictError("document already exists").WithDetail("path", path)
	}
	return doc, nil
}

// CreateIfAbsent inserts the document and reports whether this call created
// it. The unique _id index arbitrates concurrent racers; the loser reads the
// winner's document back instead of failing.
func (s *DocumentStore) CreateIfAbsent(ctx context.Context, path string, data map[string]interface{}) (*model.Document, bool, error) {
	if err := model.ValidateDocumentPath(path); err != nil {
		return nil, false, err
	}

	stored, err := s.newStoredDocument(path, data, time.Now())
	if err != nil {
		return nil, false, err
	}

	_, err = s.documents.InsertOne(ctx, stored)
	if mongo.IsDuplicateKeyError(err) {
		existing, getErr := s.Get(ctx, path)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, wrapMongoError(err, path)
	}

	doc := stored.toModel()
	s.emit(ctx, model.EventTypeCreated, doc, nil)
	return doc, true, nil
}

func (s *DocumentStore) Set(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	if err := model.ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	now := time.Now()
	stored, err := s.newStoredDocument(path, data, now)
	if err != nil {
		return nil, err
	}

	update := bson.M{
		"$set": bson.M{
			"collection": stored.Collection,
			"documentId": stored.DocumentID,
			"data":       stored.Data,
			"updatedAt":  now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}

	var before storedDocument
	err = s.documents.FindOneAndUpdate(ctx, bson.M{"_id": path}, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&before)

	switch {
	case stderrors.Is(err, mongo.ErrNoDocuments):
		doc := stored.toModel()
		s.emit(ctx, model.EventTypeCreated, doc, nil)
		return doc, nil
	case err != nil:
		return nil, wrapMongoError(err, path)
	}

	stored.CreatedAt = before.CreatedAt
	doc := stored.toModel()
	s.emit(ctx, model.EventTypeUpdated, doc, normalizeData(before.Data))
	return doc, nil
}

// Update merges into an existing document. Dotted keys address nested fields
// through MongoDB's native $set paths; the post-image is rebuilt with the
// shared merge helper so both adapters report identical results.
func (s *DocumentStore) Update(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	if err := model.ValidateDocumentPath(path); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("update data cannot be empty")
	}

	now := time.Now()
	var before storedDocument
	err := s.documents.FindOneAndUpdate(ctx, bson.M{"_id": path}, buildUpdateDocument(data, now),
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)

	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NewNotFoundError("document").WithDetail("path", path)
	}
	if err != nil {
		return nil, wrapMongoError(err, path)
	}

	oldData := normalizeData(before.Data)
	newData := model.CloneData(oldData)
	if newData == nil {
		newData = make(map[string]interface{})
	}
	model.MergeFields(newData, data, now)

	doc := &model.Document{
		ID:        before.DocumentID,
		Path:      path,
		Data:      newData,
		CreatedAt: before.CreatedAt,
		UpdatedAt: now,
	}
	s.emit(ctx, model.EventTypeUpdated, doc, oldData)
	return doc, nil
}

func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	if err := model.ValidateDocumentPath(path); err != nil {
		return err
	}

	var before storedDocument
	err := s.documents.FindOneAndDelete(ctx, bson.M{"_id": path}).Decode(&before)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return apperrors.NewNotFoundError("document").WithDetail("path", path)
	}
	if err != nil {
		return wrapMongoError(err, path)
	}

	tombstone := &model.Document{ID: before.DocumentID, Path: path}
	s.emit(ctx, model.EventTypeDeleted, tombstone, normalizeData(before.Data))
	return nil
}

func (s *DocumentStore) Query(ctx context.Context, query model.Query) ([]*model.Document, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	if missing, ok := s.registry.CheckQuery(query); !ok {
		return nil, apperrors.NewIndexMissingError(query.Collection, model.SignatureFields(missing))
	}

	cur, err := s.documents.Find(ctx, buildQueryFilter(query), buildFindOptions(query))
	if err != nil {
		return nil, wrapMongoError(err, query.Collection)
	}
	defer cur.Close(ctx)

	var docs []*model.Document
	for cur.Next(ctx) {
		var stored storedDocument
		if err := cur.Decode(&stored); err != nil {
			return nil, wrapMongoError(err, query.Collection)
		}
		docs = append(docs, stored.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, wrapMongoError(err, query.Collection)
	}
	return docs, nil
}

// RunBatchWrite applies the operations inside one MongoDB transaction. The
// transaction gives read-your-writes between operations and aborts on the
// first failure; change events fire only after the commit.
func (s *DocumentStore) RunBatchWrite(ctx context.Context, writes []model.WriteOperation) error {
	if len(writes) == 0 {
		return apperrors.NewValidationError("batch cannot be empty")
	}
	for _, op := range writes {
		if err := model.ValidateDocumentPath(op.Path); err != nil {
			return err
		}
	}

	session, err := s.documents.Database().Client().StartSession()
	if err != nil {
		return wrapMongoError(err, "start session")
	}
	defer session.EndSession(ctx)

	var pending []stagedEvent
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		staged, err := s.applyBatch(sc, writes)
		if err != nil {
			return nil, err
		}
		pending = staged
		return nil, nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if stderrors.As(err, &appErr) {
			return appErr
		}
		return wrapMongoError(err, "batch write")
	}

	for _, ev := range pending {
		s.emit(ctx, ev.eventType, ev.doc, ev.old)
	}
	return nil
}

type stagedEvent struct {
	eventType model.EventType
	doc       *model.Document
	old       map[string]interface{}
}

func (s *DocumentStore) applyBatch(sc mongo.SessionContext, writes []model.WriteOperation) ([]stagedEvent, error) {
	now := time.Now()
	staged := make([]stagedEvent, 0, len(writes))

	for _, op := range writes {
		switch op.Type {
		case model.WriteTypeCreate:
			stored, err := s.newStoredDocument(op.Path, op.Data, now)
			if err != nil {
				return nil, err
			}
			if _, err := s.documents.InsertOne(sc, stored); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return nil, apperrors.NewConflictError("document already exists").WithDetail("path", op.Path)
				}
				return nil, wrapMongoError(err, op.Path)
			}
			staged = append(staged, stagedEvent{model.EventTypeCreated, stored.toModel(), nil})

		case model.WriteTypeUpdate:
			var before storedDocument
			err := s.documents.FindOneAndUpdate(sc, bson.M{"_id": op.Path}, buildUpdateDocument(op.Data, now),
				options.FindOneAndUpdate().SetReturnDocument(options.Before),
			).Decode(&before)
			if stderrors.Is(err, mongo.ErrNoDocuments) {
				return nil, apperrors.NewNotFoundError("document").WithDetail("path", op.Path)
			}
			if err != nil {
				return nil, wrapMongoError(err, op.Path)
			}
			oldData := normalizeData(before.Data)
			newData := model.CloneData(oldData)
			if newData == nil {
				newData = make(map[string]interface{})
			}
			model.MergeFields(newData, op.Data, now)
			doc := &model.Document{
				ID:        before.DocumentID,
				Path:      op.Path,
				Data:      newData,
				CreatedAt: before.CreatedAt,
				UpdatedAt: now,
			}
			staged = append(staged, stagedEvent{model.EventTypeUpdated, doc, oldData})

		case model.WriteTypeSet:
			stored, err := s.newStoredDocument(op.Path, op.Data, now)
			if err != nil {
				return nil, err
			}
			update := bson.M{
				"$set": bson.M{
					"collection": stored.Collection,
					"documentId": stored.DocumentID,
					"data":       stored.Data,
					"updatedAt":  now,
				},
				"$setOnInsert": bson.M{"createdAt": now},
			}
			var before storedDocument
			err = s.documents.FindOneAndUpdate(sc, bson.M{"_id": op.Path}, update,
				options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
			).Decode(&before)
			switch {
			case stderrors.Is(err, mongo.ErrNoDocuments):
				staged = append(staged, stagedEvent{model.EventTypeCreated, stored.toModel(), nil})
			case err != nil:
				return nil, wrapMongoError(err, op.Path)
			default:
				stored.CreatedAt = before.CreatedAt
				staged = append(staged, stagedEvent{model.EventTypeUpdated, stored.toModel(), normalizeData(before.Data)})
			}

		case model.WriteTypeDelete:
			var before storedDocument
			err := s.documents.FindOneAndDelete(sc, bson.M{"_id": op.Path}).Decode(&before)
			if stderrors.Is(err, mongo.ErrNoDocuments) {
				return nil, apperrors.NewNotFoundError("document").WithDetail("path", op.Path)
			}
			if err != nil {
				return nil, wrapMongoError(err, op.Path)
			}
			tombstone := &model.Document{ID: before.DocumentID, Path: op.Path}
			staged = append(staged, stagedEvent{model.EventTypeDeleted, tombstone, normalizeData(before.Data)})

		default:
			return nil, apperrors.NewValidationError("unsupported write type").WithDetail("type", string(op.Type))
		}
	}

	return staged, nil
}

func (s *DocumentStore) newStoredDocument(path string, data map[string]interface{}, now time.Time) (*storedDocument, error) {
	collection, err := model.CollectionOf(path)
	if err != nil {
		return nil, err
	}
	docID, err := model.DocumentIDOf(path)
	if err != nil {
		return nil, err
	}

	payload := model.CloneData(data)
	if payload == nil {
		payload = make(map[string]interface{})
	}
	model.ResolveServerTimestamps(payload, now)

	return &storedDocument{
		Path:       path,
		Collection: collection,
		DocumentID: docID,
		Data:       payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *DocumentStore) emit(ctx context.Context, eventType model.EventType, doc *model.Document, oldData map[string]interface{}) {
	if s.bus == nil {
		return
	}

	change := model.ChangeEvent{
		Type:       eventType,
		Collection: collectionOfPath(doc.Path),
		Path:       doc.Path,
		DocumentID: doc.ID,
		Data:       model.CloneData(doc.Data),
		OldData:    oldData,
		Timestamp:  time.Now(),
	}

	busType := eventbus.EventTypeDocumentCreated
	switch eventType {
	case model.EventTypeUpdated:
		busType = eventbus.EventTypeDocumentUpdated
	case model.EventTypeDeleted:
		busType = eventbus.EventTypeDocumentDeleted
	}

	if err := s.bus.Publish(ctx, eventbus.NewBasicEventWithSource(busType, change, "mongodb-store")); err != nil && s.logger != nil {
		s.logger.Errorf("Failed to publish change event for %s: %v", doc.Path, err)
	}
}

func collectionOfPath(path string) string {
	collection, err := model.CollectionOf(path)
	if err != nil {
		return ""
	}
	return collection
}

// wrapMongoError maps driver failures onto the shared taxonomy. Timeouts and
// connection drops become network errors so callers can distinguish a flaky
// link from a rejected operation.
func wrapMongoError(err error, subject string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return apperrors.NewNetworkError("mongodb unreachable").WithDetail("subject", subject).WithCause(err)
	}
	return apperrors.NewInternalError("mongodb operation failed").WithDetail("subject", subject).WithCause(err)
}
