package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"
)

// MemoryStore implements the DocumentStore port in process memory. It is the
// managed-backend stand-in for tests and local development and must behave
// exactly like the MongoDB adapter: conditional creates are atomic, batches
// are all-or-nothing, ordered queries require a declared composite index, and
// every committed write publishes a change event.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]*model.Document
	registry *model.IndexRegistry
	bus      eventbus.EventBusInterface
	logger   logger.Logger
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(registry *model.IndexRegistry, bus eventbus.EventBusInterface, log logger.Logger) *MemoryStore {
	if registry == nil {
		registry = model.NewIndexRegistry()
	}
	return &MemoryStore{
		docs:     make(map[string]*model.Document),
		registry: registry,
		bus:      bus,
		logger:   log,
	}
}

var _ repository.DocumentStore = (*MemoryStore)(nil)

// Get retrieves a document by path.
func (s *MemoryStore) Get(ctx context.Context, path string) (*model.Document, error) {
	if err := model.ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	doc, ok := s.docs[path]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.NewNotFoundError("document").WithDetail("path", path)
	}
	return doc.Clone(), nil
}

// Create persists a new document, failing on conflict.
func (s *MemoryStore) Create(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	doc, created, err := s.CreateIfAbsent(ctx, path, data)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, errors.NewConflictError("document already exists").WithDetail("path", path)
	}
	return doc, nil
}

// CreateIfAbsent atomically creates the document unless it already exists.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, path string, data map[string]interface{}) (*model.Document, bool, error) {
	if err := model.ValidateDocumentPath(path); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	if existing, ok := s.docs[path]; ok {
		s.mu.Unlock()
		return existing.Clone(), false, nil
	}

	doc := s.buildDocument(path, data, time.Now())
	s.docs[path] = doc
	s.mu.Unlock()

	s.emit(ctx, model.EventTypeCreated, doc, nil)
	return doc.Clone(), true, nil
}

// Set creates or fully overwrites a document.
func (s *MemoryStore) Set(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	if err := model.ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	now := time.Now()

	s.mu.Lock()
	previous, existed := s.docs[path]
	doc := s.buildDocument(path, data, now)
	if existed {
		doc.CreatedAt = previous.CreatedAt
	}
	s.docs[path] = doc
	s.mu.Unlock()

	if existed {
		s.emit(ctx, model.EventTypeUpdated, doc, previous.Data)
	} else {
		s.emit(ctx, model.EventTypeCreated, doc, nil)
	}
	return doc.Clone(), nil
}

// Update merges fields into an existing document. Dotted keys address nested
// fields, so {"unreadFor.u1": false} touches only that entry.
func (s *MemoryStore) Update(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	if err := model.ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	existing, ok := s.docs[path]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NewNotFoundError("document").WithDetail("path", path)
	}

	now := time.Now()
	updated := existing.Clone()
	model.MergeFields(updated.Data, data, now)
	updated.UpdatedAt = now
	s.docs[path] = updated
	s.mu.Unlock()

	s.emit(ctx, model.EventTypeUpdated, updated, existing.Data)
	return updated.Clone(), nil
}

// Delete removes a document.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := model.ValidateDocumentPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.docs[path]
	if !ok {
		s.mu.Unlock()
		return errors.NewNotFoundError("document").WithDetail("path", path)
	}
	delete(s.docs, path)
	s.mu.Unlock()

	tombstone := &model.Document{ID: existing.ID, Path: existing.Path}
	s.emit(ctx, model.EventTypeDeleted, tombstone, existing.Data)
	return nil
}

// Query executes a filtered, optionally ordered read.
func (s *MemoryStore) Query(ctx context.Context, query model.Query) ([]*model.Document, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	if missing, ok := s.registry.CheckQuery(query); !ok {
		return nil, errors.NewIndexMissingError(query.Collection, model.SignatureFields(missing))
	}

	s.mu.RLock()
	var matches []*model.Document
	for path, doc := range s.docs {
		if collectionOfPath(path) != query.Collection {
			continue
		}
		if query.Matches(doc.Data) {
			matches = append(matches, doc.Clone())
		}
	}
	s.mu.RUnlock()

	// Without explicit orders documents come back in ID order, matching the
	// managed store's default name ordering.
	model.SortDocuments(matches, query.Orders)

	if query.Limit > 0 && len(matches) > query.Limit {
		matches = matches[:query.Limit]
	}
	return matches, nil
}

// RunBatchWrite commits every operation atomically under one lock. The batch
// is validated against a staging view first; nothing is visible and no event
// fires unless every operation succeeds.
func (s *MemoryStore) RunBatchWrite(ctx context.Context, writes []model.WriteOperation) error {
	if len(writes) == 0 {
		return errors.NewValidationError("batch cannot be empty")
	}

	now := time.Now()

	s.mu.Lock()

	type staged struct {
		event model.EventType
		doc   *model.Document
		old   map[string]interface{}
	}
	stagedDocs := make(map[string]*model.Document, len(writes))
	stagedDeletes := make(map[string]bool)
	results := make([]staged, 0, len(writes))

	lookup := func(path string) (*model.Document, bool) {
		if stagedDeletes[path] {
			return nil, false
		}
		if doc, ok := stagedDocs[path]; ok {
			return doc, true
		}
		doc, ok := s.docs[path]
		return doc, ok
	}

	for _, op := range writes {
		if err := model.ValidateDocumentPath(op.Path); err != nil {
			s.mu.Unlock()
			return errors.NewValidationError("invalid batch operation path").
				WithDetail("path", op.Path).WithCause(err)
		}

		switch op.Type {
		case model.WriteTypeCreate:
			if _, exists := lookup(op.Path); exists {
				s.mu.Unlock()
				return errors.NewConflictError("batch create on existing document").WithDetail("path", op.Path)
			}
			doc := s.buildDocument(op.Path, op.Data, now)
			stagedDocs[op.Path] = doc
			delete(stagedDeletes, op.Path)
			results = append(results, staged{event: model.EventTypeCreated, doc: doc})

		case model.WriteTypeUpdate:
			existing, exists := lookup(op.Path)
			if !exists {
				s.mu.Unlock()
				return errors.NewNotFoundError("document").WithDetail("path", op.Path)
			}
			updated := existing.Clone()
			model.MergeFields(updated.Data, op.Data, now)
			updated.UpdatedAt = now
			stagedDocs[op.Path] = updated
			results = append(results, staged{event: model.EventTypeUpdated, doc: updated, old: existing.Data})

		case model.WriteTypeSet:
			previous, existed := lookup(op.Path)
			doc := s.buildDocument(op.Path, op.Data, now)
			eventType := model.EventTypeCreated
			var old map[string]interface{}
			if existed {
				doc.CreatedAt = previous.CreatedAt
				eventType = model.EventTypeUpdated
				old = previous.Data
			}
			stagedDocs[op.Path] = doc
			delete(stagedDeletes, op.Path)
			results = append(results, staged{event: eventType, doc: doc, old: old})

		case model.WriteTypeDelete:
			existing, exists := lookup(op.Path)
			if !exists {
				s.mu.Unlock()
				return errors.NewNotFoundError("document").WithDetail("path", op.Path)
			}
			stagedDeletes[op.Path] = true
			delete(stagedDocs, op.Path)
			tombstone := &model.Document{ID: existing.ID, Path: existing.Path}
			results = append(results, staged{event: model.EventTypeDeleted, doc: tombstone, old: existing.Data})

		default:
			s.mu.Unlock()
			return errors.NewValidationError("unsupported batch operation type").
				WithDetail("type", string(op.Type))
		}
	}

	// Commit the staging view
	for path, doc := range stagedDocs {
		s.docs[path] = doc
	}
	for path := range stagedDeletes {
		delete(s.docs, path)
	}
	s.mu.Unlock()

	for _, r := range results {
		s.emit(ctx, r.event, r.doc, r.old)
	}
	return nil
}

// Len returns the number of stored documents, for tests and health checks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) buildDocument(path string, data map[string]interface{}, now time.Time) *model.Document {
	id, _ := model.DocumentIDOf(path)
	payload := cloneForWrite(data)
	model.ResolveServerTimestamps(payload, now)
	return &model.Document{
		ID:        id,
		Path:      path,
		Data:      payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *MemoryStore) emit(ctx context.Context, eventType model.EventType, doc *model.Document, oldData map[string]interface{}) {
	if s.bus == nil {
		return
	}

	change := model.ChangeEvent{
		Type:       eventType,
		Collection: collectionOfPath(doc.Path),
		Path:       doc.Path,
		DocumentID: doc.ID,
		Data:       doc.Clone().Data,
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

	if err := s.bus.Publish(ctx, eventbus.NewBasicEventWithSource(busType, change, "memory-store")); err != nil && s.logger != nil {
		s.logger.Errorf("Failed to publish change event for %s: %v", doc.Path, err)
	}
}

func collectionOfPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[:idx]
}

func cloneForWrite(data map[string]interface{}) map[string]interface{} {
	cloned := model.CloneData(data)
	if cloned == nil {
		cloned = make(map[string]interface{})
	}
	return cloned
}

