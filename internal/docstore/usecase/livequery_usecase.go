package usecase

import (
	"context"
	"sync"
	"time"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"

	"github.com/google/uuid"
)

// SubscriptionMode reports which read path currently feeds a subscription.
type SubscriptionMode string

const (
	// ModeIndexed means the store serves the ordered query directly.
	ModeIndexed SubscriptionMode = "indexed"
	// ModeFallback means the store rejected the ordered query for lack of a
	// composite index; the subscription reads filter-only and re-imposes
	// the order client-side. Once entered, fallback is permanent for the
	// lifetime of the subscription.
	ModeFallback SubscriptionMode = "fallback"
)

const defaultSnapshotBuffer = 8

// eventBuffer sizes the listener channel between the change feed and the
// pump. The feed drops events for a listener whose buffer is full, so this
// has to absorb bursts while a consumer digests a snapshot.
const eventBuffer = 256

// SubscribeRequest describes a live query subscription.
type SubscribeRequest struct {
	Query model.Query

	// Principal is forwarded to the store for access rule evaluation.
	Principal *model.Principal

	// SnapshotBuffer overrides the snapshot channel buffer when positive.
	SnapshotBuffer int
}

// LiveQueryUsecase manages degradation-aware live query subscriptions. Every
// list and detail view in the application reads through here.
type LiveQueryUsecase interface {
	// Subscribe issues the initial read and begins streaming snapshots.
	// A missing composite index degrades the subscription to fallback mode
	// transparently; a permission denial is terminal and returned
	// directly, never retried.
	Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error)
}

type liveQueryUsecase struct {
	store repository.DocumentStore
	feed  repository.ChangeFeed
	log   logger.Logger
}

// NewLiveQueryUsecase creates the subscription manager. The store is expected
// to enforce access rules; the feed delivers committed changes.
func NewLiveQueryUsecase(store repository.DocumentStore, feed repository.ChangeFeed, log logger.Logger) LiveQueryUsecase {
	return &liveQueryUsecase{
		store: store,
		feed:  feed,
		log:   log.WithComponent("livequery"),
	}
}

// Subscribe implements LiveQueryUsecase.
func (uc *liveQueryUsecase) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	query := req.Query
	if err := query.Validate(); err != nil {
		return nil, err
	}

	buffer := req.SnapshotBuffer
	if buffer <= 0 {
		buffer = defaultSnapshotBuffer
	}

	sub := &Subscription{
		id:         uuid.New().String(),
		query:      query,
		collection: query.Collection,
		snapshots:  make(chan model.Snapshot, buffer),
		events:     make(chan model.ChangeEvent, eventBuffer),
		done:       make(chan struct{}),
		feed:       uc.feed,
		mode:       ModeIndexed,
		log:        uc.log,
	}

	if req.Principal != nil {
		ctx = repository.ContextWithPrincipal(ctx, req.Principal)
	}

	// Attach the listener before the initial read so changes committed in
	// between are not lost; the pump applies them idempotently on top of
	// the read.
	sub.attach(sub.id + "/primary")

	// Limits are applied at emission so that later removals can reveal
	// documents beyond the original window.
	initial := query
	initial.Limit = 0

	docs, err := uc.store.Query(ctx, initial)
	if err != nil {
		switch {
		case errors.IsIndexMissing(err):
			docs, err = uc.degrade(ctx, sub, initial, err)
			if err != nil {
				sub.detachAll()
				return nil, err
			}
		case errors.IsNotFound(err):
			// Absent collections are a normal empty state
			docs = nil
		default:
			// Permission denials are terminal; network failures surface
			// for the caller to re-invoke manually
			sub.detachAll()
			return nil, err
		}
	}

	go sub.run(docs)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Release()
			case <-sub.done:
			}
		}()
	}

	return sub, nil
}

// degrade switches a freshly rejected subscription to fallback mode: primary
// delivery is torn down wholesale, a fallback listener takes its place, and
// the result set is rebuilt from a filter-only read.
func (uc *liveQueryUsecase) degrade(ctx context.Context, sub *Subscription, query model.Query, cause error) ([]*model.Document, error) {
	uc.log.WithFields(map[string]interface{}{
		"collection": query.Collection,
		"order_by":   query.OrderFields(),
	}).Warnf("Composite index missing, degrading subscription %s to client-side ordering: %v", sub.id, cause)

	sub.detach(sub.id + "/primary")
	sub.drainEvents()
	sub.attach(sub.id + "/fallback")

	docs, err := uc.store.Query(ctx, query.WithoutOrders())
	if err != nil {
		return nil, err
	}

	sub.setMode(ModeFallback)
	return docs, nil
}

// Subscription is a caller-owned handle on one live query. Snapshots arrive
// on Snapshots() in order, each superseding the last. Release detaches every
// listener the subscription ever registered, the fallback one included, and
// closes the snapshot channel.
type Subscription struct {
	id         string
	query      model.Query
	collection string

	snapshots chan model.Snapshot
	events    chan model.ChangeEvent
	done      chan struct{}

	feed repository.ChangeFeed
	log  logger.Logger

	mu          sync.RWMutex
	mode        SubscriptionMode
	listenerIDs []string

	releaseOnce sync.Once
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Snapshots returns the ordered snapshot stream. The channel closes after
// Release.
func (s *Subscription) Snapshots() <-chan model.Snapshot {
	return s.snapshots
}

// Mode reports the current read path. Diagnostic only: the snapshot stream
// is identical in both modes apart from latency.
func (s *Subscription) Mode() SubscriptionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Release detaches all listeners and stops the snapshot stream. Idempotent.
func (s *Subscription) Release() {
	s.releaseOnce.Do(func() {
		s.detachAll()
		close(s.done)
	})
}

func (s *Subscription) attach(listenerID string) {
	s.mu.Lock()
	s.listenerIDs = append(s.listenerIDs, listenerID)
	s.mu.Unlock()
	s.feed.Register(s.collection, listenerID, s.events)
}

func (s *Subscription) detach(listenerID string) {
	s.feed.Unregister(s.collection, listenerID)
}

func (s *Subscription) detachAll() {
	s.mu.RLock()
	ids := append([]string(nil), s.listenerIDs...)
	s.mu.RUnlock()
	for _, id := range ids {
		s.feed.Unregister(s.collection, id)
	}
}

func (s *Subscription) drainEvents() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

func (s *Subscription) setMode(mode SubscriptionMode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// run maintains the materialized result set and emits a superseding snapshot
// after the initial read and after every effective change.
func (s *Subscription) run(initial []*model.Document) {
	defer close(s.snapshots)

	results := make(map[string]*model.Document, len(initial))
	for _, doc := range initial {
		results[doc.Path] = doc
	}

	if !s.emit(results) {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case event := <-s.events:
			if s.apply(results, event) {
				if !s.emit(results) {
					return
				}
			}
		}
	}
}

// apply folds one change event into the result set and reports whether the
// set changed. Updates that move a document outside the filter window remove
// it; matching creates and updates upsert.
func (s *Subscription) apply(results map[string]*model.Document, event model.ChangeEvent) bool {
	if event.Type == model.EventTypeDeleted {
		if _, ok := results[event.Path]; ok {
			delete(results, event.Path)
			return true
		}
		return false
	}

	if s.query.Matches(event.Data) {
		results[event.Path] = &model.Document{
			ID:        event.DocumentID,
			Path:      event.Path,
			Data:      event.Data,
			UpdatedAt: event.Timestamp,
		}
		return true
	}

	if _, ok := results[event.Path]; ok {
		delete(results, event.Path)
		return true
	}
	return false
}

// emit orders the current result set and delivers it. The order clauses are
// applied through the same comparator in both modes, which is what makes a
// degraded subscription behaviorally identical to an indexed one.
func (s *Subscription) emit(results map[string]*model.Document) bool {
	docs := make([]*model.Document, 0, len(results))
	for _, doc := range results {
		docs = append(docs, doc)
	}
	model.SortDocuments(docs, s.query.Orders)
	if s.query.Limit > 0 && len(docs) > s.query.Limit {
		docs = docs[:s.query.Limit]
	}

	snapshot := model.Snapshot{
		Collection: s.collection,
		Documents:  docs,
		At:         time.Now(),
	}

	select {
	case s.snapshots <- snapshot:
		return true
	case <-s.done:
		return false
	}
}
