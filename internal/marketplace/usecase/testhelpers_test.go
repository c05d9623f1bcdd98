package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"habitora-core/internal/docstore/adapter/persistence/memory"
	docmodel "habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	docusecase "habitora-core/internal/docstore/usecase"
	"habitora-core/internal/marketplace/domain/client"
	"habitora-core/internal/marketplace/domain/model"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"
)

// quietLogger implements logger.Logger and swallows everything.
type quietLogger struct{}

func (quietLogger) Debug(args ...interface{})                         {}
func (quietLogger) Info(args ...interface{})                          {}
func (quietLogger) Warn(args ...interface{})                          {}
func (quietLogger) Error(args ...interface{})                         {}
func (quietLogger) Fatal(args ...interface{})                         {}
func (quietLogger) Debugf(format string, args ...interface{})         {}
func (quietLogger) Infof(format string, args ...interface{})          {}
func (quietLogger) Warnf(format string, args ...interface{})          {}
func (quietLogger) Errorf(format string, args ...interface{})         {}
func (quietLogger) Fatalf(format string, args ...interface{})         {}
func (q quietLogger) WithFields(map[string]interface{}) logger.Logger { return q }
func (q quietLogger) WithContext(context.Context) logger.Logger       { return q }
func (q quietLogger) WithComponent(string) logger.Logger              { return q }

// fakeIdentityClient serves identities from a fixed map.
type fakeIdentityClient struct {
	mu         sync.Mutex
	identities map[string]*model.Identity
	current    *model.Identity
	failLookup bool
}

func newFakeIdentityClient(identities ...*model.Identity) *fakeIdentityClient {
	byID := make(map[string]*model.Identity, len(identities))
	for _, id := range identities {
		byID[id.ID] = id
	}
	return &fakeIdentityClient{identities: byID}
}

func (f *fakeIdentityClient) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, errors.NewAuthenticationError("no caller identity")
	}
	return f.current, nil
}

func (f *fakeIdentityClient) Lookup(ctx context.Context, userID string) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLookup {
		return nil, errors.NewNetworkError("identity directory unavailable")
	}
	identity, ok := f.identities[userID]
	if !ok {
		return nil, errors.NewNotFoundError("user")
	}
	return identity, nil
}

// dispatched is one recorded notification.
type dispatched struct {
	RecipientID string
	Title       string
	Message     string
	Type        model.NotificationType
	Link        string
}

// recordingDispatcher captures notifications instead of persisting them.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []dispatched
	err  error
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, recipientID, title, message string, notifType model.NotificationType, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, dispatched{
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Type:        notifType,
		Link:        link,
	})
	return nil
}

func (r *recordingDispatcher) all() []dispatched {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatched(nil), r.sent...)
}

// fakeMediaClient hosts uploads under a fake URL.
type fakeMediaClient struct {
	mu       sync.Mutex
	uploaded []string
	err      error
}

func (f *fakeMediaClient) Upload(ctx context.Context, upload client.MediaUpload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	url := "https://media.test/" + upload.Name
	f.uploaded = append(f.uploaded, url)
	return url, nil
}

// scriptedStore overrides selected DocumentStore calls for failure injection.
type scriptedStore struct {
	repository.DocumentStore
	batchFn func(ctx context.Context, writes []docmodel.WriteOperation) error
}

func (s *scriptedStore) RunBatchWrite(ctx context.Context, writes []docmodel.WriteOperation) error {
	if s.batchFn != nil {
		return s.batchFn(ctx, writes)
	}
	return s.DocumentStore.RunBatchWrite(ctx, writes)
}

// marketplaceHarness wires the real memory store, feed hub and live query
// layer under the marketplace usecases, the way the DI container does.
type marketplaceHarness struct {
	registry      *docmodel.IndexRegistry
	store         *memory.MemoryStore
	hub           *docusecase.ChangeFeedHub
	live          docusecase.LiveQueryUsecase
	identity      *fakeIdentityClient
	dispatcher    *recordingDispatcher
	media         *fakeMediaClient
	conversations ConversationUsecase
	workflow      WorkflowUsecase
	notifications NotificationUsecase
}

func newMarketplaceHarness(t *testing.T, indexes ...docmodel.Index) *marketplaceHarness {
	t.Helper()

	registry := docmodel.NewIndexRegistry()
	for _, idx := range indexes {
		registry.Define(idx)
	}

	bus := eventbus.NewEventBus(nil)
	store := memory.NewMemoryStore(registry, bus, nil)
	hub := docusecase.NewChangeFeedHub(quietLogger{})
	hub.AttachToBus(bus)
	live := docusecase.NewLiveQueryUsecase(store, hub, quietLogger{})

	identity := newFakeIdentityClient(
		&model.Identity{ID: "alice", DisplayName: "Alice", Email: "alice@test", Role: "requester"},
		&model.Identity{ID: "bob", DisplayName: "Bob", Email: "bob@test", Role: "provider"},
		&model.Identity{ID: "carol", DisplayName: "Carol", Email: "carol@test", Role: "provider"},
	)
	dispatcher := &recordingDispatcher{}
	media := &fakeMediaClient{}

	return &marketplaceHarness{
		registry:      registry,
		store:         store,
		hub:           hub,
		live:          live,
		identity:      identity,
		dispatcher:    dispatcher,
		media:         media,
		conversations: NewConversationUsecase(store, live, identity, quietLogger{}),
		workflow:      NewWorkflowUsecase(store, live, media, dispatcher, identity, quietLogger{}),
		notifications: NewNotificationUsecase(store, live, identity, quietLogger{}),
	}
}

// workflowWith rebuilds the workflow usecase over a different store, keeping
// the rest of the harness wiring.
func (h *marketplaceHarness) workflowWith(store repository.DocumentStore) WorkflowUsecase {
	return NewWorkflowUsecase(store, h.live, h.media, h.dispatcher, h.identity, quietLogger{})
}

// submitFixture creates a pending construction request from alice with bob
// assigned as provider.
func (h *marketplaceHarness) submitFixture(t *testing.T, category model.RequestCategory) *model.ServiceRequest {
	t.Helper()
	req, err := h.workflow.Submit(context.Background(), SubmitRequest{
		RequesterID: "alice",
		ProviderID:  "bob",
		Category:    category,
		Title:       "Garage extension",
		Description: "two-car garage",
		Budget:      15000,
	})
	require.NoError(t, err)
	return req
}

// count returns the number of documents in one collection.
func (h *marketplaceHarness) count(t *testing.T, collection string) int {
	t.Helper()
	docs, err := h.store.Query(context.Background(), docmodel.Query{Collection: collection})
	require.NoError(t, err)
	return len(docs)
}

func (h *marketplaceHarness) historyLen(t *testing.T, requestID string) int {
	t.Helper()
	entries, err := h.workflow.History(context.Background(), requestID)
	require.NoError(t, err)
	return len(entries)
}

func (h *marketplaceHarness) requestStatus(t *testing.T, requestID string) model.RequestStatus {
	t.Helper()
	doc, err := h.store.Get(context.Background(), model.ServiceRequestPath(requestID))
	require.NoError(t, err)
	return model.ServiceRequestFromDocument(doc).Status
}

func waitSnapshot(t *testing.T, sub *docusecase.Subscription) docmodel.Snapshot {
	t.Helper()
	select {
	case snapshot, ok := <-sub.Snapshots():
		require.True(t, ok, "snapshot channel closed unexpectedly")
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
		return docmodel.Snapshot{}
	}
}

// waitSnapshotWhere keeps reading until the predicate holds; snapshots
// supersede each other, so skipping intermediates is safe.
func waitSnapshotWhere(t *testing.T, sub *docusecase.Subscription, pred func(docmodel.Snapshot) bool) docmodel.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot, ok := <-sub.Snapshots():
			require.True(t, ok, "snapshot channel closed unexpectedly")
			if pred(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatal("timeout waiting for matching snapshot")
			return docmodel.Snapshot{}
		}
	}
}

func snapshotField(snapshot docmodel.Snapshot, field string) []string {
	values := make([]string, 0, len(snapshot.Documents))
	for _, doc := range snapshot.Documents {
		value, _ := doc.Data[field].(string)
		values = append(values, value)
	}
	return values
}

func uniqueTitle(i int) string {
	return fmt.Sprintf("job-%02d", i)
}
