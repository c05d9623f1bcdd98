package usecase

import (
	"context"
	"testing"
	"time"

	"habitora-core/internal/docstore/adapter/persistence/memory"
	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"

	"github.com/stretchr/testify/require"
)

// quietLogger implements logger.Logger and swallows everything.
type quietLogger struct{}

func (quietLogger) Debug(args ...interface{})                             {}
func (quietLogger) Info(args ...interface{})                              {}
func (quietLogger) Warn(args ...interface{})                              {}
func (quietLogger) Error(args ...interface{})                             {}
func (quietLogger) Fatal(args ...interface{})                             {}
func (quietLogger) Debugf(format string, args ...interface{})             {}
func (quietLogger) Infof(format string, args ...interface{})              {}
func (quietLogger) Warnf(format string, args ...interface{})              {}
func (quietLogger) Errorf(format string, args ...interface{})             {}
func (quietLogger) Fatalf(format string, args ...interface{})             {}
func (q quietLogger) WithFields(map[string]interface{}) logger.Logger     { return q }
func (q quietLogger) WithContext(context.Context) logger.Logger           { return q }
func (q quietLogger) WithComponent(string) logger.Logger                  { return q }

// liveQueryHarness wires a real memory store, event bus and feed hub the way
// the DI container does.
type liveQueryHarness struct {
	registry *model.IndexRegistry
	store    *memory.MemoryStore
	hub      *ChangeFeedHub
	lq       LiveQueryUsecase
}

func newLiveQueryHarness(t *testing.T, indexes ...model.Index) *liveQueryHarness {
	t.Helper()

	registry := model.NewIndexRegistry()
	for _, idx := range indexes {
		registry.Define(idx)
	}

	bus := eventbus.NewEventBus(nil)
	store := memory.NewMemoryStore(registry, bus, nil)
	hub := NewChangeFeedHub(quietLogger{})
	hub.AttachToBus(bus)

	return &liveQueryHarness{
		registry: registry,
		store:    store,
		hub:      hub,
		lq:       NewLiveQueryUsecase(store, hub, quietLogger{}),
	}
}

// scriptedStore overrides selected DocumentStore calls for failure injection.
type scriptedStore struct {
	repository.DocumentStore
	queryFn func(ctx context.Context, query model.Query) ([]*model.Document, error)
}

func (s *scriptedStore) Query(ctx context.Context, query model.Query) ([]*model.Document, error) {
	if s.queryFn != nil {
		return s.queryFn(ctx, query)
	}
	return s.DocumentStore.Query(ctx, query)
}

func waitSnapshot(t *testing.T, sub *Subscription) model.Snapshot {
	t.Helper()
	select {
	case snapshot, ok := <-sub.Snapshots():
		require.True(t, ok, "snapshot channel closed unexpectedly")
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
		return model.Snapshot{}
	}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Snapshots():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for snapshot channel to close")
		}
	}
}

func snapshotIDs(snapshot model.Snapshot) []string {
	ids := make([]string, 0, len(snapshot.Documents))
	for _, doc := range snapshot.Documents {
		ids = append(ids, doc.ID)
	}
	return ids
}
