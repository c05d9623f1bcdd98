package security

import (
	"context"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	apperrors "habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"
)

// GuardedStore enforces access rules in front of any DocumentStore. The
// principal travels in the context; operations without one evaluate as
// unauthenticated. Denials publish a rule violation event for auditing and
// surface as permission denied errors, which callers treat as terminal.
type GuardedStore struct {
	inner  repository.DocumentStore
	access repository.AccessController
	bus    eventbus.EventBusInterface
	log    logger.Logger
}

func NewGuardedStore(inner repository.DocumentStore, access repository.AccessController, bus eventbus.EventBusInterface, log logger.Logger) *GuardedStore {
	return &GuardedStore{
		inner:  inner,
		access: access,
		bus:    bus,
		log:    log,
	}
}

var _ repository.DocumentStore = (*GuardedStore)(nil)

func (g *GuardedStore) Get(ctx context.Context, path string) (*model.Document, error) {
	doc, err := g.inner.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := g.authorize(ctx, repository.OperationRead, path, doc.Data, nil); err != nil {
		return nil, err
	}
	return doc, nil
}

func (g *GuardedStore) Create(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	if err := g.authorize(ctx, repository.OperationCreate, path, nil, data); err != nil {
		return nil, err
	}
	return g.inner.Create(ctx, path, data)
}

func (g *GuardedStore) CreateIfAbsent(ctx context.Context, path string, data map[string]interface{}) (*model.Document, bool, error) {
	if err := g.authorize(ctx, repository.OperationCreate, path, nil, data); err != nil {
		return nil, false, err
	}
	return g.inner.CreateIfAbsent(ctx, path, data)
}

func (g *GuardedStore) Set(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	if err := g.authorize(ctx, repository.OperationUpdate, path, g.currentData(ctx, path), data); err != nil {
		return nil, err
	}
	return g.inner.Set(ctx, path, data)
}

func (g *GuardedStore) Update(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error) {
	if err := g.authorize(ctx, repository.OperationUpdate, path, g.currentData(ctx, path), data); err != nil {
		return nil, err
	}
	return g.inner.Update(ctx, path, data)
}

func (g *GuardedStore) Delete(ctx context.Context, path string) error {
	if err := g.authorize(ctx, repository.OperationDelete, path, g.currentData(ctx, path), nil); err != nil {
		return err
	}
	return g.inner.Delete(ctx, path)
}

// Query authorizes the list operation against the collection path. List
// rules decide from auth and path alone; they never see result documents,
// so per-document conditions belong on read rules.
func (g *GuardedStore) Query(ctx context.Context, query model.Query) ([]*model.Document, error) {
	if err := g.authorize(ctx, repository.OperationList, query.Collection, nil, nil); err != nil {
		return nil, err
	}
	return g.inner.Query(ctx, query)
}

func (g *GuardedStore) RunBatchWrite(ctx context.Context, writes []model.WriteOperation) error {
	for _, op := range writes {
		var opType repository.OperationType
		var resource, newData map[string]interface{}

		switch op.Type {
		case model.WriteTypeCreate:
			opType = repository.OperationCreate
			newData = op.Data
		case model.WriteTypeUpdate, model.WriteTypeSet:
			opType = repository.OperationUpdate
			resource = g.currentData(ctx, op.Path)
			newData = op.Data
		case model.WriteTypeDelete:
			opType = repository.OperationDelete
			resource = g.currentData(ctx, op.Path)
		default:
			return apperrors.NewValidationError("unsupported write type").WithDetail("type", string(op.Type))
		}

		if err := g.authorize(ctx, opType, op.Path, resource, newData); err != nil {
			return err
		}
	}
	return g.inner.RunBatchWrite(ctx, writes)
}

func (g *GuardedStore) authorize(ctx context.Context, op repository.OperationType, path string, resource, newData map[string]interface{}) error {
	principal, _ := repository.PrincipalFromContext(ctx)

	err := g.access.Authorize(ctx, repository.AccessRequest{
		Principal: principal,
		Operation: op,
		Path:      path,
		Resource:  resource,
		NewData:   newData,
	})
	if err == nil {
		return nil
	}

	if apperrors.IsPermissionDenied(err) {
		g.reportViolation(ctx, op, path, principal)
	}
	return err
}

func (g *GuardedStore) reportViolation(ctx context.Context, op repository.OperationType, path string, principal *model.Principal) {
	uid := ""
	if principal != nil {
		uid = principal.UID
	}
	g.log.Warnf("Access denied: %s on %s (uid=%q)", op, path, uid)

	if g.bus == nil {
		return
	}
	g.bus.PublishAndForget(ctx, eventbus.NewBasicEventWithSource(eventbus.EventTypeRuleViolation, map[string]interface{}{
		"operation": string(op),
		"path":      path,
		"uid":       uid,
	}, "guarded-store"))
}

// currentData fetches the pre-image for update and delete authorization so
// conditions can reference resource fields. Absent documents evaluate with a
// nil resource; the inner store reports not found afterwards.
func (g *GuardedStore) currentData(ctx context.Context, path string) map[string]interface{} {
	doc, err := g.inner.Get(ctx, path)
	if err != nil {
		return nil
	}
	return doc.Data
}
