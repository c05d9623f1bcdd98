package repository

import (
	"context"

	"habitora-core/internal/docstore/domain/model"
)

// OperationType defines the type of operation being performed
type OperationType string

const (
	OperationRead   OperationType = "read"
	OperationList   OperationType = "list"
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// AccessRequest carries everything a rule needs to decide an operation.
type AccessRequest struct {
	// Principal is the caller; nil means unauthenticated.
	Principal *model.Principal `json:"principal,omitempty"`

	// Operation being attempted.
	Operation OperationType `json:"operation"`

	// Path of the document or collection being accessed.
	Path string `json:"path"`

	// Resource is the current document data, when one exists.
	Resource map[string]interface{} `json:"resource,omitempty"`

	// NewData is the incoming data for create and update operations.
	NewData map[string]interface{} `json:"newData,omitempty"`
}

// AccessController evaluates access rules. A nil error means the operation
// is allowed; denials surface as permission denied errors and are terminal
// for the caller, never retried.
type AccessController interface {
	Authorize(ctx context.Context, req AccessRequest) error
}

type principalKeyType struct{}

var principalKey principalKeyType

// ContextWithPrincipal attaches the caller to the context for rule-enforcing
// stores to pick up.
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext extracts the caller, if one was attached.
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(*model.Principal)
	return principal, ok && principal != nil
}
