package client

import (
	"context"

	"habitora-core/internal/marketplace/domain/model"
)

// IdentityClient resolves user identities from the external identity
// provider. Lookups may fail; callers that only need a display name must
// degrade to a placeholder instead of propagating the error.
type IdentityClient interface {
	// CurrentIdentity returns the identity of the authenticated caller,
	// derived from verified token claims carried in the context.
	CurrentIdentity(ctx context.Context) (*model.Identity, error)

	// Lookup fetches the identity of an arbitrary user by id.
	Lookup(ctx context.Context, userID string) (*model.Identity, error)
}
