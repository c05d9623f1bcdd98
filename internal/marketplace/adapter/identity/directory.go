package identity

import (
	"context"

	"go.uber.org/zap"

	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/marketplace/domain/model"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"
	"habitora-core/internal/shared/utils"
)

// Directory resolves identities from the users collection. The collection is
// written by the identity provider; this module only reads it.
type Directory struct {
	store repository.DocumentStore
	log   logger.Logger
}

// NewDirectory creates a document store backed identity directory.
func NewDirectory(store repository.DocumentStore, log logger.Logger) *Directory {
	return &Directory{
		store: store,
		log:   log.WithComponent("identity_directory"),
	}
}

// Lookup fetches the profile document for the given user.
func (d *Directory) Lookup(ctx context.Context, userID string) (*model.Identity, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user ID cannot be empty")
	}

	doc, err := d.store.Get(ctx, model.UserPath(userID))
	if err != nil {
		return nil, err
	}
	return model.IdentityFromDocument(doc), nil
}

// CurrentIdentity resolves the authenticated caller from the request context.
// When the profile document is missing the verified claims still describe the
// caller, so the directory degrades to a claims-only identity instead of
// failing the request.
func (d *Directory) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		return nil, errors.NewAuthenticationError("no authenticated user in context")
	}

	identity, err := d.Lookup(ctx, userID)
	if err == nil {
		return identity, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	d.log.Debug("Profile document missing, using token claims",
		zap.String("userID", userID))

	fallback := &model.Identity{ID: userID, DisplayName: model.PlaceholderDisplayName}
	if email, err := utils.GetUserEmailFromContext(ctx); err == nil {
		fallback.Email = email
	}
	if role, err := utils.GetUserRoleFromContext(ctx); err == nil {
		fallback.Role = role
	}
	return fallback, nil
}
