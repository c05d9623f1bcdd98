package model

import (
	docmodel "habitora-core/internal/docstore/domain/model"
)

// UsersCollection is the identity directory backing. Profiles are written by
// the external identity provider; this module only reads them.
const UsersCollection = "users"

// UserPath returns the document path of a user profile.
func UserPath(userID string) string {
	return UsersCollection + "/" + userID
}

// Identity is a user profile as seen by the marketplace: enough to snapshot
// participant details and authorize workflow actions.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// Detail converts an identity into the snapshot stored on a conversation.
func (i *Identity) Detail() ParticipantDetail {
	return ParticipantDetail{Name: i.DisplayName, Role: i.Role}
}

// Principal converts an identity into the store-layer principal used for
// access rule evaluation.
func (i *Identity) Principal() *docmodel.Principal {
	return &docmodel.Principal{UID: i.ID, Email: i.Email, Role: i.Role}
}

// IdentityFromDocument maps a user profile document onto the model.
func IdentityFromDocument(doc *docmodel.Document) *Identity {
	if doc == nil {
		return nil
	}
	return &Identity{
		ID:          doc.ID,
		DisplayName: stringField(doc.Data, "displayName"),
		Email:       stringField(doc.Data, "email"),
		Role:        stringField(doc.Data, "role"),
	}
}
