package marketplace

import (
	docmodel "habitora-core/internal/docstore/domain/model"

	"habitora-core/internal/marketplace/domain/model"
)

// DefaultIndexes declares the composite indexes the marketplace queries
// depend on. The conversations inbox query (participants array-contains,
// updatedAt descending) has no declared index; inbox subscriptions fall back
// to client-side ordering until an operator declares one.
func DefaultIndexes() []docmodel.Index {
	return []docmodel.Index{
		{
			Collection: model.ServiceRequestsCollection,
			Fields: []docmodel.IndexField{
				{Path: "providerId", Direction: docmodel.Ascending},
				{Path: "createdAt", Direction: docmodel.Descending},
			},
		},
		{
			Collection: model.ServiceRequestsCollection,
			Fields: []docmodel.IndexField{
				{Path: "requesterId", Direction: docmodel.Ascending},
				{Path: "createdAt", Direction: docmodel.Descending},
			},
		},
		{
			Collection: model.NotificationsCollection,
			Fields: []docmodel.IndexField{
				{Path: "recipientId", Direction: docmodel.Ascending},
				{Path: "createdAt", Direction: docmodel.Descending},
			},
		},
	}
}
