package marketplace

import (
	"habitora-core/internal/docstore/adapter/security"
	"habitora-core/internal/docstore/domain/repository"
)

// AccessRules declares who may touch which marketplace collection. The
// usecases enforce the domain invariants; these rules are the store-level
// floor underneath them: a caller reaching the store directly still cannot
// read someone else's notifications or rewrite a foreign conversation.
//
// Conditions tolerate a missing pre-image (resource != null) because update
// and delete rules evaluate before the write reaches the store.
func AccessRules() []security.AccessRule {
	authenticated := "auth != null"

	return []security.AccessRule{
		{
			Match:       "users/{userId}",
			Description: "profiles readable by any signed-in user, writable only by their owner",
			Allow: map[repository.OperationType]string{
				repository.OperationRead:   authenticated,
				repository.OperationCreate: "auth != null && auth.uid == variables.userId",
				repository.OperationUpdate: "auth != null && auth.uid == variables.userId",
				repository.OperationDelete: "auth != null && auth.uid == variables.userId",
			},
		},
		{
			Match:       "conversations/{conversationId}",
			Description: "conversations visible and writable only to their participants",
			Allow: map[repository.OperationType]string{
				repository.OperationCreate: "auth != null && auth.uid in request.participants",
				repository.OperationRead:   "auth != null && resource != null && auth.uid in resource.participants",
				repository.OperationUpdate: "auth != null && resource != null && auth.uid in resource.participants",
			},
		},
		{
			Match: "conversations",
			Allow: map[repository.OperationType]string{
				repository.OperationList: authenticated,
			},
		},
		{
			Match:       "conversations/{conversationId}/messages/{messageId}",
			Description: "messages written under the sender's own identity",
			Allow: map[repository.OperationType]string{
				repository.OperationCreate: "auth != null && request.senderId == auth.uid",
				repository.OperationRead:   authenticated,
			},
		},
		{
			Match: "conversations/{conversationId}/messages",
			Allow: map[repository.OperationType]string{
				repository.OperationList: authenticated,
			},
		},
		{
			Match:       "serviceRequests/{requestId}",
			Description: "requests visible and writable only to requester and provider",
			Allow: map[repository.OperationType]string{
				repository.OperationCreate: "auth != null && request.requesterId == auth.uid",
				repository.OperationRead:   "auth != null && resource != null && (auth.uid == resource.requesterId || auth.uid == resource.providerId)",
				repository.OperationUpdate: "auth != null && resource != null && (auth.uid == resource.requesterId || auth.uid == resource.providerId)",
			},
		},
		{
			Match: "serviceRequests",
			Allow: map[repository.OperationType]string{
				repository.OperationList: authenticated,
			},
		},
		{
			Match: "serviceRequests/{requestId}/statusHistory/{entryId}",
			Allow: map[repository.OperationType]string{
				repository.OperationCreate: authenticated,
				repository.OperationRead:   authenticated,
			},
		},
		{
			Match: "serviceRequests/{requestId}/statusHistory",
			Allow: map[repository.OperationType]string{
				repository.OperationList: authenticated,
			},
		},
		{
			Match:       "notifications/{notificationId}",
			Description: "notifications owned by their recipient, creatable by any signed-in actor",
			Allow: map[repository.OperationType]string{
				repository.OperationCreate: authenticated,
				repository.OperationRead:   "auth != null && resource != null && resource.recipientId == auth.uid",
				repository.OperationUpdate: "auth != null && resource != null && resource.recipientId == auth.uid",
				repository.OperationDelete: "auth != null && resource != null && resource.recipientId == auth.uid",
			},
		},
		{
			Match: "notifications",
			Allow: map[repository.OperationType]string{
				repository.OperationList: authenticated,
			},
		},
	}
}
