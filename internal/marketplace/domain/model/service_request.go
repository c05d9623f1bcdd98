package model

import (
	"time"

	docmodel "habitora-core/internal/docstore/domain/model"
)

const ServiceRequestsCollection = "serviceRequests"

// RequestStatus is the lifecycle state of a service request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusRejected   RequestStatus = "rejected"
	StatusCancelled  RequestStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the status.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s RequestStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// RequestCategory selects the transition graph variant a request lives under.
type RequestCategory string

const (
	CategoryConstruction RequestCategory = "construction"
	CategoryRenovation   RequestCategory = "renovation"
	CategoryGeneral      RequestCategory = "general"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c RequestCategory) bool {
	switch c {
	case CategoryConstruction, CategoryRenovation, CategoryGeneral:
		return true
	}
	return false
}

// Rejectable reports whether the category's graph carries the
// Pending -> Rejected edge. Renovation requests cannot be rejected; the
// provider declines them by never starting work and the requester cancels.
func (c RequestCategory) Rejectable() bool {
	switch c {
	case CategoryConstruction, CategoryGeneral:
		return true
	}
	return false
}

// transitionEdges is the shared core graph. Terminal states have no
// outgoing edges, which is what makes them terminal.
var transitionEdges = map[RequestStatus][]RequestStatus{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// NextStatuses returns the statuses reachable in one step from `from` under
// the category's graph variant.
func NextStatuses(category RequestCategory, from RequestStatus) []RequestStatus {
	next := append([]RequestStatus(nil), transitionEdges[from]...)
	if from == StatusPending && category.Rejectable() {
		next = append(next, StatusRejected)
	}
	return next
}

// TransitionAllowed reports whether the category's graph contains the edge
// from -> to. It is the only authority on reachability; callers must not
// mutate status through any other check.
func TransitionAllowed(category RequestCategory, from, to RequestStatus) bool {
	for _, candidate := range NextStatuses(category, from) {
		if candidate == to {
			return true
		}
	}
	return false
}

// ServiceRequestPath returns the document path of a service request.
func ServiceRequestPath(requestID string) string {
	return ServiceRequestsCollection + "/" + requestID
}

// StatusHistoryCollection returns the history subcollection path of a request.
func StatusHistoryCollection(requestID string) string {
	return ServiceRequestPath(requestID) + "/statusHistory"
}

// StatusHistoryPath returns the document path of one history entry.
func StatusHistoryPath(requestID, entryID string) string {
	return StatusHistoryCollection(requestID) + "/" + entryID
}

// ServiceRequest is a requester's job posting moving through the workflow.
// ProviderID stays empty until the requester assigns a provider.
type ServiceRequest struct {
	ID          string          `json:"id"`
	RequesterID string          `json:"requesterId"`
	ProviderID  string          `json:"providerId"`
	Category    RequestCategory `json:"category"`
	Status      RequestStatus   `json:"status"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Budget      float64         `json:"budget"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// CounterpartyOf returns the other side of the request relative to the
// actor: the provider when the requester acts and vice versa. Empty when the
// actor is neither side or the other side is unassigned.
func (r *ServiceRequest) CounterpartyOf(actorID string) string {
	if actorID == "" {
		return ""
	}
	if actorID == r.RequesterID {
		return r.ProviderID
	}
	if actorID == r.ProviderID {
		return r.RequesterID
	}
	return ""
}

// NewServiceRequestData builds the document data for a freshly submitted
// request. Status always starts at Pending.
func NewServiceRequestData(requesterID, providerID string, category RequestCategory, title, description string, budget float64) map[string]interface{} {
	return map[string]interface{}{
		"requesterId": requesterID,
		"providerId":  providerID,
		"category":    string(category),
		"status":      string(StatusPending),
		"title":       title,
		"description": description,
		"budget":      budget,
		"createdAt":   docmodel.ServerTimestamp,
		"updatedAt":   docmodel.ServerTimestamp,
	}
}

// ServiceRequestFromDocument maps a stored document onto the model.
func ServiceRequestFromDocument(doc *docmodel.Document) *ServiceRequest {
	if doc == nil {
		return nil
	}
	return &ServiceRequest{
		ID:          doc.ID,
		RequesterID: stringField(doc.Data, "requesterId"),
		ProviderID:  stringField(doc.Data, "providerId"),
		Category:    RequestCategory(stringField(doc.Data, "category")),
		Status:      RequestStatus(stringField(doc.Data, "status")),
		Title:       stringField(doc.Data, "title"),
		Description: stringField(doc.Data, "description"),
		Budget:      floatField(doc.Data, "budget"),
		CreatedAt:   timeField(doc.Data, "createdAt", doc.CreatedAt),
		UpdatedAt:   timeField(doc.Data, "updatedAt", doc.UpdatedAt),
	}
}

// StatusHistoryEntry is one record of the append-only audit trail. Entries
// are never updated or deleted once written.
type StatusHistoryEntry struct {
	ID        string        `json:"id"`
	Status    RequestStatus `json:"status"`
	ActorID   string        `json:"actorId"`
	Note      string        `json:"note"`
	Images    []string      `json:"images"`
	CreatedAt time.Time     `json:"createdAt"`
}

// NewStatusHistoryData builds the document data for one history entry.
func NewStatusHistoryData(status RequestStatus, actorID, note string, images []string) map[string]interface{} {
	imageList := make([]interface{}, len(images))
	for i, url := range images {
		imageList[i] = url
	}
	return map[string]interface{}{
		"status":    string(status),
		"actorId":   actorID,
		"note":      note,
		"images":    imageList,
		"createdAt": docmodel.ServerTimestamp,
	}
}

// StatusHistoryEntryFromDocument maps a stored history document onto the model.
func StatusHistoryEntryFromDocument(doc *docmodel.Document) *StatusHistoryEntry {
	if doc == nil {
		return nil
	}
	return &StatusHistoryEntry{
		ID:        doc.ID,
		Status:    RequestStatus(stringField(doc.Data, "status")),
		ActorID:   stringField(doc.Data, "actorId"),
		Note:      stringField(doc.Data, "note"),
		Images:    stringSliceField(doc.Data, "images"),
		CreatedAt: timeField(doc.Data, "createdAt", doc.CreatedAt),
	}
}
