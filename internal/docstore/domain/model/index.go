package model

import (
	"sort"
	"sync"
)

// Composite index declarations. Single-field lookups are always served, the
// way a managed document store maintains automatic single-field indexes. A
// query combining a filter with an order on a different field, or carrying
// more than one order clause, is served only when a matching composite index
// was declared; otherwise the store rejects it with an index-missing error
// and leaves the fallback decision to the caller.

// IndexField is one component of a composite index.
type IndexField struct {
	Path      string `json:"path"`
	Direction string `json:"direction"`
}

// Index declares a composite index over one collection ID. Subcollections
// share declarations by collection ID, so an index on "statusHistory" covers
// every "serviceRequests/{id}/statusHistory".
type Index struct {
	Collection string       `json:"collection"`
	Fields     []IndexField `json:"fields"`
}

// RequiresCompositeIndex reports whether the query needs a declared composite
// index, and the field signature such an index must carry: the filtered
// fields in name order followed by the order clauses.
func RequiresCompositeIndex(q Query) ([]IndexField, bool) {
	if len(q.Orders) == 0 {
		return nil, false
	}

	filterFields := q.FilterFields()
	distinct := make(map[string]bool, len(filterFields)+len(q.Orders))
	for _, f := range filterFields {
		distinct[f] = true
	}
	for _, o := range q.Orders {
		distinct[o.Field] = true
	}

	if len(distinct) < 2 && len(q.Orders) < 2 {
		return nil, false
	}

	sorted := append([]string(nil), filterFields...)
	sort.Strings(sorted)

	signature := make([]IndexField, 0, len(sorted)+len(q.Orders))
	for _, f := range sorted {
		if isOrderField(q, f) {
			continue
		}
		signature = append(signature, IndexField{Path: f, Direction: Ascending})
	}
	for _, o := range q.Orders {
		signature = append(signature, IndexField{Path: o.Field, Direction: o.Direction})
	}

	return signature, true
}

func isOrderField(q Query, field string) bool {
	for _, o := range q.Orders {
		if o.Field == field {
			return true
		}
	}
	return false
}

// IndexRegistry holds the declared composite indexes. It is safe for
// concurrent use; declarations normally happen once at wiring time.
type IndexRegistry struct {
	mu      sync.RWMutex
	indexes map[string][]Index
}

// NewIndexRegistry creates an empty registry.
func NewIndexRegistry() *IndexRegistry {
	return &IndexRegistry{
		indexes: make(map[string][]Index),
	}
}

// Define registers a composite index.
func (r *IndexRegistry) Define(idx Index) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[idx.Collection] = append(r.indexes[idx.Collection], idx)
}

// Indexes returns the declared indexes for a collection ID.
func (r *IndexRegistry) Indexes(collectionID string) []Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Index(nil), r.indexes[collectionID]...)
}

// Covers reports whether a declared index serves the required signature.
func (r *IndexRegistry) Covers(collectionID string, signature []IndexField) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, idx := range r.indexes[collectionID] {
		if signatureEqual(idx.Fields, signature) {
			return true
		}
	}
	return false
}

// CheckQuery validates the query against the declared indexes. It returns the
// missing signature when the query cannot be served.
func (r *IndexRegistry) CheckQuery(q Query) ([]IndexField, bool) {
	signature, needed := RequiresCompositeIndex(q)
	if !needed {
		return nil, true
	}

	collectionID, err := CollectionID(q.Collection)
	if err != nil {
		return signature, false
	}

	if r.Covers(collectionID, signature) {
		return nil, true
	}
	return signature, false
}

func signatureEqual(a, b []IndexField) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Path != b[i].Path || a[i].Direction != b[i].Direction {
			return false
		}
	}
	return true
}

// SignatureFields flattens an index signature to its field paths, for error
// details and log lines.
func SignatureFields(signature []IndexField) []string {
	fields := make([]string, 0, len(signature))
	for _, f := range signature {
		fields = append(fields, f.Path)
	}
	return fields
}
