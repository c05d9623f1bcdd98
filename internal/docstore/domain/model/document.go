package model

import (
	"strings"
	"time"
)

// Document represents a stored document.
type Document struct {
	ID        string                 `json:"id"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	// Path is the full path to the document, e.g. "conversations/abc_def"
	Path string `json:"path"`
}

// Clone returns a copy safe to hand across goroutine boundaries. Stored
// documents are never mutated in place; writers build replacements.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Data = CloneData(d.Data)
	return &cp
}

// CloneData copies document data. Nested maps are copied recursively, lists
// one level deep; scalar values are shared.
func CloneData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = CloneData(nested)
			continue
		}
		if list, ok := v.([]interface{}); ok {
			cpList := make([]interface{}, len(list))
			copy(cpList, list)
			out[k] = cpList
			continue
		}
		out[k] = v
	}
	return out
}

// FieldValue represents special server-side values like ServerTimestamp.
type FieldValue string

const (
	// ServerTimestamp is a sentinel value to set a field to the server's timestamp.
	ServerTimestamp FieldValue = "ServerTimestamp"
)

// ResolveServerTimestamps replaces ServerTimestamp sentinels with the given
// time. Only top-level fields are inspected; the write layers call this
// before persisting.
func ResolveServerTimestamps(data map[string]interface{}, now time.Time) {
	for k, v := range data {
		if fv, ok := v.(FieldValue); ok && fv == ServerTimestamp {
			data[k] = now
		}
	}
}

// MergeFields merges update data into target. Dotted keys address nested
// maps, creating intermediate maps as needed; ServerTimestamp sentinels
// resolve to now. Both write adapters apply updates through here so merge
// semantics cannot drift between them.
func MergeFields(target map[string]interface{}, updates map[string]interface{}, now time.Time) {
	for key, value := range updates {
		if fv, ok := value.(FieldValue); ok && fv == ServerTimestamp {
			value = now
		}
		if !strings.Contains(key, ".") {
			target[key] = value
			continue
		}

		parts := strings.Split(key, ".")
		current := target
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = value
	}
}

// WriteOperationType defines the type of a write operation in a batch.
type WriteOperationType string

const (
	WriteTypeCreate WriteOperationType = "CREATE"
	WriteTypeUpdate WriteOperationType = "UPDATE"
	WriteTypeSet    WriteOperationType = "SET"
	WriteTypeDelete WriteOperationType = "DELETE"
)

// WriteOperation represents a single operation in an atomic batch write.
// Update merges Data into the existing document and fails when the document
// is absent; Set creates or overwrites.
type WriteOperation struct {
	Type WriteOperationType     `json:"type"`
	Path string                 `json:"path"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Principal identifies the caller for access rule evaluation.
type Principal struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}
