package repository

import (
	"context"

	"habitora-core/internal/docstore/domain/model"
)

// DocumentStore is the persistence port every usecase talks to. Adapters
// must publish one change event per committed write and reject ordered
// queries whose composite index was not declared.
type DocumentStore interface {
	// Get retrieves a document. Absent documents surface a not found error.
	Get(ctx context.Context, path string) (*model.Document, error)

	// Create persists a new document and fails with a conflict error when
	// the path is already taken.
	Create(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error)

	// CreateIfAbsent atomically creates the document unless it already
	// exists, in which case the existing document is returned unmodified
	// and created is false. This is the primitive race-free identity
	// resolution builds on; it must not be emulated with a read followed
	// by a write.
	CreateIfAbsent(ctx context.Context, path string, data map[string]interface{}) (doc *model.Document, created bool, err error)

	// Set creates or fully overwrites a document.
	Set(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error)

	// Update merges fields into an existing document and fails with a not
	// found error when the document is absent.
	Update(ctx context.Context, path string, data map[string]interface{}) (*model.Document, error)

	// Delete removes a document. Deleting an absent document is a not
	// found error.
	Delete(ctx context.Context, path string) error

	// Query executes a filtered, optionally ordered read over the query's
	// collection. An unknown collection yields an empty result, not an
	// error. Ordered queries without a declared composite index fail with
	// an index missing error.
	Query(ctx context.Context, query model.Query) ([]*model.Document, error)

	// RunBatchWrite commits every operation atomically. Any failing
	// operation aborts the whole batch with no partial state and no
	// change events.
	RunBatchWrite(ctx context.Context, writes []model.WriteOperation) error
}
