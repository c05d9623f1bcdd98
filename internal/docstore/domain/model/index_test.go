package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiresCompositeIndex_SingleFieldQueries(t *testing.T) {
	// No orders at all
	_, needed := RequiresCompositeIndex(Query{
		Collection: "conversations",
		Filters:    []Filter{{Field: "participants", Operator: OperatorArrayContains, Value: "u1"}},
	})
	assert.False(t, needed)

	// Filter and order on the same single field
	_, needed = RequiresCompositeIndex(Query{
		Collection: "notifications",
		Filters:    []Filter{{Field: "createdAt", Operator: OperatorGreaterThan, Value: 0}},
		Orders:     []Order{{Field: "createdAt", Direction: Descending}},
	})
	assert.False(t, needed)

	// Pure single-field order
	_, needed = RequiresCompositeIndex(Query{
		Collection: "statusHistory",
		Orders:     []Order{{Field: "createdAt", Direction: Ascending}},
	})
	assert.False(t, needed)
}

func TestRequiresCompositeIndex_FilterPlusOrder(t *testing.T) {
	signature, needed := RequiresCompositeIndex(Query{
		Collection: "serviceRequests",
		Filters:    []Filter{{Field: "providerId", Operator: OperatorEqual, Value: "p1"}},
		Orders:     []Order{{Field: "createdAt", Direction: Descending}},
	})
	require.True(t, needed)
	assert.Equal(t, []IndexField{
		{Path: "providerId", Direction: Ascending},
		{Path: "createdAt", Direction: Descending},
	}, signature)
}

func TestRequiresCompositeIndex_MultipleOrders(t *testing.T) {
	signature, needed := RequiresCompositeIndex(Query{
		Collection: "serviceRequests",
		Orders: []Order{
			{Field: "status", Direction: Ascending},
			{Field: "createdAt", Direction: Descending},
		},
	})
	require.True(t, needed)
	assert.Equal(t, []IndexField{
		{Path: "status", Direction: Ascending},
		{Path: "createdAt", Direction: Descending},
	}, signature)
}

func TestIndexRegistry_CheckQuery(t *testing.T) {
	registry := NewIndexRegistry()
	q := Query{
		Collection: "serviceRequests",
		Filters:    []Filter{{Field: "providerId", Operator: OperatorEqual, Value: "p1"}},
		Orders:     []Order{{Field: "createdAt", Direction: Descending}},
	}

	missing, ok := registry.CheckQuery(q)
	require.False(t, ok)
	assert.Equal(t, []string{"providerId", "createdAt"}, SignatureFields(missing))

	registry.Define(Index{
		Collection: "serviceRequests",
		Fields: []IndexField{
			{Path: "providerId", Direction: Ascending},
			{Path: "createdAt", Direction: Descending},
		},
	})

	_, ok = registry.CheckQuery(q)
	assert.True(t, ok)
}

func TestIndexRegistry_SubcollectionSharesCollectionID(t *testing.T) {
	registry := NewIndexRegistry()
	registry.Define(Index{
		Collection: "messages",
		Fields: []IndexField{
			{Path: "senderId", Direction: Ascending},
			{Path: "createdAt", Direction: Ascending},
		},
	})

	q := Query{
		Collection: "conversations/abc_def/messages",
		Filters:    []Filter{{Field: "senderId", Operator: OperatorEqual, Value: "u1"}},
		Orders:     []Order{{Field: "createdAt", Direction: Ascending}},
	}
	_, ok := registry.CheckQuery(q)
	assert.True(t, ok)
}

func TestIndexRegistry_DirectionMismatchDoesNotCover(t *testing.T) {
	registry := NewIndexRegistry()
	registry.Define(Index{
		Collection: "serviceRequests",
		Fields: []IndexField{
			{Path: "providerId", Direction: Ascending},
			{Path: "createdAt", Direction: Ascending},
		},
	})

	q := Query{
		Collection: "serviceRequests",
		Filters:    []Filter{{Field: "providerId", Operator: OperatorEqual, Value: "p1"}},
		Orders:     []Order{{Field: "createdAt", Direction: Descending}},
	}
	_, ok := registry.CheckQuery(q)
	assert.False(t, ok)
}
