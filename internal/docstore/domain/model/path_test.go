package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath_NormalizesSlashes(t *testing.T) {
	assert.Equal(t, []string{"conversations", "abc"}, SplitPath("/conversations/abc/"))
	assert.Empty(t, SplitPath(""))
	assert.Empty(t, SplitPath("///"))
}

func TestIsDocumentPath_IsCollectionPath(t *testing.T) {
	assert.True(t, IsDocumentPath("conversations/abc"))
	assert.False(t, IsDocumentPath("conversations"))
	assert.True(t, IsCollectionPath("conversations"))
	assert.True(t, IsCollectionPath("serviceRequests/r1/statusHistory"))
	assert.False(t, IsCollectionPath("serviceRequests/r1"))
}

func TestCollectionOf(t *testing.T) {
	col, err := CollectionOf("serviceRequests/r1/statusHistory/h1")
	require.NoError(t, err)
	assert.Equal(t, "serviceRequests/r1/statusHistory", col)

	col, err = CollectionOf("conversations/abc")
	require.NoError(t, err)
	assert.Equal(t, "conversations", col)

	_, err = CollectionOf("")
	assert.Error(t, err)
}

func TestDocumentIDOf(t *testing.T) {
	id, err := DocumentIDOf("conversations/abc_def")
	require.NoError(t, err)
	assert.Equal(t, "abc_def", id)

	_, err = DocumentIDOf("conversations")
	assert.Error(t, err)
}

func TestValidateDocumentPath(t *testing.T) {
	assert.NoError(t, ValidateDocumentPath("conversations/abc"))
	assert.Error(t, ValidateDocumentPath("conversations"))
	assert.Error(t, ValidateDocumentPath(""))
	assert.Error(t, ValidateDocumentPath("conversations/has space"))
}

func TestValidateCollectionPath(t *testing.T) {
	assert.NoError(t, ValidateCollectionPath("notifications"))
	assert.NoError(t, ValidateCollectionPath("serviceRequests/r1/statusHistory"))
	assert.Error(t, ValidateCollectionPath("serviceRequests/r1"))
	assert.Error(t, ValidateCollectionPath(""))
}

func TestCollectionID(t *testing.T) {
	id, err := CollectionID("serviceRequests/r1/statusHistory/h1")
	require.NoError(t, err)
	assert.Equal(t, "statusHistory", id)

	id, err = CollectionID("serviceRequests/r1/statusHistory")
	require.NoError(t, err)
	assert.Equal(t, "statusHistory", id)

	id, err = CollectionID("conversations")
	require.NoError(t, err)
	assert.Equal(t, "conversations", id)
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "conversations/abc/messages", JoinPath("conversations", "abc", "messages"))
	assert.Equal(t, "conversations/abc", JoinPath("conversations/", "/abc"))
	assert.Equal(t, "abc", JoinPath("", "abc"))
}
