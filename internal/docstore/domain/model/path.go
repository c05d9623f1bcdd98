package model

import (
	"regexp"
	"strings"

	"habitora-core/internal/shared/errors"
)

// Document paths alternate collection and document segments, e.g.
// "conversations/abc_def" or "serviceRequests/req1/statusHistory/h1".
// An odd number of segments names a collection, an even number a document.

// Valid ID pattern (alphanumeric, hyphens, underscores)
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// SplitPath splits a path into segments, dropping empty ones.
func SplitPath(path string) []string {
	if path == "" {
		return []string{}
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	var result []string
	for _, segment := range segments {
		if segment != "" {
			result = append(result, segment)
		}
	}

	return result
}

// JoinPath constructs a path from segments.
func JoinPath(segments ...string) string {
	var valid []string
	for _, segment := range segments {
		if segment != "" {
			valid = append(valid, strings.Trim(segment, "/"))
		}
	}
	return strings.Join(valid, "/")
}

// IsValidID checks if a segment is usable as a collection or document ID.
func IsValidID(id string) bool {
	if id == "" {
		return false
	}

	if len(id) > 1500 {
		return false
	}

	return validIDPattern.MatchString(id)
}

// IsDocumentPath checks if a path represents a document.
func IsDocumentPath(path string) bool {
	segments := SplitPath(path)
	return len(segments) > 0 && len(segments)%2 == 0
}

// IsCollectionPath checks if a path represents a collection.
func IsCollectionPath(path string) bool {
	segments := SplitPath(path)
	return len(segments) > 0 && len(segments)%2 == 1
}

// CollectionOf returns the collection path that contains a document path.
func CollectionOf(documentPath string) (string, error) {
	segments := SplitPath(documentPath)
	if len(segments) == 0 {
		return "", errors.NewValidationError("empty document path")
	}

	if len(segments)%2 == 1 {
		// Already a collection path
		return JoinPath(segments...), nil
	}

	return JoinPath(segments[:len(segments)-1]...), nil
}

// DocumentIDOf returns the final document ID of a document path.
func DocumentIDOf(documentPath string) (string, error) {
	segments := SplitPath(documentPath)
	if len(segments) == 0 {
		return "", errors.NewValidationError("empty document path")
	}

	if len(segments)%2 == 1 {
		return "", errors.NewValidationError("path is a collection, not a document")
	}

	return segments[len(segments)-1], nil
}

// ValidateDocumentPath validates a document path.
func ValidateDocumentPath(path string) error {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return errors.NewValidationError("document path cannot be empty")
	}

	if len(segments)%2 != 0 {
		return errors.NewValidationError("invalid document path: must have even number of segments").
			WithDetail("path", path)
	}

	for i, segment := range segments {
		if !IsValidID(segment) {
			return errors.NewValidationError("invalid segment in document path").
				WithDetail("segment", segment).
				WithDetail("position", i)
		}
	}

	return nil
}

// ValidateCollectionPath validates a collection path.
func ValidateCollectionPath(path string) error {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return errors.NewValidationError("collection path cannot be empty")
	}

	if len(segments)%2 != 1 {
		return errors.NewValidationError("invalid collection path: must have odd number of segments").
			WithDetail("path", path)
	}

	for i, segment := range segments {
		if !IsValidID(segment) {
			return errors.NewValidationError("invalid segment in collection path").
				WithDetail("segment", segment).
				WithDetail("position", i)
		}
	}

	return nil
}

// CollectionID returns the last collection segment of a path. For
// "serviceRequests/req1/statusHistory" and
// "serviceRequests/req1/statusHistory/h1" it is "statusHistory" in both
// cases; access rules match on it.
func CollectionID(path string) (string, error) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return "", errors.NewValidationError("empty path")
	}

	if len(segments)%2 == 0 {
		return segments[len(segments)-2], nil
	}

	return segments[len(segments)-1], nil
}
