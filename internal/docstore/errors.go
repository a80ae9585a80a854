package docstore

import "fmt"

// ConflictError reports a write that lost the race for a document path.
// Callers are expected to retry after the holder releases the path.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %q is locked by a concurrent writer", e.Path)
}

// NotFoundError reports an operation against a path the store does not hold.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", e.Path)
}
