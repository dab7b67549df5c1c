// Package blob stores generated binary artifacts (images, audio) and hands
// back stable reference URIs that are persisted on challenge records.
package blob

import "context"

// Store is the write-only surface the pipeline needs.
type Store interface {
	// Upload persists data under path and returns a reference URI.
	Upload(ctx context.Context, data []byte, path, contentType string) (string, error)
}
