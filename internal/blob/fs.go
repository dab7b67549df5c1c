package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore writes blobs to the local filesystem under a root directory.
// The returned URI is baseURL joined with the blob path when baseURL is set
// (the directory is served by something else, e.g. a reverse proxy or a
// bucket mount), otherwise a file:// URI.
type FSStore struct {
	root    string
	baseURL string
}

// NewFSStore creates an FSStore rooted at dir. baseURL may be empty.
func NewFSStore(dir, baseURL string) *FSStore {
	return &FSStore{root: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes data to root/path, creating parent directories as needed.
// The contentType is implied by the path's extension and not stored.
func (s *FSStore) Upload(ctx context.Context, data []byte, path, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := filepath.Clean("/" + path)[1:] // confine to root
	full := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("writing blob %s: %w", clean, err)
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + filepath.ToSlash(clean), nil
	}
	return "file://" + full, nil
}
