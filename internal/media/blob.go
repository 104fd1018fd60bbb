package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore is the durable byte storage port: store bytes, receive a URL
// that stays resolvable for the lifetime of the workspace.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (url string, err error)
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// FSStore implements BlobStore on a local directory tree served under a
// base URL.
type FSStore struct {
	root    string
	baseURL string
}

var _ BlobStore = (*FSStore)(nil)

// NewFSStore creates a filesystem blob store rooted at root. Returned URLs
// are baseURL + "/" + key.
func NewFSStore(root, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FSStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put stores the bytes under key and returns the durable URL.
func (s *FSStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}

	return s.baseURL + "/" + key, nil
}

// Open resolves a URL previously returned by Put back to its bytes.
func (s *FSStore) Open(_ context.Context, url string) (io.ReadCloser, error) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok {
		return nil, fmt.Errorf("url %q not served by this store", url)
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}
