// Package assets stores binary document assets (extracted images) behind a
// backend-neutral interface. The core only ever constructs keys like
// "{docId}/images/{name}" and never assumes a particular backing store.
package assets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store persists binary assets under opaque keys.
type Store interface {
	// Store copies the file at localPath under key and returns a locator
	// clients can use to fetch it.
	Store(localPath, key string) (string, error)
	// Retrieve returns the bytes stored under key.
	Retrieve(key string) ([]byte, error)
}

// LocalStore keeps assets on the local filesystem under a base directory.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) Store(localPath, key string) (string, error) {
	dest, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create asset parent dir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create asset: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("copy asset: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close asset: %w", err)
	}
	return "/files/" + key, nil
}

func (s *LocalStore) Retrieve(key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", key, err)
	}
	return data, nil
}

// resolve maps a key to a path inside the base directory, rejecting keys
// that would escape it.
func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid asset key: %q", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}
