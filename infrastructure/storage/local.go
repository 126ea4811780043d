package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ahrav/go-warden/internal/ports"
)

// LocalStore implements ports.BlobStore on the local filesystem.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, ports.NewStoreError("local", basePath, "init", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Put writes data to a temporary file and renames it into place so readers
// never see a partial object.
func (s *LocalStore) Put(ctx context.Context, key, _ string, data io.Reader) error {
	full, err := s.path(key)
	if err != nil {
		return ports.NewStoreError("local", key, "put", err)
	}
	if err := ctx.Err(); err != nil {
		return ports.NewStoreError("local", key, "put", err)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ports.NewStoreError("local", key, "put", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return ports.NewStoreError("local", key, "put", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return ports.NewStoreError("local", key, "put", err)
	}
	if err := tmp.Close(); err != nil {
		return ports.NewStoreError("local", key, "put", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return ports.NewStoreError("local", key, "put", err)
	}
	return nil
}

// Get opens the object stored under key.
func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, ports.NewStoreError("local", key, "get", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, ports.NewStoreError("local", key, "get", err)
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ports.NewStoreError("local", key, "get", ports.ErrNotFound)
		}
		return nil, ports.NewStoreError("local", key, "get", err)
	}
	return f, nil
}

// Delete removes the object under key.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	full, err := s.path(key)
	if err != nil {
		return ports.NewStoreError("local", key, "delete", err)
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ports.NewStoreError("local", key, "delete", err)
	}
	return nil
}

func (s *LocalStore) path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleaned)), nil
}

var _ ports.BlobStore = (*LocalStore)(nil)
