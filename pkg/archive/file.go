package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// FileBackend stores objects under a local directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blocks"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, filepath.FromSlash(key))
}

// Put writes to a temporary file and renames it into place.
func (f *FileBackend) Put(_ context.Context, key string, data []byte) error {
	p := f.path(key)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to commit object: %w", err)
	}
	return nil
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, kerr.ErrNotFound.With("archive.file", "no object %s", key)
	}
	return data, err
}

func (f *FileBackend) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
