package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Files are streamed to disk in chunks of this size so a large upload
// never has to sit in memory whole
const chunkSize = 64 << 10

// Store is a file tree rooted at a single base directory. All paths going
// in are storage-relative, typically straight from GeneratePath.
type Store struct {
	base string
}

func New(base string) (*Store, error) {
	if base == "" {
		return nil, errors.New("no storage directory provided")
	}

	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory, %w", err)
	}

	return &Store{base: base}, nil
}

// FullPath resolves a storage-relative path against the base directory.
func (s *Store) FullPath(rel string) string {
	return filepath.Join(s.base, rel)
}

// EnsureDir creates the directories leading up to rel.
func (s *Store) EnsureDir(rel string) error {
	dir := filepath.Dir(s.FullPath(rel))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s, %w", dir, err)
	}

	return nil
}

// Write streams r into rel and returns how many bytes made it. A partially
// written file is left in place for the caller to deal with.
func (s *Store) Write(rel string, r io.Reader) (int64, error) {
	dst, err := os.Create(s.FullPath(rel))
	if err != nil {
		return 0, fmt.Errorf("failed to open %s for writing, %w", rel, err)
	}

	n, err := io.CopyBuffer(dst, r, make([]byte, chunkSize))
	if err != nil {
		dst.Close()
		return n, fmt.Errorf("failed to write %s, %w", rel, err)
	}

	if err := dst.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s, %w", rel, err)
	}

	return n, nil
}

// Remove deletes rel. A file that's already gone is not an error.
func (s *Store) Remove(rel string) error {
	err := os.Remove(s.FullPath(rel))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s, %w", rel, err)
	}

	return nil
}

// Exists reports whether rel is present on disk.
func (s *Store) Exists(rel string) bool {
	_, err := os.Stat(s.FullPath(rel))
	return err == nil
}
