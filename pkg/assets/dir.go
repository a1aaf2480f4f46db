package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirStore serves assets from a directory on the local filesystem.
type DirStore struct {
	root    string
	maxSize int64
}

// NewDirStore creates a DirStore rooted at dir, creating it if needed.
// maxSize bounds a single asset; 0 means MaxAssetSize.
func NewDirStore(dir string, maxSize int64) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	if maxSize <= 0 || maxSize > MaxAssetSize {
		maxSize = MaxAssetSize
	}
	return &DirStore{root: abs, maxSize: maxSize}, nil
}

// Root returns the absolute store directory.
func (s *DirStore) Root() string {
	return s.root
}

// Resolve maps a relative asset path to a filesystem path under the root.
func (s *DirStore) Resolve(p string) (string, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *DirStore) contains(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Get reads the asset at p. Symlinks pointing outside the root are reported
// as not found.
func (s *DirStore) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}
	if real, err := filepath.EvalSymlinks(full); err == nil && !s.contains(real) {
		return nil, ErrNotFound
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	if info.Size() > s.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, p, info.Size())
	}

	// +1 to detect growth after Stat
	data, err := io.ReadAll(io.LimitReader(f, s.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, p)
	}
	return data, nil
}

// Put writes data to p, creating parent directories. The file is written to a
// temporary name first and renamed into place.
func (s *DirStore) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if int64(len(data)) > s.maxSize {
		return ErrTooLarge
	}
	full, err := s.Resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".dfsync-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
