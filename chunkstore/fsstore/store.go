// Package fsstore provides a filesystem-backed chunk store. Atomic publish
// is implemented as write-to-temporary-file-then-rename, which is atomic on
// POSIX filesystems and visible to concurrent directory listings only after
// the rename.
package fsstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	snaperrors "github.com/c360/snapstream/errors"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// tmpPrefix marks in-flight files. They live next to their final
	// destination so the rename never crosses a filesystem boundary.
	tmpPrefix = ".tmp-"
)

// Store is a filesystem-backed chunkstore.Store rooted at a directory.
type Store struct {
	root string
}

// New creates a store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("fsstore: empty root dir: %w", snaperrors.ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("fsstore: create root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the root directory of the store.
func (s *Store) Root() string { return s.root }

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put atomically publishes data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := s.path(key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("fsstore: create namespace %q: %w", dir, err)
	}

	tmp := filepath.Join(dir, tmpPrefix+uuid.NewString())
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("fsstore: write temp for %q: %w", key, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fsstore: publish %q: %w", key, err)
	}
	return nil
}

// Get retrieves the value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("fsstore: %q: %w", key, snaperrors.ErrKeyNotFound)
		}
		return nil, fmt.Errorf("fsstore: read %q: %w", key, err)
	}
	return data, nil
}

// List returns all published keys with the given prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory may vanish between listing and stat when a
			// concurrent writer is publishing; treat it as absent.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fsstore: list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Rename atomically moves the value at oldKey to newKey.
func (s *Store) Rename(ctx context.Context, oldKey, newKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := s.path(newKey)
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("fsstore: create namespace for %q: %w", newKey, err)
	}
	if err := os.Rename(s.path(oldKey), dst); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("fsstore: %q: %w", oldKey, snaperrors.ErrKeyNotFound)
		}
		return fmt.Errorf("fsstore: rename %q -> %q: %w", oldKey, newKey, err)
	}
	return nil
}
