package blob

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Stores objects as files under a root directory. This is the
// backend for local backfill output, which sync tooling later pushes
// to the remote store.
type Filesystem struct {
	Root string
}

func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating root: %w", err)
	}
	return &Filesystem{Root: root}, nil
}

func (f *Filesystem) path(key string) string {
	return filepath.Join(f.Root, filepath.FromSlash(key))
}

func (f *Filesystem) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

func (f *Filesystem) Put(ctx context.Context, key string, data []byte, options PutOptions) error {
	if options.Compress {
		data = Compress(data)
	}

	path := f.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating dir for %s: %w", key, err)
	}

	// Write via rename so readers never observe a partial object.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", key, err)
	}
	return nil
}

func (f *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := filepath.WalkDir(f.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(f.Root, path)
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
		return nil, fmt.Errorf("walking %s: %w", f.Root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *Filesystem) Invalidate(ctx context.Context, paths []string) error {
	// No edge cache in front of a local directory.
	return nil
}
