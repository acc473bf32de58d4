package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FS stores each key as a file below a root directory of an afero filesystem.
type FS struct {
	fs   afero.Fs
	root string
}

// NewFS wraps an arbitrary afero filesystem.
func NewFS(fsys afero.Fs, root string) *FS {
	return &FS{fs: fsys, root: filepath.Clean(root)}
}

// NewOSFS stores objects under {root}/{bucket} on the local disk.
func NewOSFS(root, bucket string) *FS {
	return NewFS(afero.NewOsFs(), filepath.Join(root, bucket))
}

// NewMemFS keeps objects in memory, mostly for dry runs and tests.
func NewMemFS() *FS {
	return NewFS(afero.NewMemMapFs(), "/")
}

func (f *FS) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || strings.HasSuffix(key, "/") || clean == "/" {
		return "", errors.New("storage: invalid object key " + key)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

// Put writes body at key, creating parent directories and replacing any prior object.
func (f *FS) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(f.fs, p, body, 0o644)
}

// Get reads the object at key.
func (f *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	body, err := afero.ReadFile(f.fs, p)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return body, err
}

// cleanPrefix maps prefix onto the relative form Put stores keys under,
// e.g. "/raw/" and "./raw/" both become "raw/".
func cleanPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+prefix), "/")
	if clean != "" && strings.HasSuffix(prefix, "/") {
		clean += "/"
	}
	return clean
}

// List walks the directory enclosing prefix and keeps keys starting with it.
func (f *FS) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = cleanPrefix(prefix)
	dir := prefix
	if !strings.HasSuffix(dir, "/") {
		dir = path.Dir(dir)
	}
	start := filepath.Join(f.root, filepath.FromSlash(path.Clean("/"+dir)))

	if _, err := f.fs.Stat(start); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var keys []string
	err := afero.Walk(f.fs, start, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(f.root, p)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

var _ BlobStore = (*FS)(nil)
