package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned by a Store when no blob exists for the key.
var ErrNotFound = errors.New("cache: not found")

// Store is a key-value blob store with modification times. Put must be
// atomic: a concurrent Get sees either the previous blob or the new one.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Permissions for the cache directory and files. The document carries key
// paths and account ids, so nothing is group or world readable.
const (
	dirMode  os.FileMode = 0o700
	fileMode os.FileMode = 0o600
)

// FileStore keeps blobs as files in one owner-only directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file a key is stored in.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	if err := checkKey(key); err != nil {
		return nil, time.Time{}, err
	}
	// Stat and read through the same descriptor so the mtime belongs to the
	// bytes returned even if a writer renames a new file into place meanwhile.
	f, err := os.Open(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat cache file: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read cache file: %w", err)
	}
	return data, info.ModTime(), nil
}

// Put writes data to a temporary file in the cache directory and renames it
// over the target, so readers never observe a partial document.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.ensureDir(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(fileMode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// ensureDir creates the cache directory and tightens its mode, which MkdirAll
// leaves alone when the directory already exists.
func (s *FileStore) ensureDir() error {
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.Chmod(s.dir, dirMode); err != nil {
		return fmt.Errorf("chmod cache dir: %w", err)
	}
	return nil
}

func checkKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("cache: invalid key %q", key)
	}
	return nil
}
