package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FileStore keeps one JSON document per key in a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file backing a key: <dir>/<source>_<kind>_<dep>[.<marker>].json.
func (s *FileStore) Path(key Key) string {
	name := fmt.Sprintf("%s_%s_%s", key.Source, key.Kind, key.Department)
	if key.Marker != "" {
		name += "." + key.Marker
	}
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Get(_ context.Context, key Key) (Entry, error) {
	b, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read cache %s: %w", key, err)
	}
	return decodeEntry(b)
}

// Put replaces the entry atomically: the file is written next to its target and
// renamed over it.
func (s *FileStore) Put(_ context.Context, key Key, entry Entry) error {
	b, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := renameio.WriteFile(s.Path(key), b, 0o644); err != nil {
		return fmt.Errorf("write cache %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Invalidate(_ context.Context, key Key) error {
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache %s: %w", key, err)
	}
	return nil
}
