// Package filestore stores documents as one JSON file per (collection, id)
// under a root directory. Writes go through a synced temp file that is then
// linked or renamed into place, so readers only ever see whole documents.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/amartya2002/uptime-monitor/internal/keylock"
	"github.com/amartya2002/uptime-monitor/store"
)

const (
	docExt    = ".json"
	tmpPrefix = ".tmp-"
)

// FileStore implements store.Store on the local filesystem.
type FileStore struct {
	root  string
	locks *keylock.Locker

	// writeTemp fills a temp file; replaced in tests to simulate a failed write.
	writeTemp func(f *os.File, data []byte) error
}

var _ store.Store = (*FileStore)(nil)

// New creates the root directory if needed and returns a store rooted there.
func New(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root %s: %w", root, err)
	}
	return &FileStore{
		root:      root,
		locks:     keylock.New(),
		writeTemp: writeAndSync,
	}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) dir(collection string) string {
	return filepath.Join(s.root, collection)
}

func (s *FileStore) path(collection, id string) string {
	return filepath.Join(s.dir(collection), id+docExt)
}

func (s *FileStore) lock(collection, id string) func() {
	return s.locks.Lock(collection + "/" + id)
}

// Create persists doc only if no document with that id exists yet.
func (s *FileStore) Create(ctx context.Context, collection, id string, doc []byte) error {
	if err := validate(ctx, collection, id); err != nil {
		return err
	}
	unlock := s.lock(collection, id)
	defer unlock()

	if err := os.MkdirAll(s.dir(collection), 0o755); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	final := s.path(collection, id)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrAlreadyExists)
	}

	tmp, err := s.stage(collection, doc)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	// Link refuses to replace an existing name, which makes the create exclusive.
	if err := os.Link(tmp, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s/%s: %w", collection, id, store.ErrAlreadyExists)
		}
		return fmt.Errorf("commit %s/%s: %w", collection, id, err)
	}
	return syncDir(s.dir(collection))
}

// Read returns the full committed document.
func (s *FileStore) Read(ctx context.Context, collection, id string) ([]byte, error) {
	if err := validate(ctx, collection, id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(collection, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", collection, id, err)
	}
	return data, nil
}

// Update fully replaces an existing document.
func (s *FileStore) Update(ctx context.Context, collection, id string, doc []byte) error {
	if err := validate(ctx, collection, id); err != nil {
		return err
	}
	unlock := s.lock(collection, id)
	defer unlock()

	final := s.path(collection, id)
	if _, err := os.Stat(final); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("stat %s/%s: %w", collection, id, err)
	}

	tmp, err := s.stage(collection, doc)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s/%s: %w", collection, id, err)
	}
	return syncDir(s.dir(collection))
}

// Delete removes an existing document.
func (s *FileStore) Delete(ctx context.Context, collection, id string) error {
	if err := validate(ctx, collection, id); err != nil {
		return err
	}
	unlock := s.lock(collection, id)
	defer unlock()

	err := os.Remove(s.path(collection, id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// List returns the ids of all committed documents in a collection.
func (s *FileStore) List(ctx context.Context, collection string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateCollection(collection); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir(collection))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, docExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, docExt))
	}
	return ids, nil
}

// stage writes doc to a synced temp file inside the collection directory and
// returns its path.
func (s *FileStore) stage(collection string, doc []byte) (string, error) {
	f, err := os.CreateTemp(s.dir(collection), tmpPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp file in %s: %w", collection, err)
	}
	name := f.Name()
	if err := s.writeTemp(f, doc); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write temp file in %s: %w", collection, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close temp file in %s: %w", collection, err)
	}
	return name, nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename is already visible.
	_ = d.Sync()
	return nil
}

func validate(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.ValidateKey(collection, id)
}
