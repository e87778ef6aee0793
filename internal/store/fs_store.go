package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

// FSStore is a filesystem-backed Store. Layout:
//
//	<base>/
//	  blobs/<name>       blob payload
//	  meta/<name>.json   stored-at timestamp and size
type FSStore struct {
	basePath string
	mu       sync.RWMutex

	// now is injectable for retention tests.
	now func() time.Time
}

type blobMeta struct {
	StoredAt time.Time `json:"stored_at"`
	Size     int64     `json:"size"`
}

// NewFSStore creates a filesystem-backed store rooted at basePath.
func NewFSStore(basePath string) (*FSStore, error) {
	for _, dir := range []string{filepath.Join(basePath, "blobs"), filepath.Join(basePath, "meta")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &FSStore{basePath: basePath, now: time.Now}, nil
}

func (s *FSStore) blobPath(name string) string { return filepath.Join(s.basePath, "blobs", name) }
func (s *FSStore) metaPath(name string) string {
	return filepath.Join(s.basePath, "meta", name+".json")
}

// Put uploads srcPath under name. The blob is written to a temp file and
// renamed so a concurrent Get never observes a partial payload.
func (s *FSStore) Put(ctx context.Context, name, srcPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := os.Open(srcPath)
	if err != nil {
		return pkgerrors.StorePutFailed(name, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Join(s.basePath, "blobs"), name+".tmp-*")
	if err != nil {
		return pkgerrors.StorePutFailed(name, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	size, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		return pkgerrors.StorePutFailed(name, err)
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.StorePutFailed(name, err)
	}
	if err := os.Rename(tmpPath, s.blobPath(name)); err != nil {
		return pkgerrors.StorePutFailed(name, err)
	}

	meta, err := json.Marshal(blobMeta{StoredAt: s.now(), Size: size})
	if err != nil {
		return pkgerrors.StorePutFailed(name, err)
	}
	if err := os.WriteFile(s.metaPath(name), meta, 0o600); err != nil {
		return pkgerrors.StorePutFailed(name, err)
	}
	return nil
}

// Get copies the named blob into destDir and returns the local path.
func (s *FSStore) Get(ctx context.Context, name, destDir string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, err := os.Open(s.blobPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", pkgerrors.BlobNotFound(name)
		}
		return "", pkgerrors.Wrap(err, pkgerrors.CategoryStore, pkgerrors.SeverityFatal, "open stored blob")
	}
	defer src.Close()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CategoryStore, pkgerrors.SeverityFatal, "create destination dir")
	}
	destPath := filepath.Join(destDir, name)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CategoryStore, pkgerrors.SeverityFatal, "create destination file")
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CategoryStore, pkgerrors.SeverityFatal, "copy stored blob")
	}
	return destPath, nil
}

// Exists reports whether the named blob is present.
func (s *FSStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.blobPath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List returns all stored blob names, sorted.
func (s *FSStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.basePath, "blobs"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Prune removes blobs stored longer ago than olderThan.
func (s *FSStore) Prune(ctx context.Context, olderThan time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.basePath, "blobs"))
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-olderThan)
	var removed []string
	for _, e := range entries {
		name := e.Name()
		meta, err := s.readMeta(name)
		if err != nil || meta.StoredAt.After(cutoff) {
			continue
		}
		if err := os.Remove(s.blobPath(name)); err != nil {
			return removed, err
		}
		_ = os.Remove(s.metaPath(name))
		removed = append(removed, name)
	}
	sort.Strings(removed)
	return removed, nil
}

// Close is a no-op for the filesystem store.
func (s *FSStore) Close() error { return nil }

func (s *FSStore) readMeta(name string) (blobMeta, error) {
	data, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		return blobMeta{}, err
	}
	var m blobMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return blobMeta{}, err
	}
	return m, nil
}
