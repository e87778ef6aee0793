package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	times map[string]time.Time

	// PutErr, when set, is returned by every Put. Used to exercise
	// failure propagation.
	PutErr error

	// PutCalls records the names passed to Put, in order.
	PutCalls []string
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		blobs: make(map[string][]byte),
		times: make(map[string]time.Time),
	}
}

func (m *MockStore) Put(ctx context.Context, name, srcPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls = append(m.PutCalls, name)
	if m.PutErr != nil {
		return m.PutErr
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return pkgerrors.StorePutFailed(name, err)
	}
	m.blobs[name] = data
	m.times[name] = time.Now()
	return nil
}

func (m *MockStore) Get(ctx context.Context, name, destDir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	if !ok {
		return "", pkgerrors.BlobNotFound(name)
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(destDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (m *MockStore) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[name]
	return ok, nil
}

func (m *MockStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MockStore) Prune(ctx context.Context, olderThan time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var removed []string
	for name, at := range m.times {
		if at.Before(cutoff) {
			delete(m.blobs, name)
			delete(m.times, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (m *MockStore) Close() error { return nil }

var _ Store = (*MockStore)(nil)
var _ Store = (*FSStore)(nil)
