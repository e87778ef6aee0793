package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

func newTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFSStore(filepath.Join(dir, "store"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func writeBlobFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestPutGetRoundTrip(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	src := writeBlobFile(t, dir, "payload.tar.xz", "artifact-bytes")

	require.NoError(t, s.Put(ctx, "kata-artifacts-x86_64-qemu", src))

	got, err := s.Get(ctx, "kata-artifacts-x86_64-qemu", filepath.Join(dir, "dl"))
	require.NoError(t, err)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "artifact-bytes", string(data))
}

func TestGetAbsentNameFailsLoudly(t *testing.T) {
	s, dir := newTestStore(t)
	_, err := s.Get(context.Background(), "never-stored", dir)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCategory(err, pkgerrors.CategoryStore))
	pe, _ := pkgerrors.AsPipelineError(err)
	assert.Equal(t, "never-stored", pe.Context["name"])
}

func TestPutIsIdempotent(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	src := writeBlobFile(t, dir, "p", "v1")

	require.NoError(t, s.Put(ctx, "blob", src))
	require.NoError(t, s.Put(ctx, "blob", src))

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"blob"}, names)
}

func TestExistsAndList(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "b-two", writeBlobFile(t, dir, "p2", "x")))
	require.NoError(t, s.Put(ctx, "a-one", writeBlobFile(t, dir, "p1", "x")))

	ok, err := s.Exists(ctx, "a-one")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-one", "b-two"}, names)
}

func TestPruneRespectsRetentionWindow(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base.Add(-48 * time.Hour) }
	require.NoError(t, s.Put(ctx, "old", writeBlobFile(t, dir, "po", "x")))
	s.now = func() time.Time { return base }
	require.NoError(t, s.Put(ctx, "fresh", writeBlobFile(t, dir, "pf", "x")))

	removed, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, removed)

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, names)
}
