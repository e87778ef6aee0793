// Package store provides the generic named-blob artifact store the pipeline
// hands its outputs to. Blobs are addressed by name and held under a
// time-bounded retention policy; fetching an absent name fails loudly.
package store

import (
	"context"
	"time"
)

// Store is a named artifact blob store with time-bounded retention.
type Store interface {
	// Put uploads the file at srcPath under the given name, replacing any
	// previous blob of that name. Re-putting the same name is safe to
	// retry.
	Put(ctx context.Context, name, srcPath string) error

	// Get downloads the named blob into destDir and returns the local
	// path. An absent name is a hard error, never an empty result.
	Get(ctx context.Context, name, destDir string) (string, error)

	// Exists reports whether a blob of the given name is present.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns all stored blob names.
	List(ctx context.Context) ([]string, error)

	// Prune removes blobs stored longer ago than the retention window and
	// returns the removed names.
	Prune(ctx context.Context, olderThan time.Duration) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
