package output

import (
	"context"

	"github.com/jobrunner/terrapatch/internal/domain"
)

// ManifestEntry records one persisted band artifact for post-run querying.
type ManifestEntry struct {
	RunID   string
	Index   int
	SceneID string
	Band    string
	Key     string
	Bounds  domain.BoundingBox
}

// Manifest is the secondary port for the optional patch manifest database.
type Manifest interface {
	// Record inserts entries for one saved patch set.
	Record(ctx context.Context, entries []ManifestEntry) error

	// Close releases the underlying resources.
	Close() error
}

// NoOpManifest is a no-op implementation of Manifest.
type NoOpManifest struct{}

// Record implements Manifest.
func (n *NoOpManifest) Record(_ context.Context, _ []ManifestEntry) error { return nil }

// Close implements Manifest.
func (n *NoOpManifest) Close() error { return nil }
