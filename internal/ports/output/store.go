package output

import "context"

// PatchStore is the secondary port for persisting encoded patch artifacts.
// Keys are slash-separated relative paths (imgs/000042/SCENE_ID/B2.tif);
// backends map them to files, S3 objects or Azure blobs.
type PatchStore interface {
	// Put writes one artifact under the given key, replacing any
	// previous content.
	Put(ctx context.Context, key string, data []byte) error

	// Exists checks whether an artifact is already present.
	Exists(ctx context.Context, key string) (bool, error)
}

// StoreType represents the type of patch store backend.
type StoreType string

// Supported patch store backends.
const (
	StoreTypeLocal StoreType = "local"
	StoreTypeS3    StoreType = "s3"
	StoreTypeAzure StoreType = "azure"
)
