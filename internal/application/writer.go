package application

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/jobrunner/terrapatch/internal/domain"
	"github.com/jobrunner/terrapatch/internal/ports/output"
)

// PatchWriter persists one extracted patch set: per-band GeoTIFFs plus the
// raw scene metadata, laid out under imgs/<index>/<scene-id>/.
type PatchWriter struct {
	store    output.PatchStore
	encoder  output.RasterEncoder
	manifest output.Manifest
	logger   *slog.Logger
	runID    string
}

// NewPatchWriter creates a patch writer.
func NewPatchWriter(store output.PatchStore, encoder output.RasterEncoder, manifest output.Manifest, logger *slog.Logger, runID string) *PatchWriter {
	return &PatchWriter{
		store:    store,
		encoder:  encoder,
		manifest: manifest,
		logger:   logger,
		runID:    runID,
	}
}

// PatchKey returns the store key prefix for one index and scene.
func PatchKey(index int, sceneID string) string {
	return path.Join("imgs", fmt.Sprintf("%06d", index), sceneID)
}

// Write persists every band of the patch and the sibling metadata.json.
func (w *PatchWriter) Write(ctx context.Context, index int, patch domain.RasterPatch) error {
	prefix := PatchKey(index, patch.Scene.ID)

	entries := make([]output.ManifestEntry, 0, len(patch.Indexed))
	for _, band := range patch.Indexed {
		raster, ok := patch.Bands[band]
		if !ok {
			return &domain.StoreError{Operation: "encode", Key: prefix, Err: fmt.Errorf("band %s missing from patch", band)}
		}
		data, err := w.encoder.Encode(raster, patch.Bounds)
		if err != nil {
			return &domain.StoreError{Operation: "encode", Key: prefix + "/" + band, Err: err}
		}
		key := path.Join(prefix, band+w.encoder.Ext())
		if err := w.store.Put(ctx, key, data); err != nil {
			return &domain.StoreError{Operation: "put", Key: key, Err: err}
		}
		entries = append(entries, output.ManifestEntry{
			RunID:   w.runID,
			Index:   index,
			SceneID: patch.Scene.ID,
			Band:    band,
			Key:     key,
			Bounds:  patch.Bounds,
		})
	}

	// Raw catalog metadata is persisted verbatim.
	metaKey := path.Join(prefix, "metadata.json")
	if err := w.store.Put(ctx, metaKey, patch.Scene.Metadata); err != nil {
		return &domain.StoreError{Operation: "put", Key: metaKey, Err: err}
	}

	if err := w.manifest.Record(ctx, entries); err != nil {
		// Manifest rows are an index over already-durable artifacts;
		// losing some is recoverable by rescanning the store.
		w.logger.Warn("manifest record failed", "index", index, "scene", patch.Scene.ID, "error", err)
	}
	return nil
}
