package output

import "github.com/jobrunner/terrapatch/internal/domain"

// RasterEncoder is the secondary port for encoding a single-band raster
// into an on-disk artifact format (GeoTIFF).
type RasterEncoder interface {
	// Encode serializes one raster with its geographic bounds.
	Encode(r domain.Raster, bounds domain.BoundingBox) ([]byte, error)

	// Ext returns the artifact file extension, including the dot.
	Ext() string
}
