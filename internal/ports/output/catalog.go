// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"

	"github.com/jobrunner/terrapatch/internal/domain"
)

// SceneQuery describes one catalog search: a collection, a point the scene
// must contain, the two disjoint date sub-ranges combined with Or, and the
// cloud-cover metadata filter.
type SceneQuery struct {
	Collection string
	Point      domain.Coordinate
	Window     domain.DateWindow
	CloudField string  // metadata field holding cloud percentage
	CloudMax   float64 // strict upper bound
}

// PixelRequest asks for raw per-band pixel arrays of one scene clipped to
// a geographic region, at native resolution.
type PixelRequest struct {
	SceneID string
	Region  domain.BoundingBox
	Bands   []string
}

// PixelResponse carries the per-band arrays and the actual geographic
// extent of the returned rasters (which may be slightly larger than the
// requested region due to pixel alignment).
type PixelResponse struct {
	Bands  map[string]domain.Raster
	Bounds domain.BoundingBox
}

// Catalog is the secondary port for the remote imagery-catalog service.
// Implementations translate these calls into the service's own query,
// filter and sample semantics; they are not reimplemented here.
type Catalog interface {
	// Search returns all candidate scenes matching the query, in no
	// particular order. An empty result is not an error.
	Search(ctx context.Context, q SceneQuery) ([]domain.Scene, error)

	// Pixels retrieves raw per-band pixel arrays for a scene region.
	Pixels(ctx context.Context, req PixelRequest) (PixelResponse, error)
}
