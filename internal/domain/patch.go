package domain

import (
	"encoding/json"
	"time"
)

// PatchSpec maps a band name to its target crop size in pixels. Bands
// without an entry are kept at native size. Shared across a run.
type PatchSpec map[string]CropSize

// CropSize is a target raster size in pixels.
type CropSize struct {
	Height int
	Width  int
}

// NewPatchSpec pairs band names with square crop sizes, mirroring the
// positional band/crop lists on the command line. A crop of 0 means no
// cropping for that band.
func NewPatchSpec(bands []string, crops []int) PatchSpec {
	spec := make(PatchSpec, len(bands))
	for i, band := range bands {
		if i < len(crops) && crops[i] > 0 {
			spec[band] = CropSize{Height: crops[i], Width: crops[i]}
		}
	}
	return spec
}

// Scene is a resolved remote-catalog image for one coordinate and one
// DateWindow. The identifier names the on-disk directory for the scene's
// patches; Metadata is the raw catalog record, persisted verbatim.
type Scene struct {
	ID         string
	AcquiredAt time.Time
	CloudCover float64
	Footprint  BoundingBox
	Metadata   json.RawMessage
}

// Raster is a single-band, single-channel pixel array indexed [row][col].
type Raster [][]float64

// Size returns the raster's height and width in pixels.
func (r Raster) Size() (height, width int) {
	if len(r) == 0 {
		return 0, 0
	}
	return len(r), len(r[0])
}

// RasterPatch is the extracted, cropped patch set for one scene: one
// raster per band plus the geographic box of the (possibly cropped)
// extent and the scene's raw metadata.
type RasterPatch struct {
	Scene   Scene
	Bands   map[string]Raster
	Bounds  BoundingBox
	Indexed []string // band order as requested, for deterministic writes
}
