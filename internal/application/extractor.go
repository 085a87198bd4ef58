package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jobrunner/terrapatch/internal/domain"
	"github.com/jobrunner/terrapatch/internal/ports/output"
)

// ExtractorConfig holds patch extraction settings.
type ExtractorConfig struct {
	RadiusMeters float64
	Bands        []string
	Crops        domain.PatchSpec

	// QA cloud-bit masking. Off by default; when enabled the QA band is
	// fetched alongside the data bands and cloudy pixels are zeroed.
	MaskClouds bool
	QABand     string
	QACloudBit int
}

// PatchExtractor retrieves per-band rasters for a resolved scene, center
// crops them to the configured sizes and recomputes the geographic corner
// coordinates of the cropped extent.
type PatchExtractor struct {
	catalog output.Catalog
	cfg     ExtractorConfig
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewPatchExtractor creates a patch extractor.
func NewPatchExtractor(catalog output.Catalog, cfg ExtractorConfig, metrics output.MetricsCollector, logger *slog.Logger) *PatchExtractor {
	return &PatchExtractor{
		catalog: catalog,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Extract builds the buffered region around the coordinate, fetches the
// raw rasters and produces the cropped patch. All-or-nothing: any missing
// band fails the whole patch.
func (e *PatchExtractor) Extract(ctx context.Context, scene domain.Scene, center domain.Coordinate) (domain.RasterPatch, error) {
	start := time.Now()

	bands := e.cfg.Bands
	if e.cfg.MaskClouds && e.cfg.QABand != "" {
		bands = append(append([]string{}, bands...), e.cfg.QABand)
	}

	resp, err := e.catalog.Pixels(ctx, output.PixelRequest{
		SceneID: scene.ID,
		Region:  domain.BufferedBox(center, e.cfg.RadiusMeters),
		Bands:   bands,
	})
	e.metrics.ObserveExtractDuration(time.Since(start))
	if err != nil {
		return domain.RasterPatch{}, err
	}

	var qa domain.Raster
	if e.cfg.MaskClouds && e.cfg.QABand != "" {
		qa = resp.Bands[e.cfg.QABand]
	}

	patch := domain.RasterPatch{
		Scene:   scene,
		Bands:   make(map[string]domain.Raster, len(e.cfg.Bands)),
		Bounds:  resp.Bounds,
		Indexed: e.cfg.Bands,
	}

	// The first band's native size anchors the coordinate adjustment,
	// mirroring how the source extent is reported per request rather
	// than per band.
	var oldSize, newSize domain.CropSize
	for i, band := range e.cfg.Bands {
		raster, ok := resp.Bands[band]
		if !ok || len(raster) == 0 {
			return domain.RasterPatch{}, fmt.Errorf("%w: band %s missing from pixel response", domain.ErrTransport, band)
		}
		if qa != nil {
			raster = MaskCloudPixels(raster, qa, e.cfg.QACloudBit)
		}

		h, w := raster.Size()
		cropped := raster
		if size, ok := e.cfg.Crops[band]; ok {
			cropped = CenterCrop(raster, size)
		}
		if i == 0 {
			oldSize = domain.CropSize{Height: h, Width: w}
			ch, cw := cropped.Size()
			newSize = domain.CropSize{Height: ch, Width: cw}
		}
		patch.Bands[band] = cropped
	}

	if newSize != oldSize {
		patch.Bounds = AdjustCoords(resp.Bounds, oldSize, newSize)
	}
	return patch, nil
}

// CenterCrop crops a raster to the target size around its center. The
// top/left offset is floor((source-target+1)/2), so an odd margin leaves
// the extra pixel on the top/left. A target dimension at or above the
// source keeps that dimension unchanged, so a crop matching the source
// size is the identity.
func CenterCrop(r domain.Raster, size domain.CropSize) domain.Raster {
	h, w := r.Size()
	outH := min(size.Height, h)
	outW := min(size.Width, w)
	if outH == h && outW == w {
		return r
	}
	top := (h - outH + 1) / 2
	left := (w - outW + 1) / 2

	out := make(domain.Raster, outH)
	for y := 0; y < outH; y++ {
		out[y] = r[top+y][left : left+outW]
	}
	return out
}

// AdjustCoords recomputes the two-corner geographic box after a center
// crop by linearly interpolating the original per-pixel resolution
// against the crop offsets and size.
func AdjustCoords(b domain.BoundingBox, oldSize, newSize domain.CropSize) domain.BoundingBox {
	xres := b.Width() / float64(oldSize.Width)
	yres := b.Height() / float64(oldSize.Height)
	xoff := (oldSize.Width - newSize.Width + 1) / 2
	yoff := (oldSize.Height - newSize.Height + 1) / 2

	return domain.BoundingBox{
		TopLeft: domain.Coordinate{
			Lon: b.TopLeft.Lon + float64(xoff)*xres,
			Lat: b.TopLeft.Lat - float64(yoff)*yres,
		},
		BottomRight: domain.Coordinate{
			Lon: b.TopLeft.Lon + float64(xoff+newSize.Width)*xres,
			Lat: b.TopLeft.Lat - float64(yoff+newSize.Height)*yres,
		},
	}
}

// MaskCloudPixels zeroes every pixel whose QA value has the cloud bit
// set. Both flags clear means clear conditions.
func MaskCloudPixels(r, qa domain.Raster, cloudBit int) domain.Raster {
	mask := uint64(1) << uint(cloudBit)
	out := make(domain.Raster, len(r))
	for y := range r {
		out[y] = make([]float64, len(r[y]))
		copy(out[y], r[y])
		if y >= len(qa) {
			continue
		}
		for x := range r[y] {
			if x >= len(qa[y]) {
				continue
			}
			if uint64(math.Round(qa[y][x]))&mask != 0 {
				out[y][x] = 0
			}
		}
	}
	return out
}
