// Package vector loads GeoJSON sampling boundaries and anchor points.
package vector

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/terrapatch/internal/domain"
)

// LoadBoundary reads a GeoJSON file and collapses every polygonal
// geometry in it into one multipolygon. Feature collections, single
// features and bare geometries are all accepted; non-polygonal
// geometries are an error rather than silently ignored.
func LoadBoundary(path string) (orb.MultiPolygon, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- operator-supplied boundary path
	if err != nil {
		return nil, fmt.Errorf("reading boundary file: %w", err)
	}

	geoms, err := decodeGeometries(data)
	if err != nil {
		return nil, fmt.Errorf("parsing boundary file %s: %w", path, err)
	}

	var boundary orb.MultiPolygon
	for _, g := range geoms {
		switch geom := g.(type) {
		case orb.Polygon:
			boundary = append(boundary, geom)
		case orb.MultiPolygon:
			boundary = append(boundary, geom...)
		default:
			return nil, fmt.Errorf("boundary file %s contains non-polygonal geometry %s", path, geom.GeoJSONType())
		}
	}
	if len(boundary) == 0 {
		return nil, fmt.Errorf("boundary file %s contains no polygons", path)
	}
	return boundary, nil
}

// LoadAnchors reads a GeoJSON file of points and returns them as
// sampling anchor coordinates. MultiPoint geometries are flattened;
// non-point geometries are an error.
func LoadAnchors(path string) ([]domain.Coordinate, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- operator-supplied anchor path
	if err != nil {
		return nil, fmt.Errorf("reading anchor file: %w", err)
	}

	geoms, err := decodeGeometries(data)
	if err != nil {
		return nil, fmt.Errorf("parsing anchor file %s: %w", path, err)
	}

	var anchors []domain.Coordinate
	for _, g := range geoms {
		switch geom := g.(type) {
		case orb.Point:
			anchors = append(anchors, domain.Coordinate{Lon: geom.Lon(), Lat: geom.Lat()})
		case orb.MultiPoint:
			for _, p := range geom {
				anchors = append(anchors, domain.Coordinate{Lon: p.Lon(), Lat: p.Lat()})
			}
		default:
			return nil, fmt.Errorf("anchor file %s contains non-point geometry %s", path, geom.GeoJSONType())
		}
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("anchor file %s contains no points", path)
	}
	return anchors, nil
}

// decodeGeometries accepts the three GeoJSON top-level shapes.
func decodeGeometries(data []byte) ([]orb.Geometry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, err
		}
		geoms := make([]orb.Geometry, 0, len(fc.Features))
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
		return geoms, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return []orb.Geometry{f.Geometry}, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		return []orb.Geometry{g.Geometry()}, nil
	}
}
