// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the fixed Earth radius used for all degree/kilometer
// conversions. The whole pipeline uses a constant-radius small-angle
// approximation; achieved point density depends on it staying fixed.
const EarthRadiusKm = 6371.0

// Coordinate represents a geographic point in WGS84 degrees.
type Coordinate struct {
	Lon float64 // Longitude in [-180, 180]
	Lat float64 // Latitude in [-90, 90]
}

// NewCoordinate creates a coordinate from longitude and latitude.
func NewCoordinate(lon, lat float64) Coordinate {
	return Coordinate{Lon: lon, Lat: lat}
}

// Validate checks that the coordinate lies within the valid ranges.
func (c Coordinate) Validate() error {
	if c.Lon < -180 || c.Lon > 180 {
		return &ValidationError{
			Field:      "longitude",
			Value:      c.Lon,
			Constraint: "[-180, 180]",
			Message:    "longitude must be between -180 and 180",
		}
	}
	if c.Lat < -90 || c.Lat > 90 {
		return &ValidationError{
			Field:      "latitude",
			Value:      c.Lat,
			Constraint: "[-90, 90]",
			Message:    "latitude must be between -90 and 90",
		}
	}
	return nil
}

// String returns a string representation of the coordinate.
func (c Coordinate) String() string {
	return fmt.Sprintf("POINT(%f %f)", c.Lon, c.Lat)
}

// KmToDeg converts kilometers to degrees of arc on the fixed-radius Earth.
func KmToDeg(km float64) float64 {
	return km / (2.0 * EarthRadiusKm * math.Pi / 360.0)
}

// DegToKm converts degrees of arc to kilometers on the fixed-radius Earth.
func DegToKm(deg float64) float64 {
	return deg * (2.0 * EarthRadiusKm * math.Pi / 360.0)
}

// PlanarDistanceKm returns the approximate distance between two coordinates
// in kilometers: per-axis degree deltas converted with the fixed-radius
// approximation and combined as Euclidean distance, not great-circle.
func PlanarDistanceKm(a, b Coordinate) float64 {
	dx := DegToKm(math.Abs(a.Lon - b.Lon))
	dy := DegToKm(math.Abs(a.Lat - b.Lat))
	return math.Sqrt(dx*dx + dy*dy)
}

// BoundingBox is a two-corner geographic box: top-left (min lon, max lat)
// and bottom-right (max lon, min lat), in degrees.
type BoundingBox struct {
	TopLeft     Coordinate
	BottomRight Coordinate
}

// Width returns the longitudinal extent of the box in degrees.
func (b BoundingBox) Width() float64 {
	return b.BottomRight.Lon - b.TopLeft.Lon
}

// Height returns the latitudinal extent of the box in degrees.
func (b BoundingBox) Height() float64 {
	return b.TopLeft.Lat - b.BottomRight.Lat
}

// Resolution returns the per-pixel geographic resolution of a raster with
// the given pixel dimensions covering this box.
func (b BoundingBox) Resolution(height, width int) (xres, yres float64) {
	xres = b.Width() / float64(width)
	yres = b.Height() / float64(height)
	return xres, yres
}

// BufferedBox returns the square-ish bounding box around a center point
// covering radiusMeters in every direction.
func BufferedBox(center Coordinate, radiusMeters float64) BoundingBox {
	d := KmToDeg(radiusMeters / 1000.0)
	return BoundingBox{
		TopLeft:     Coordinate{Lon: center.Lon - d, Lat: center.Lat + d},
		BottomRight: Coordinate{Lon: center.Lon + d, Lat: center.Lat - d},
	}
}
