package application

import (
	"math"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/jobrunner/terrapatch/internal/domain"
)

// pointRectTolerance turns a point into the degenerate rectangle rtreego
// requires for insertion.
const pointRectTolerance = 1e-9

// OverlapIndex is the spatial deduplication structure: it accepts a
// candidate only when the candidate keeps the minimum separation from
// every previously accepted point the index compares it against. The
// check-and-insert is atomic with respect to concurrent workers.
type OverlapIndex interface {
	// TryInsert accepts the candidate and records it, or rejects it
	// because an accepted point is too close. Accepted points are
	// immutable: there is no removal.
	TryInsert(c domain.Coordinate) bool

	// Seed inserts prior-run points without any separation check.
	Seed(points []domain.Coordinate)

	// Len returns the number of accepted points.
	Len() int
}

// MinSeparationKm is the rejection threshold for a patch radius in meters.
func MinSeparationKm(radiusMeters float64) float64 {
	return 1.5 * radiusMeters / 1000.0
}

// GridIndex buckets accepted points into 1-degree cells and compares a
// candidate only against points in its own cell. Points just across a
// cell boundary are never compared even when geographically closer than
// the threshold; downstream datasets depend on the density this achieves,
// so the gap is kept.
type GridIndex struct {
	mu       sync.Mutex
	cells    map[[2]int][]domain.Coordinate
	minSepKm float64
	count    int
}

// NewGridIndex creates a grid-bucket overlap index.
func NewGridIndex(radiusMeters float64) *GridIndex {
	return &GridIndex{
		cells:    make(map[[2]int][]domain.Coordinate),
		minSepKm: MinSeparationKm(radiusMeters),
	}
}

func gridCell(c domain.Coordinate) [2]int {
	return [2]int{int(math.Floor(c.Lon + 180)), int(math.Floor(c.Lat + 90))}
}

// TryInsert implements OverlapIndex.
func (g *GridIndex) TryInsert(c domain.Coordinate) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cell := gridCell(c)
	for _, p := range g.cells[cell] {
		if domain.PlanarDistanceKm(c, p) < g.minSepKm {
			return false
		}
	}
	g.cells[cell] = append(g.cells[cell], c)
	g.count++
	return true
}

// Seed implements OverlapIndex.
func (g *GridIndex) Seed(points []domain.Coordinate) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range points {
		cell := gridCell(p)
		g.cells[cell] = append(g.cells[cell], p)
		g.count++
	}
}

// Len implements OverlapIndex.
func (g *GridIndex) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// rtreePoint wraps an accepted coordinate as a degenerate rectangle.
type rtreePoint struct {
	coord domain.Coordinate
	rect  rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (p *rtreePoint) Bounds() rtreego.Rect {
	return p.rect
}

// RTreeIndex checks a candidate against its single nearest accepted point
// using an R-tree. Unlike GridIndex it has no cell-boundary blind spot.
type RTreeIndex struct {
	mu       sync.Mutex
	tree     *rtreego.Rtree
	minSepKm float64
}

// NewRTreeIndex creates an R-tree-backed overlap index.
func NewRTreeIndex(radiusMeters float64) *RTreeIndex {
	return &RTreeIndex{
		tree:     rtreego.NewTree(2, 25, 50),
		minSepKm: MinSeparationKm(radiusMeters),
	}
}

func newRTreePoint(c domain.Coordinate) *rtreePoint {
	rect := rtreego.Point{c.Lon, c.Lat}.ToRect(pointRectTolerance)
	return &rtreePoint{coord: c, rect: rect}
}

// TryInsert implements OverlapIndex.
func (r *RTreeIndex) TryInsert(c domain.Coordinate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tree.Size() > 0 {
		nearest := r.tree.NearestNeighbor(rtreego.Point{c.Lon, c.Lat})
		if p, ok := nearest.(*rtreePoint); ok {
			if domain.PlanarDistanceKm(c, p.coord) < r.minSepKm {
				return false
			}
		}
	}
	r.tree.Insert(newRTreePoint(c))
	return true
}

// Seed implements OverlapIndex.
func (r *RTreeIndex) Seed(points []domain.Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range points {
		r.tree.Insert(newRTreePoint(p))
	}
}

// Len implements OverlapIndex.
func (r *RTreeIndex) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Size()
}
