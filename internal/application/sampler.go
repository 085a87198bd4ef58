// Package application contains the application services.
package application

import (
	"math/rand"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jobrunner/terrapatch/internal/domain"
)

// DefaultSeed fixes the sampling RNG so repeated runs draw the same
// candidate sequence.
const DefaultSeed = 42

// PointSampler produces candidate coordinates under one sampling strategy.
type PointSampler interface {
	Sample() domain.Coordinate
}

// lockedRand guards a rand.Rand for use from concurrent workers.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) uniform(min, max float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return min + l.rng.Float64()*(max-min)
}

func (l *lockedRand) normal(mean, std float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return mean + l.rng.NormFloat64()*std
}

func (l *lockedRand) intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

// UniformSampler draws longitude and latitude independently from their
// full valid ranges.
type UniformSampler struct {
	rnd *lockedRand
}

// NewUniformSampler creates a uniform global sampler.
func NewUniformSampler(seed int64) *UniformSampler {
	return &UniformSampler{rnd: newLockedRand(seed)}
}

// Sample implements PointSampler.
func (s *UniformSampler) Sample() domain.Coordinate {
	return domain.Coordinate{
		Lon: s.rnd.uniform(-180, 180),
		Lat: s.rnd.uniform(-90, 90),
	}
}

// GaussianSampler draws points from 2-D independent Gaussians centered on
// a fixed list of interest points (typically the top-N most populous
// cities, or points loaded from a vector file).
type GaussianSampler struct {
	points []domain.Coordinate
	stdDeg float64
	rnd    *lockedRand
}

// NewGaussianSampler creates a sampler around the given interest points.
// stdKm is the Gaussian standard deviation in kilometers, converted once
// to degrees with the fixed-radius approximation.
func NewGaussianSampler(points []domain.Coordinate, stdKm float64, seed int64) *GaussianSampler {
	return &GaussianSampler{
		points: points,
		stdDeg: domain.KmToDeg(stdKm),
		rnd:    newLockedRand(seed),
	}
}

// Sample implements PointSampler.
func (s *GaussianSampler) Sample() domain.Coordinate {
	p := s.points[s.rnd.intn(len(s.points))]
	return domain.Coordinate{
		Lon: s.rnd.normal(p.Lon, s.stdDeg),
		Lat: s.rnd.normal(p.Lat, s.stdDeg),
	}
}

// BoundedSampler rejection-samples uniformly within the bounding box of a
// polygon set until a candidate falls inside one of the polygons. The loop
// is unbounded: a boundary with near-zero area inside its bounding box can
// spin for a long time. Accepted risk.
type BoundedSampler struct {
	boundary orb.MultiPolygon
	bound    orb.Bound
	rnd      *lockedRand
}

// NewBoundedSampler creates a sampler constrained to the given polygons.
func NewBoundedSampler(boundary orb.MultiPolygon, seed int64) *BoundedSampler {
	return &BoundedSampler{
		boundary: boundary,
		bound:    boundary.Bound(),
		rnd:      newLockedRand(seed),
	}
}

// Sample implements PointSampler.
func (s *BoundedSampler) Sample() domain.Coordinate {
	for {
		p := orb.Point{
			s.rnd.uniform(s.bound.Min[0], s.bound.Max[0]),
			s.rnd.uniform(s.bound.Min[1], s.bound.Max[1]),
		}
		if planar.MultiPolygonContains(s.boundary, p) {
			return domain.Coordinate{Lon: p[0], Lat: p[1]}
		}
	}
}
