package application

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jobrunner/terrapatch/internal/domain"
	"github.com/jobrunner/terrapatch/internal/ports/output"
)

// ResolverConfig holds scene resolution settings.
type ResolverConfig struct {
	Collection string
	CloudField string  // metadata field holding the scene cloud percentage
	CloudPct   float64 // strict upper bound on cloud cover
}

// SceneResolver selects one scene per coordinate and date window from the
// remote catalog: the most recently acquired scene that contains the
// coordinate, falls in either sub-range of the window and stays under the
// cloud threshold.
type SceneResolver struct {
	catalog output.Catalog
	cfg     ResolverConfig
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewSceneResolver creates a scene resolver.
func NewSceneResolver(catalog output.Catalog, cfg ResolverConfig, metrics output.MetricsCollector, logger *slog.Logger) *SceneResolver {
	return &SceneResolver{
		catalog: catalog,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Resolve returns the scene for one coordinate and window, or an error
// wrapping domain.ErrNoSuitableImage when the filtered catalog is empty.
func (r *SceneResolver) Resolve(ctx context.Context, coord domain.Coordinate, window domain.DateWindow) (domain.Scene, error) {
	start := time.Now()

	scenes, err := r.catalog.Search(ctx, output.SceneQuery{
		Collection: r.cfg.Collection,
		Point:      coord,
		Window:     window,
		CloudField: r.cfg.CloudField,
		CloudMax:   r.cfg.CloudPct,
	})
	r.metrics.ObserveResolveDuration(time.Since(start))
	if err != nil {
		return domain.Scene{}, &domain.ResolveError{Coordinate: coord, Window: window, Err: err}
	}

	// The catalog applies the filters server-side; re-check the window
	// locally so a lax backend cannot leak scenes outside the buffer.
	matching := scenes[:0]
	for _, s := range scenes {
		if window.Contains(s.AcquiredAt) {
			matching = append(matching, s)
		}
	}

	if len(matching) == 0 {
		return domain.Scene{}, &domain.ResolveError{Coordinate: coord, Window: window, Err: domain.ErrNoSuitableImage}
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].AcquiredAt.After(matching[j].AcquiredAt)
	})

	scene := matching[0]
	r.logger.Debug("resolved scene",
		"scene", scene.ID,
		"acquired", scene.AcquiredAt.Format(time.RFC3339),
		"cloud", scene.CloudCover,
		"lon", coord.Lon,
		"lat", coord.Lat,
	)
	return scene, nil
}
