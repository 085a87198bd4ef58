// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/terrapatch/internal/adapters/catalog"
	"github.com/jobrunner/terrapatch/internal/adapters/cities"
	"github.com/jobrunner/terrapatch/internal/adapters/geotiff"
	httpAdapter "github.com/jobrunner/terrapatch/internal/adapters/http"
	"github.com/jobrunner/terrapatch/internal/adapters/manifest"
	"github.com/jobrunner/terrapatch/internal/adapters/metrics"
	"github.com/jobrunner/terrapatch/internal/adapters/storage"
	"github.com/jobrunner/terrapatch/internal/adapters/vector"
	"github.com/jobrunner/terrapatch/internal/adapters/watcher"
	"github.com/jobrunner/terrapatch/internal/application"
	"github.com/jobrunner/terrapatch/internal/config"
	"github.com/jobrunner/terrapatch/internal/domain"
	"github.com/jobrunner/terrapatch/internal/ports/input"
	"github.com/jobrunner/terrapatch/internal/ports/output"
)

// LedgerFileName is the checkpoint CSV written next to the patches.
const LedgerFileName = "checked_locations.csv"

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	RunID         string
	Store         output.PatchStore
	Manifest      output.Manifest
	Harvester     *application.Harvester
	Metrics       *metrics.Collector
	MetricsServer *httpAdapter.Server
	Tailer        *watcher.Tailer
}

// New creates and wires a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		RunID:  uuid.New().String(),
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("terrapatch")
		metricsCollector = app.Metrics
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Store = store

	sampleType, err := geotiff.ParseSampleType(cfg.Harvest.DType)
	if err != nil {
		return nil, err
	}
	encoder := geotiff.NewEncoder(sampleType)

	app.Manifest = &output.NoOpManifest{}
	if cfg.Manifest.Enabled {
		m, err := manifest.Open(cfg.Manifest.Path)
		if err != nil {
			return nil, fmt.Errorf("opening manifest: %w", err)
		}
		app.Manifest = m
	}

	ledgerPath := cfg.Harvest.Resume
	if ledgerPath == "" {
		ledgerPath = filepath.Join(cfg.Harvest.SavePath, LedgerFileName)
	}
	ledger := application.NewCheckpointLedger(ledgerPath)

	existing := map[int]domain.LedgerRecord{}
	if cfg.Harvest.Resume != "" {
		existing, err = ledger.Load()
		if err != nil {
			return nil, fmt.Errorf("loading checkpoint ledger: %w", err)
		}
		logger.Info("resuming from checkpoint", "path", ledgerPath, "records", len(existing))
	}

	dates, err := cfg.Harvest.ReferenceDates()
	if err != nil {
		return nil, err
	}

	catalogClient := catalog.NewClient(catalog.Config{
		BaseURL: cfg.Catalog.BaseURL,
		APIKey:  cfg.Catalog.APIKey,
		Timeout: cfg.Catalog.Timeout,
	}, logger)

	resolver := application.NewSceneResolver(catalogClient, application.ResolverConfig{
		Collection: cfg.Catalog.Collection,
		CloudField: cfg.Catalog.CloudField,
		CloudPct:   cfg.Catalog.CloudPct,
	}, metricsCollector, logger)

	extractor := application.NewPatchExtractor(catalogClient, application.ExtractorConfig{
		RadiusMeters: cfg.Sampling.RadiusMeters,
		Bands:        cfg.Harvest.Bands,
		Crops:        domain.NewPatchSpec(cfg.Harvest.Bands, cfg.Harvest.Crops),
		MaskClouds:   cfg.Catalog.MaskClouds,
		QABand:       cfg.Catalog.QABand,
		QACloudBit:   cfg.Catalog.QACloudBit,
	}, metricsCollector, logger)

	writer := application.NewPatchWriter(store, encoder, app.Manifest, logger, app.RunID)

	deps := application.HarvesterDeps{
		Resolver:  resolver,
		Extractor: extractor,
		Writer:    writer,
		Ledger:    ledger,
		Existing:  existing,
		Metrics:   metricsCollector,
		Logger:    logger,
		RunID:     app.RunID,
	}

	if cfg.Harvest.MatchMode() {
		coords, order, err := application.LoadMatchTable(cfg.Harvest.MatchFile)
		if err != nil {
			return nil, fmt.Errorf("loading match file: %w", err)
		}
		deps.MatchCoords = coords
		deps.MatchOrder = order
		logger.Info("loaded match table", "path", cfg.Harvest.MatchFile, "rows", len(order))

		if cfg.Harvest.Follow {
			tailer, err := watcher.New(cfg.Harvest.MatchFile, len(order), logger)
			if err != nil {
				return nil, fmt.Errorf("initializing match file tailer: %w", err)
			}
			app.Tailer = tailer
			deps.Follow = tailer.Rows()
		}
	} else {
		sampler, err := initSampler(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		deps.Sampler = sampler
		deps.Overlap = initOverlap(cfg.Sampling)
		seedOverlap(deps.Overlap, existing)
	}

	app.Harvester = application.NewHarvester(application.HarvesterConfig{
		StartIndex: cfg.Harvest.StartIndex,
		EndIndex:   cfg.Harvest.EndIndex,
		Workers:    cfg.Harvest.Workers,
		LogFreq:    cfg.Harvest.LogFreq,
		WindowDays: cfg.Harvest.WindowDays,
		Dates:      dates,
		MaxRetries: cfg.Harvest.MaxRetries,
		Debug:      cfg.Harvest.Debug,
	}, deps)

	if cfg.Metrics.Enabled {
		app.MetricsServer = httpAdapter.NewServer(cfg.Metrics, app.Harvester, logger)
	}

	return app, nil
}

// Run executes the harvest and tears the side services down afterwards.
func (a *App) Run(ctx context.Context) (input.Summary, error) {
	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}
	if a.Tailer != nil {
		if err := a.Tailer.Start(ctx); err != nil {
			return input.Summary{}, fmt.Errorf("starting match file tailer: %w", err)
		}
	}

	summary, err := a.Harvester.Run(ctx)

	a.shutdown()
	return summary, err
}

func (a *App) shutdown() {
	if a.Tailer != nil {
		_ = a.Tailer.Stop()
	}
	if a.MetricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if err := a.Manifest.Close(); err != nil {
		a.Logger.Error("manifest close error", "error", err)
	}
}

// initSampler builds the coordinate source for sampling modes.
func initSampler(ctx context.Context, cfg *config.Config, logger *slog.Logger) (application.PointSampler, error) {
	seed := cfg.Sampling.Seed

	switch cfg.Sampling.Mode {
	case "uniform":
		return application.NewUniformSampler(seed), nil

	case "gaussian":
		if cfg.Sampling.AnchorFile != "" {
			anchors, err := vector.LoadAnchors(cfg.Sampling.AnchorFile)
			if err != nil {
				return nil, fmt.Errorf("loading anchor points: %w", err)
			}
			return application.NewGaussianSampler(anchors, cfg.Sampling.StdKm, seed), nil
		}
		fetcher := cities.NewFetcher(cities.Config{
			URL:       cfg.Sampling.CitiesURL,
			CachePath: cfg.Sampling.CitiesCache,
		}, logger)
		top, err := fetcher.TopCities(ctx, cfg.Sampling.NumCities)
		if err != nil {
			return nil, fmt.Errorf("loading city anchors: %w", err)
		}
		return application.NewGaussianSampler(cities.Coordinates(top), cfg.Sampling.StdKm, seed), nil

	case "bounded":
		boundary, err := vector.LoadBoundary(cfg.Sampling.BoundaryFile)
		if err != nil {
			return nil, err
		}
		return application.NewBoundedSampler(boundary, seed), nil

	default:
		return nil, fmt.Errorf("unknown sampling mode: %s", cfg.Sampling.Mode)
	}
}

// initOverlap builds the configured overlap index.
func initOverlap(cfg config.SamplingConfig) application.OverlapIndex {
	if cfg.OverlapIndex == "rtree" {
		return application.NewRTreeIndex(cfg.RadiusMeters)
	}
	return application.NewGridIndex(cfg.RadiusMeters)
}

// seedOverlap burns every resumed coordinate into the overlap index so a
// continued run keeps its separation guarantee against prior draws.
func seedOverlap(index application.OverlapIndex, existing map[int]domain.LedgerRecord) {
	if len(existing) == 0 {
		return
	}
	points := make([]domain.Coordinate, 0, len(existing))
	for _, rec := range existing {
		points = append(points, rec.Coordinate)
	}
	index.Seed(points)
}

// initStorage initializes the appropriate patch store adapter.
func initStorage(ctx context.Context, cfg *config.Config) (output.PatchStore, error) {
	switch cfg.Storage.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Harvest.SavePath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.Storage.S3.Bucket,
			Region:          cfg.Storage.S3.Region,
			Prefix:          cfg.Storage.S3.Prefix,
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Storage.Azure.Container,
			AccountName:      cfg.Storage.Azure.AccountName,
			AccountKey:       cfg.Storage.Azure.AccountKey,
			ConnectionString: cfg.Storage.Azure.ConnectionString,
			Prefix:           cfg.Storage.Azure.Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}
