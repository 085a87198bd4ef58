package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jobrunner/terrapatch/internal/domain"
	"github.com/jobrunner/terrapatch/internal/ports/output"
)

// harvestEnv bundles the fakes behind one harvester run.
type harvestEnv struct {
	catalog *mockCatalog
	store   *mockStore
	ledger  *CheckpointLedger
}

// successCatalog returns a catalog that resolves one scene inside the
// 2021-12-21 / 60 day window and serves a single band.
func successCatalog() *mockCatalog {
	return &mockCatalog{
		scenes: []domain.Scene{{
			ID:         "s1",
			AcquiredAt: date("2021-12-10"),
			Metadata:   []byte(`{}`),
		}},
		pixels: output.PixelResponse{
			Bands: map[string]domain.Raster{"B2": gradientRaster(4, 4)},
			Bounds: domain.BoundingBox{
				TopLeft:     domain.Coordinate{Lon: 8.0, Lat: 47.5},
				BottomRight: domain.Coordinate{Lon: 8.1, Lat: 47.4},
			},
		},
	}
}

func newHarvestEnv(t *testing.T, catalog *mockCatalog) *harvestEnv {
	t.Helper()
	return &harvestEnv{
		catalog: catalog,
		store:   newMockStore(),
		ledger:  NewCheckpointLedger(filepath.Join(t.TempDir(), "checked_locations.csv")),
	}
}

func testHarvesterConfig(n int) HarvesterConfig {
	return HarvesterConfig{
		StartIndex: 0,
		EndIndex:   n,
		Workers:    0,
		LogFreq:    100,
		WindowDays: 60,
		Dates:      []time.Time{date("2021-12-21")},
	}
}

func (e *harvestEnv) harvester(cfg HarvesterConfig, mut func(*HarvesterDeps)) *Harvester {
	noop := &output.NoOpMetrics{}
	deps := HarvesterDeps{
		Resolver:  NewSceneResolver(e.catalog, testResolverConfig(), noop, testLogger()),
		Extractor: NewPatchExtractor(e.catalog, ExtractorConfig{RadiusMeters: 1320, Bands: []string{"B2"}}, noop, testLogger()),
		Writer:    NewPatchWriter(e.store, &mockEncoder{}, &mockManifest{}, testLogger(), "run-t"),
		Ledger:    e.ledger,
		Metrics:   noop,
		Logger:    testLogger(),
		RunID:     "run-t",
	}
	if mut != nil {
		mut(&deps)
	}
	return NewHarvester(cfg, deps)
}

func (e *harvestEnv) loadLedger(t *testing.T) map[int]domain.LedgerRecord {
	t.Helper()
	records, err := e.ledger.Load()
	if err != nil {
		t.Fatalf("ledger load: %v", err)
	}
	return records
}

func TestHarvesterSampleRun(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	coords := []domain.Coordinate{
		domain.NewCoordinate(10, 50),
		domain.NewCoordinate(60, 10),
		domain.NewCoordinate(-100, -30),
	}
	h := env.harvester(testHarvesterConfig(3), func(d *HarvesterDeps) {
		d.Sampler = &fixedSampler{coords: coords}
		d.Overlap = NewGridIndex(1320)
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 3 || summary.Failed != 0 || summary.Completed != 3 {
		t.Fatalf("summary = %+v", summary)
	}

	records := env.loadLedger(t)
	if len(records) != 3 {
		t.Fatalf("ledger records = %d, want 3", len(records))
	}
	for i, c := range coords {
		rec, ok := records[i]
		if !ok {
			t.Fatalf("ledger missing index %d", i)
		}
		if rec.Status != domain.StatusSampledSuccess {
			t.Errorf("index %d status = %v", i, rec.Status)
		}
		if rec.Coordinate != c {
			t.Errorf("index %d coordinate = %+v, want %+v", i, rec.Coordinate, c)
		}
	}

	// One band plus metadata per index.
	if got := len(env.store.keys()); got != 6 {
		t.Errorf("stored objects = %d, want 6", got)
	}
	if ok, _ := env.store.Exists(context.Background(), "imgs/000001/s1/B2.tif"); !ok {
		t.Error("missing patch for index 1")
	}
}

func TestHarvesterWorkerPool(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	cfg := testHarvesterConfig(20)
	cfg.Workers = 4
	h := env.harvester(cfg, func(d *HarvesterDeps) {
		d.Sampler = NewUniformSampler(DefaultSeed)
		d.Overlap = NewGridIndex(1320)
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 20 {
		t.Fatalf("succeeded = %d, want 20", summary.Succeeded)
	}
	if got := len(env.loadLedger(t)); got != 20 {
		t.Errorf("ledger records = %d, want 20", got)
	}
	if got := len(env.store.keys()); got != 40 {
		t.Errorf("stored objects = %d, want 40", got)
	}
}

func TestHarvesterResumeSampleMode(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	coord := domain.NewCoordinate(10, 50)
	h := env.harvester(testHarvesterConfig(3), func(d *HarvesterDeps) {
		d.Sampler = &fixedSampler{coords: []domain.Coordinate{coord}}
		d.Overlap = NewGridIndex(1320)
		d.Existing = map[int]domain.LedgerRecord{
			0: {Index: 0, Status: domain.StatusSampledSuccess},
			1: {Index: 1, Status: domain.StatusFailure},
			2: {Index: 2, Status: domain.StatusMatchedSuccess},
		}
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 2 || summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	// Only the previously failed index produced a fresh ledger row.
	records := env.loadLedger(t)
	if len(records) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(records))
	}
	if rec := records[1]; rec.Status != domain.StatusSampledSuccess || rec.Coordinate != coord {
		t.Errorf("index 1 record = %+v", rec)
	}
}

func TestHarvesterMatchModeSkipsProcessed(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	cfg := testHarvesterConfig(3)
	h := env.harvester(cfg, func(d *HarvesterDeps) {
		d.MatchCoords = map[int]domain.Coordinate{
			0: domain.NewCoordinate(10, 50),
			1: domain.NewCoordinate(60, 10),
			2: domain.NewCoordinate(-100, -30),
		}
		d.MatchOrder = []int{0, 1, 2}
		d.Existing = map[int]domain.LedgerRecord{
			0: {Index: 0, Status: domain.StatusMatchedSuccess},
			1: {Index: 1, Status: domain.StatusFailure},
			2: {Index: 2, Status: domain.StatusMatchedSuccess},
		}
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Failed indices stay skipped in match mode.
	if summary.Skipped != 3 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if env.catalog.searchCnt != 0 {
		t.Errorf("search calls = %d, want 0", env.catalog.searchCnt)
	}
}

func TestHarvesterMatchModeStatus(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	coord := domain.NewCoordinate(8.5, 47.4)
	cfg := testHarvesterConfig(1)
	h := env.harvester(cfg, func(d *HarvesterDeps) {
		d.MatchCoords = map[int]domain.Coordinate{5: coord}
		d.MatchOrder = []int{5}
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	rec := env.loadLedger(t)[5]
	if rec.Status != domain.StatusMatchedSuccess {
		t.Errorf("status = %v, want matched success", rec.Status)
	}
	if rec.Coordinate != coord {
		t.Errorf("coordinate = %+v, want %+v", rec.Coordinate, coord)
	}
}

func TestHarvesterRetrySamplesFreshCoordinate(t *testing.T) {
	catalog := successCatalog()
	catalog.failFirst = 1
	env := newHarvestEnv(t, catalog)

	first := domain.NewCoordinate(10, 50)
	second := domain.NewCoordinate(60, 10)
	overlap := NewGridIndex(1320)
	h := env.harvester(testHarvesterConfig(1), func(d *HarvesterDeps) {
		d.Sampler = &fixedSampler{coords: []domain.Coordinate{first, second}}
		d.Overlap = overlap
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if rec := env.loadLedger(t)[0]; rec.Coordinate != second {
		t.Errorf("recorded coordinate = %+v, want the retry draw %+v", rec.Coordinate, second)
	}
	// The failed draw stays in the overlap index.
	if overlap.Len() != 2 {
		t.Errorf("overlap points = %d, want 2", overlap.Len())
	}
	if env.catalog.searchCnt != 2 {
		t.Errorf("search calls = %d, want 2", env.catalog.searchCnt)
	}
}

func TestHarvesterMatchModeNoRetry(t *testing.T) {
	env := newHarvestEnv(t, &mockCatalog{searchErr: domain.ErrTransport})
	coord := domain.NewCoordinate(10, 50)
	h := env.harvester(testHarvesterConfig(1), func(d *HarvesterDeps) {
		d.MatchCoords = map[int]domain.Coordinate{0: coord}
		d.MatchOrder = []int{0}
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if env.catalog.searchCnt != 1 {
		t.Errorf("search calls = %d, want exactly 1", env.catalog.searchCnt)
	}
	if rec := env.loadLedger(t)[0]; rec.Status != domain.StatusFailure || rec.Coordinate != coord {
		t.Errorf("record = %+v", rec)
	}
}

func TestHarvesterRetryBudget(t *testing.T) {
	env := newHarvestEnv(t, &mockCatalog{searchErr: domain.ErrTransport})
	cfg := testHarvesterConfig(1)
	cfg.MaxRetries = 3
	overlap := NewGridIndex(1320)
	h := env.harvester(cfg, func(d *HarvesterDeps) {
		d.Sampler = &fixedSampler{coords: []domain.Coordinate{
			domain.NewCoordinate(10, 50),
			domain.NewCoordinate(60, 10),
			domain.NewCoordinate(-100, -30),
		}}
		d.Overlap = overlap
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if env.catalog.searchCnt != 3 {
		t.Errorf("search calls = %d, want 3", env.catalog.searchCnt)
	}
	if overlap.Len() != 3 {
		t.Errorf("overlap points = %d, want 3", overlap.Len())
	}
	if rec := env.loadLedger(t)[0]; rec.Status != domain.StatusFailure {
		t.Errorf("status = %v, want failure", rec.Status)
	}
}

func TestHarvesterPersistFailureNoRetry(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	env.store.putErr = domain.ErrInternal
	h := env.harvester(testHarvesterConfig(1), func(d *HarvesterDeps) {
		d.Sampler = &fixedSampler{coords: []domain.Coordinate{domain.NewCoordinate(10, 50)}}
		d.Overlap = NewGridIndex(1320)
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if env.catalog.searchCnt != 1 {
		t.Errorf("search calls = %d, want 1", env.catalog.searchCnt)
	}
	if got := len(env.store.keys()); got != 0 {
		t.Errorf("stored objects = %d, want none after failure", got)
	}
}

// panicEncoder blows up on every raster to exercise worker isolation.
type panicEncoder struct{}

func (panicEncoder) Encode(domain.Raster, domain.BoundingBox) ([]byte, error) {
	panic("encoder blew up")
}

func (panicEncoder) Ext() string { return ".tif" }

func TestHarvesterPanicIsolation(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	cfg := testHarvesterConfig(2)
	cfg.Workers = 2
	h := env.harvester(cfg, func(d *HarvesterDeps) {
		d.Sampler = &fixedSampler{coords: []domain.Coordinate{
			domain.NewCoordinate(10, 50),
			domain.NewCoordinate(60, 10),
		}}
		d.Overlap = NewGridIndex(1320)
		d.Writer = NewPatchWriter(env.store, panicEncoder{}, &mockManifest{}, testLogger(), "run-t")
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 2 || summary.Completed != 2 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestHarvesterFollowChannel(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	follow := make(chan MatchRow, 2)
	follow <- MatchRow{Index: 0, Coordinate: domain.NewCoordinate(10, 50)}
	follow <- MatchRow{Index: 1, Coordinate: domain.NewCoordinate(60, 10)}
	close(follow)

	cfg := testHarvesterConfig(0) // empty static range, follow feed only
	h := env.harvester(cfg, func(d *HarvesterDeps) {
		d.MatchCoords = map[int]domain.Coordinate{}
		d.MatchOrder = []int{}
		d.Follow = follow
	})

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 2 || summary.Total != 2 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestHarvesterContextCancelled(t *testing.T) {
	env := newHarvestEnv(t, successCatalog())
	h := env.harvester(testHarvesterConfig(5), func(d *HarvesterDeps) {
		d.Sampler = &fixedSampler{coords: []domain.Coordinate{domain.NewCoordinate(10, 50)}}
		d.Overlap = NewGridIndex(1320)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := h.Run(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if summary.Completed != 0 {
		t.Errorf("completed = %d, want 0", summary.Completed)
	}
}
