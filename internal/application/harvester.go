package application

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jobrunner/terrapatch/internal/domain"
	"github.com/jobrunner/terrapatch/internal/ports/input"
	"github.com/jobrunner/terrapatch/internal/ports/output"
)

// HarvesterConfig holds orchestration settings.
type HarvesterConfig struct {
	StartIndex int
	EndIndex   int
	Workers    int // 0 runs every index inline on the calling goroutine
	LogFreq    int
	WindowDays int
	Dates      []time.Time

	// MaxRetries bounds the resample-and-retry loop per index in
	// sampling modes. 0 retries forever, matching the reference
	// behavior where a sampled index always eventually succeeds.
	MaxRetries int

	Debug bool
}

// MatchRow is one coordinate assignment appended to the match file while
// a followed run is active.
type MatchRow struct {
	Index      int
	Coordinate domain.Coordinate
}

// HarvesterDeps carries the collaborators of a Harvester. Sampler and
// Overlap are nil in match mode; MatchCoords and MatchOrder are nil in
// sampling modes.
type HarvesterDeps struct {
	Sampler     PointSampler
	Overlap     OverlapIndex
	Resolver    *SceneResolver
	Extractor   *PatchExtractor
	Writer      *PatchWriter
	Ledger      *CheckpointLedger
	Existing    map[int]domain.LedgerRecord
	MatchCoords map[int]domain.Coordinate
	MatchOrder  []int
	Follow      <-chan MatchRow
	Metrics     output.MetricsCollector
	Logger      *slog.Logger
	RunID       string
}

// Harvester fans indices out across a fixed worker pool. Each worker runs
// one index end-to-end: skip check, coordinate acquisition, per-window
// scene resolution and extraction (all-or-nothing), persistence, and a
// single ledger append. Completion order across indices is arbitrary.
type Harvester struct {
	cfg  HarvesterConfig
	deps HarvesterDeps

	windows []domain.DateWindow
	start   time.Time
	total   atomic.Int64

	// followMu guards coordinates learned from the follow feed, which
	// arrive while workers are already running.
	followMu     sync.Mutex
	followCoords map[int]domain.Coordinate

	// counter tracks successful downloads for the progress log; the
	// remaining counters feed the run summary.
	counter   atomic.Int64
	completed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// NewHarvester creates a harvester.
func NewHarvester(cfg HarvesterConfig, deps HarvesterDeps) *Harvester {
	return &Harvester{
		cfg:          cfg,
		deps:         deps,
		windows:      domain.Windows(cfg.Dates, cfg.WindowDays),
		followCoords: make(map[int]domain.Coordinate),
	}
}

func (h *Harvester) matchMode() bool {
	return h.deps.MatchCoords != nil
}

// indices returns the static index sequence for this run: match-file row
// order sliced by the indices range in match mode, the half-open range
// [start, end) otherwise.
func (h *Harvester) indices() []int {
	if h.matchMode() {
		start, end := h.cfg.StartIndex, h.cfg.EndIndex
		if start > len(h.deps.MatchOrder) {
			start = len(h.deps.MatchOrder)
		}
		if end > len(h.deps.MatchOrder) {
			end = len(h.deps.MatchOrder)
		}
		return h.deps.MatchOrder[start:end]
	}
	out := make([]int, 0, h.cfg.EndIndex-h.cfg.StartIndex)
	for i := h.cfg.StartIndex; i < h.cfg.EndIndex; i++ {
		out = append(out, i)
	}
	return out
}

// Run implements input.HarvestRunner.
func (h *Harvester) Run(ctx context.Context) (input.Summary, error) {
	h.start = time.Now()
	indices := h.indices()
	h.total.Store(int64(len(indices)))

	h.deps.Logger.Info("starting harvest",
		"run_id", h.deps.RunID,
		"indices", len(indices),
		"workers", h.cfg.Workers,
		"match_mode", h.matchMode(),
		"windows", len(h.windows),
	)

	if h.cfg.Workers <= 0 {
		for _, idx := range indices {
			if ctx.Err() != nil {
				break
			}
			h.processIndex(ctx, idx)
		}
		h.drainFollow(ctx, nil)
		return h.summary(), ctx.Err()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < h.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				h.processIndex(ctx, idx)
			}
		}()
	}

feed:
	for _, idx := range indices {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	h.drainFollow(ctx, jobs)
	close(jobs)
	wg.Wait()

	summary := h.summary()
	h.deps.Logger.Info("harvest finished",
		"run_id", h.deps.RunID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed", time.Since(h.start).Round(time.Millisecond),
	)
	return summary, ctx.Err()
}

// drainFollow forwards indices appended to the match file while the run
// is active. jobs may be nil when running inline.
func (h *Harvester) drainFollow(ctx context.Context, jobs chan<- int) {
	if h.deps.Follow == nil {
		return
	}
	for {
		select {
		case row, ok := <-h.deps.Follow:
			if !ok {
				return
			}
			h.followMu.Lock()
			h.followCoords[row.Index] = row.Coordinate
			h.followMu.Unlock()
			h.total.Add(1)
			if jobs == nil {
				h.processIndex(ctx, row.Index)
				continue
			}
			select {
			case jobs <- row.Index:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Progress implements input.ProgressReporter.
func (h *Harvester) Progress() input.Summary {
	return h.summary()
}

func (h *Harvester) summary() input.Summary {
	elapsed := time.Duration(0)
	if !h.start.IsZero() {
		elapsed = time.Since(h.start)
	}
	return input.Summary{
		RunID:      h.deps.RunID,
		Total:      int(h.total.Load()),
		Completed:  int(h.completed.Load()),
		Succeeded:  int(h.succeeded.Load()),
		Failed:     int(h.failed.Load()),
		Skipped:    int(h.skipped.Load()),
		ElapsedSec: elapsed.Seconds(),
	}
}

// processIndex runs the per-index state machine to one of the terminal
// states skipped, success or failure. Unexpected failures are isolated to
// the index: they produce a failure ledger row instead of killing the
// worker.
func (h *Harvester) processIndex(ctx context.Context, idx int) {
	defer func() {
		if r := recover(); r != nil {
			h.deps.Logger.Error("worker panic isolated", "index", idx, "panic", r)
			h.recordFailure(idx, domain.Coordinate{})
		}
	}()

	if rec, ok := h.deps.Existing[idx]; ok {
		// Match mode skips every processed index; sampling modes only
		// skip indices that did not fail.
		if h.matchMode() || rec.Status != domain.StatusFailure {
			h.skipped.Add(1)
			h.completed.Add(1)
			h.deps.Metrics.IncIndexProcessed("skipped")
			return
		}
	}

	var coord domain.Coordinate
	for attempt := 1; ; attempt++ {
		var ok bool
		coord, ok = h.acquire(idx)
		if !ok {
			h.deps.Logger.Warn("no coordinate for index", "index", idx)
			h.recordFailure(idx, coord)
			return
		}

		patches, err := h.collect(ctx, coord)
		if err == nil {
			if err := h.persist(ctx, idx, patches); err != nil {
				h.deps.Logger.Error("persisting patches failed", "index", idx, "error", err)
				h.recordFailure(idx, coord)
				return
			}
			h.recordSuccess(idx, coord)
			return
		}

		if h.cfg.Debug {
			h.deps.Logger.Debug("patch collection failed", "index", idx, "attempt", attempt, "error", err)
		}

		// Match mode never retries: the index's coordinate is fixed, so
		// a fresh draw cannot help. Sampling modes retry with a brand
		// new coordinate; the failed one stays burned in the overlap
		// index so the dead zone is not resampled.
		if h.matchMode() || !domain.Retryable(err) || ctx.Err() != nil {
			h.deps.Logger.Warn("no suitable image for location", "index", idx, "lon", coord.Lon, "lat", coord.Lat, "error", err)
			h.recordFailure(idx, coord)
			return
		}
		if h.cfg.MaxRetries > 0 && attempt >= h.cfg.MaxRetries {
			h.deps.Logger.Warn("retry budget exhausted", "index", idx, "attempts", attempt, "error", err)
			h.recordFailure(idx, coord)
			return
		}
		h.deps.Metrics.IncRetries()
	}
}

// acquire yields the coordinate for one attempt: the precomputed match
// coordinate, or a freshly sampled point accepted by the overlap index.
func (h *Harvester) acquire(idx int) (domain.Coordinate, bool) {
	if h.matchMode() {
		if c, ok := h.deps.MatchCoords[idx]; ok {
			return c, true
		}
		h.followMu.Lock()
		c, ok := h.followCoords[idx]
		h.followMu.Unlock()
		return c, ok
	}
	for {
		c := h.deps.Sampler.Sample()
		if h.deps.Overlap.TryInsert(c) {
			h.deps.Metrics.SetAcceptedPoints(h.deps.Overlap.Len())
			return c, true
		}
		h.deps.Metrics.IncOverlapRejected()
	}
}

// collect resolves a scene and extracts a patch for every configured date
// window. Any failure aborts the whole index's patch set.
func (h *Harvester) collect(ctx context.Context, coord domain.Coordinate) ([]domain.RasterPatch, error) {
	patches := make([]domain.RasterPatch, 0, len(h.windows))
	for _, window := range h.windows {
		scene, err := h.deps.Resolver.Resolve(ctx, coord, window)
		if err != nil {
			return nil, err
		}
		patch, err := h.deps.Extractor.Extract(ctx, scene, coord)
		if err != nil {
			return nil, err
		}
		patches = append(patches, patch)
	}
	return patches, nil
}

func (h *Harvester) persist(ctx context.Context, idx int, patches []domain.RasterPatch) error {
	for _, patch := range patches {
		if err := h.deps.Writer.Write(ctx, idx, patch); err != nil {
			return err
		}
	}
	h.deps.Metrics.IncPatchesSaved(len(patches))
	return nil
}

func (h *Harvester) recordSuccess(idx int, coord domain.Coordinate) {
	status := domain.StatusSampledSuccess
	if h.matchMode() {
		status = domain.StatusMatchedSuccess
	}
	h.appendLedger(domain.LedgerRecord{Index: idx, Coordinate: coord, Status: status})
	h.succeeded.Add(1)
	h.completed.Add(1)
	h.deps.Metrics.IncIndexProcessed(status.String())

	count := h.counter.Add(1)
	if h.cfg.LogFreq > 0 && count%int64(h.cfg.LogFreq) == 0 {
		h.deps.Logger.Info("downloaded locations",
			"count", count,
			"elapsed", time.Since(h.start).Round(time.Millisecond),
		)
	}
}

func (h *Harvester) recordFailure(idx int, coord domain.Coordinate) {
	h.appendLedger(domain.LedgerRecord{Index: idx, Coordinate: coord, Status: domain.StatusFailure})
	h.failed.Add(1)
	h.completed.Add(1)
	h.deps.Metrics.IncIndexProcessed("failure")
}

func (h *Harvester) appendLedger(rec domain.LedgerRecord) {
	if err := h.deps.Ledger.Append(rec); err != nil {
		h.deps.Logger.Error("ledger append failed", "index", rec.Index, "error", err)
	}
}
