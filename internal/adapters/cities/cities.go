// Package cities loads the world-cities table that anchors Gaussian
// coordinate sampling.
package cities

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/terrapatch/internal/domain"
)

// City is one populated place from the basic world-cities table.
type City struct {
	Name       string
	Coordinate domain.Coordinate
	Population float64
}

// Config holds city source settings.
type Config struct {
	URL       string
	CachePath string
	Timeout   time.Duration
}

// Fetcher downloads and caches the world-cities CSV. The upstream ships
// it zipped; the cache holds the extracted CSV so reruns work offline.
type Fetcher struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewFetcher creates a city fetcher.
func NewFetcher(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Fetcher{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// TopCities returns the n most populated cities, most populated first.
func (f *Fetcher) TopCities(ctx context.Context, n int) ([]City, error) {
	data, err := f.load(ctx)
	if err != nil {
		return nil, err
	}

	cities, err := ParseCities(data)
	if err != nil {
		return nil, err
	}

	SortByPopulation(cities)
	if n > 0 && n < len(cities) {
		cities = cities[:n]
	}
	f.logger.Info("loaded city anchors", "cities", len(cities))
	return cities, nil
}

// load returns the raw CSV, from cache when present.
func (f *Fetcher) load(ctx context.Context) ([]byte, error) {
	if f.cfg.CachePath != "" {
		if data, err := os.ReadFile(f.cfg.CachePath); err == nil {
			f.logger.Debug("using cached city table", "path", f.cfg.CachePath)
			return data, nil
		}
	}

	data, err := f.download(ctx)
	if err != nil {
		return nil, err
	}

	if f.cfg.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(f.cfg.CachePath), 0750); err == nil {
			if err := os.WriteFile(f.cfg.CachePath, data, 0640); err != nil {
				f.logger.Warn("caching city table failed", "path", f.cfg.CachePath, "error", err)
			}
		}
	}
	return data, nil
}

// download fetches the zip archive and extracts the first CSV inside.
func (f *Fetcher) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building city download request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: downloading city table: %v", domain.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: city download returned %d", domain.ErrTransport, resp.StatusCode)
	}

	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading city archive: %v", domain.ErrTransport, err)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("opening city archive: %w", err)
	}
	for _, file := range zr.File {
		if !strings.HasSuffix(strings.ToLower(file.Name), ".csv") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s in city archive: %w", file.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s in city archive: %w", file.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("city archive contains no CSV")
}

// ParseCities decodes the basic world-cities CSV. Rows with unparseable
// coordinates are dropped; a missing population reads as zero so the row
// still sorts, just last.
func ParseCities(data []byte) ([]City, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading city header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	latCol, ok := col["lat"]
	if !ok {
		return nil, fmt.Errorf("city table has no lat column")
	}
	lngCol, ok := col["lng"]
	if !ok {
		return nil, fmt.Errorf("city table has no lng column")
	}
	nameCol, hasName := col["city"]
	popCol, hasPop := col["population"]

	var cities []City
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading city row: %w", err)
		}

		// A truncated cache can leave rows shorter than the header.
		if latCol >= len(row) || lngCol >= len(row) {
			continue
		}

		lat, latErr := strconv.ParseFloat(row[latCol], 64)
		lng, lngErr := strconv.ParseFloat(row[lngCol], 64)
		if latErr != nil || lngErr != nil {
			continue
		}

		city := City{Coordinate: domain.NewCoordinate(lng, lat)}
		if hasName && nameCol < len(row) {
			city.Name = row[nameCol]
		}
		if hasPop && popCol < len(row) {
			city.Population, _ = strconv.ParseFloat(row[popCol], 64)
		}
		cities = append(cities, city)
	}
	return cities, nil
}

// SortByPopulation orders cities most populated first. The sort is stable
// so equally sized (or unsized) cities keep their file order.
func SortByPopulation(cities []City) {
	sort.SliceStable(cities, func(i, j int) bool {
		return cities[i].Population > cities[j].Population
	})
}

// Coordinates projects a city list to its coordinates.
func Coordinates(cities []City) []domain.Coordinate {
	out := make([]domain.Coordinate, len(cities))
	for i, c := range cities {
		out[i] = c.Coordinate
	}
	return out
}
