package cities

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const sampleCSV = `city,city_ascii,lat,lng,country,population
Tokyo,Tokyo,35.6897,139.6922,Japan,37977000
Aldeia,Aldeia,-7.9500,-34.9000,Brazil,
Jakarta,Jakarta,-6.2146,106.8451,Indonesia,34540000
Bad Row,Bad Row,not-a-lat,1.0,Nowhere,5
Delhi,Delhi,28.6600,77.2300,India,29617000
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseCities(t *testing.T) {
	cities, err := ParseCities([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCities: %v", err)
	}
	// The unparseable row is dropped, the empty-population row kept.
	if len(cities) != 4 {
		t.Fatalf("cities = %d, want 4", len(cities))
	}
	if cities[0].Name != "Tokyo" {
		t.Errorf("first city = %q", cities[0].Name)
	}
	if cities[0].Coordinate.Lon != 139.6922 || cities[0].Coordinate.Lat != 35.6897 {
		t.Errorf("Tokyo coordinate = %+v", cities[0].Coordinate)
	}
	if cities[1].Population != 0 {
		t.Errorf("missing population = %v, want 0", cities[1].Population)
	}
}

func TestParseCitiesSkipsTruncatedRows(t *testing.T) {
	// An interrupted cache write can cut a row short of the coordinate
	// columns; such rows are dropped, not fatal.
	csv := "city,lat,lng,population\nTokyo,35.6897,139.6922,37977000\nParis\nDelhi,28.66\n"
	cities, err := ParseCities([]byte(csv))
	if err != nil {
		t.Fatalf("ParseCities: %v", err)
	}
	if len(cities) != 1 || cities[0].Name != "Tokyo" {
		t.Fatalf("cities = %+v, want just Tokyo", cities)
	}
}

func TestSortByPopulation(t *testing.T) {
	cities, err := ParseCities([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCities: %v", err)
	}
	SortByPopulation(cities)

	wantOrder := []string{"Tokyo", "Jakarta", "Delhi", "Aldeia"}
	for i, want := range wantOrder {
		if cities[i].Name != want {
			t.Errorf("city[%d] = %q, want %q", i, cities[i].Name, want)
		}
	}
}

func zipCSV(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create(name)
	if err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	if _, err := f.Write(content); err != nil {
		t.Fatalf("writing zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func TestTopCitiesDownloadAndCache(t *testing.T) {
	archive := zipCSV(t, "worldcities.csv", []byte(sampleCSV))
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "cities.csv")
	f := NewFetcher(Config{URL: srv.URL, CachePath: cache}, testLogger())

	cities, err := f.TopCities(context.Background(), 2)
	if err != nil {
		t.Fatalf("TopCities: %v", err)
	}
	if len(cities) != 2 {
		t.Fatalf("cities = %d, want 2", len(cities))
	}
	if cities[0].Name != "Tokyo" || cities[1].Name != "Jakarta" {
		t.Errorf("top cities = %q, %q", cities[0].Name, cities[1].Name)
	}

	if _, err := os.Stat(cache); err != nil {
		t.Fatalf("cache not written: %v", err)
	}

	// A second call must hit the cache, not the server.
	if _, err := f.TopCities(context.Background(), 2); err != nil {
		t.Fatalf("TopCities (cached): %v", err)
	}
	if hits != 1 {
		t.Errorf("server hits = %d, want 1", hits)
	}
}

func TestTopCitiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(Config{URL: srv.URL}, testLogger())
	if _, err := f.TopCities(context.Background(), 10); err == nil {
		t.Error("expected error for failing download")
	}
}

func TestCoordinates(t *testing.T) {
	cities, err := ParseCities([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCities: %v", err)
	}
	coords := Coordinates(cities)
	if len(coords) != len(cities) {
		t.Fatalf("coords = %d, want %d", len(coords), len(cities))
	}
	if coords[0] != cities[0].Coordinate {
		t.Errorf("coords[0] = %+v", coords[0])
	}
}
