package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/terrapatch/internal/domain"
	"github.com/jobrunner/terrapatch/internal/ports/output"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockCatalog implements output.Catalog for testing.
type mockCatalog struct {
	mu         sync.Mutex
	scenes     []domain.Scene
	searchErr  error
	failFirst  int // fail this many Search calls before succeeding
	pixels     output.PixelResponse
	pixelsErr  error
	searchCnt  int
	pixelsCnt  int
	lastQuery  output.SceneQuery
	lastPixels output.PixelRequest
}

func (m *mockCatalog) Search(_ context.Context, q output.SceneQuery) ([]domain.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCnt++
	m.lastQuery = q
	if m.failFirst > 0 {
		m.failFirst--
		return nil, domain.ErrTransport
	}
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return append([]domain.Scene{}, m.scenes...), nil
}

func (m *mockCatalog) Pixels(_ context.Context, req output.PixelRequest) (output.PixelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pixelsCnt++
	m.lastPixels = req
	if m.pixelsErr != nil {
		return output.PixelResponse{}, m.pixelsErr
	}
	return m.pixels, nil
}

// mockStore implements output.PatchStore in memory.
type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string][]byte)}
}

func (m *mockStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = append([]byte{}, data...)
	return nil
}

func (m *mockStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *mockStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

// mockEncoder implements output.RasterEncoder with a trivial encoding.
type mockEncoder struct{}

func (m *mockEncoder) Encode(r domain.Raster, _ domain.BoundingBox) ([]byte, error) {
	h, w := r.Size()
	return []byte{byte(h), byte(w)}, nil
}

func (m *mockEncoder) Ext() string { return ".tif" }

// mockManifest implements output.Manifest in memory.
type mockManifest struct {
	mu      sync.Mutex
	entries []output.ManifestEntry
}

func (m *mockManifest) Record(_ context.Context, entries []output.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockManifest) Close() error { return nil }

// fixedSampler returns a scripted sequence of coordinates, repeating the
// last one when exhausted.
type fixedSampler struct {
	mu     sync.Mutex
	coords []domain.Coordinate
	next   int
}

func (s *fixedSampler) Sample() domain.Coordinate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.coords) {
		return s.coords[len(s.coords)-1]
	}
	c := s.coords[s.next]
	s.next++
	return c
}
