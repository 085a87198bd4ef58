// Package catalog provides an HTTP client for the imagery catalog API.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/terrapatch/internal/domain"
	"github.com/jobrunner/terrapatch/internal/ports/output"
)

// Config holds catalog client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements output.Catalog against the catalog's JSON API. Scene
// search posts a point-intersection query with two acquisition ranges and
// a cloud ceiling; pixel retrieval posts the scene, band list and region
// and gets per-band sample grids back.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a catalog client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type dateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type searchRequest struct {
	Collections []string                      `json:"collections"`
	Intersects  *geojson.Geometry             `json:"intersects"`
	Ranges      []dateRange                   `json:"ranges"`
	Query       map[string]map[string]float64 `json:"query,omitempty"`
	Limit       int                           `json:"limit,omitempty"`
}

type feature struct {
	ID         string          `json:"id"`
	Properties json.RawMessage `json:"properties"`
}

type searchResponse struct {
	Features []feature `json:"features"`
}

type sceneProperties struct {
	Datetime time.Time `json:"datetime"`
}

// Search implements output.Catalog.
func (c *Client) Search(ctx context.Context, q output.SceneQuery) ([]domain.Scene, error) {
	req := searchRequest{
		Collections: []string{q.Collection},
		Intersects:  geojson.NewGeometry(orb.Point{q.Point.Lon, q.Point.Lat}),
		Ranges: []dateRange{
			{Start: q.Window.CurrentStart, End: q.Window.CurrentEnd},
			{Start: q.Window.PriorStart, End: q.Window.PriorEnd},
		},
	}
	if q.CloudField != "" {
		req.Query = map[string]map[string]float64{
			q.CloudField: {"lt": q.CloudMax},
		}
	}

	var resp searchResponse
	if err := c.post(ctx, "/search", req, &resp); err != nil {
		return nil, err
	}

	scenes := make([]domain.Scene, 0, len(resp.Features))
	for _, f := range resp.Features {
		var props sceneProperties
		if err := json.Unmarshal(f.Properties, &props); err != nil {
			return nil, fmt.Errorf("decoding scene %s properties: %w", f.ID, err)
		}
		cloud := cloudValue(f.Properties, q.CloudField)
		scenes = append(scenes, domain.Scene{
			ID:         f.ID,
			AcquiredAt: props.Datetime,
			CloudCover: cloud,
			Metadata:   f.Properties,
		})
	}
	return scenes, nil
}

// cloudValue pulls the configured cloud field out of the raw properties.
// Absent or malformed values read as zero and never fail the search.
func cloudValue(props json.RawMessage, field string) float64 {
	if field == "" {
		return 0
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(props, &all); err != nil {
		return 0
	}
	var v float64
	if err := json.Unmarshal(all[field], &v); err != nil {
		return 0
	}
	return v
}

type cornerJSON struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

type boundsJSON struct {
	TopLeft     cornerJSON `json:"top_left"`
	BottomRight cornerJSON `json:"bottom_right"`
}

type pixelsRequest struct {
	SceneID string     `json:"scene_id"`
	Bands   []string   `json:"bands"`
	Region  boundsJSON `json:"region"`
}

type pixelsResponse struct {
	Bands  map[string][][]float64 `json:"bands"`
	Bounds boundsJSON             `json:"bounds"`
}

// Pixels implements output.Catalog.
func (c *Client) Pixels(ctx context.Context, req output.PixelRequest) (output.PixelResponse, error) {
	body := pixelsRequest{
		SceneID: req.SceneID,
		Bands:   req.Bands,
		Region:  toBoundsJSON(req.Region),
	}

	var resp pixelsResponse
	if err := c.post(ctx, "/pixels", body, &resp); err != nil {
		return output.PixelResponse{}, err
	}

	out := output.PixelResponse{
		Bands:  make(map[string]domain.Raster, len(resp.Bands)),
		Bounds: fromBoundsJSON(resp.Bounds),
	}
	for band, grid := range resp.Bands {
		out.Bands[band] = domain.Raster(grid)
	}
	return out, nil
}

func toBoundsJSON(b domain.BoundingBox) boundsJSON {
	return boundsJSON{
		TopLeft:     cornerJSON{Lon: b.TopLeft.Lon, Lat: b.TopLeft.Lat},
		BottomRight: cornerJSON{Lon: b.BottomRight.Lon, Lat: b.BottomRight.Lat},
	}
}

func fromBoundsJSON(b boundsJSON) domain.BoundingBox {
	return domain.BoundingBox{
		TopLeft:     domain.Coordinate{Lon: b.TopLeft.Lon, Lat: b.TopLeft.Lat},
		BottomRight: domain.Coordinate{Lon: b.BottomRight.Lon, Lat: b.BottomRight.Lat},
	}
}

// post sends one JSON request and decodes the JSON response. Network and
// server-side failures surface as transport errors so callers can treat
// them as transient.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "api-key "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrTransport, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("catalog request failed", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrTransport, path, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", domain.ErrTransport, path, err)
	}
	return nil
}
