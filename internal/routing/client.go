package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"
)

// Client fetches drivable routes from a Mapbox-style directions service.
type Client struct {
	cfg  *config.RoutingConfig
	http *http.Client
	log  *logger.Logger
}

// NewClient creates a routing client.
func NewClient(cfg *config.RoutingConfig, log *logger.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

type directionsResponse struct {
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route returns a coarse polyline from origin to destination. The service
// speaks GeoJSON, so coordinates arrive longitude first.
func (c *Client) Route(ctx context.Context, from, to geo.Point) ([]geo.Point, error) {
	endpoint := fmt.Sprintf("%s/%f,%f;%f,%f?geometries=geojson&access_token=%s",
		c.cfg.URL,
		from.Longitude, from.Latitude,
		to.Longitude, to.Latitude,
		url.QueryEscape(c.cfg.AccessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directions request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directions service returned status %d", resp.StatusCode)
	}

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode directions response: %w", err)
	}
	if len(dr.Routes) == 0 {
		return nil, fmt.Errorf("no route found")
	}

	coords := dr.Routes[0].Geometry.Coordinates
	polyline := make([]geo.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		polyline = append(polyline, geo.Point{Latitude: c[1], Longitude: c[0]})
	}
	if len(polyline) == 0 {
		return nil, fmt.Errorf("route has no coordinates")
	}

	return polyline, nil
}
