package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
)

// GeoMatch is one geocoder hit.
type GeoMatch struct {
	Name      string  `json:"name"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DailySeries is the raw "daily" block of a forecast response.
type DailySeries struct {
	Time   []string
	Values map[string][]float64
}

// OpenMeteoClient talks to the public Open-Meteo geocoding and forecast APIs (no key needed).
type OpenMeteoClient struct {
	geocoding   *Upstream
	forecast    *Upstream
	geocodeURL  string
	forecastURL string
}

// NewOpenMeteoClient builds a client. Empty URLs use the public endpoints.
func NewOpenMeteoClient(geocodeURL, forecastURL string, opts Options) *OpenMeteoClient {
	if geocodeURL == "" {
		geocodeURL = DefaultGeocodingURL
	}
	if forecastURL == "" {
		forecastURL = DefaultForecastURL
	}
	return &OpenMeteoClient{
		geocoding:   NewUpstream("open_meteo_geocoding", opts),
		forecast:    NewUpstream("open_meteo_forecast", opts),
		geocodeURL:  geocodeURL,
		forecastURL: forecastURL,
	}
}

// Geocoding exposes the geocoding upstream so callers can attach a breaker.
func (c *OpenMeteoClient) Geocoding() *Upstream { return c.geocoding }

// Forecast exposes the forecast upstream so callers can attach a breaker.
func (c *OpenMeteoClient) Forecast() *Upstream { return c.forecast }

type geocodeResponse struct {
	Results []GeoMatch `json:"results"`
}

// Search resolves a place name. An empty slice means the name matched nothing.
func (c *OpenMeteoClient) Search(ctx context.Context, name string) ([]GeoMatch, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("count", "1")

	var resp geocodeResponse
	if err := c.geocoding.GetJSON(ctx, withQuery(c.geocodeURL, params), &resp); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", name, err)
	}
	return resp.Results, nil
}

type currentResponse struct {
	Current map[string]json.RawMessage `json:"current"`
}

// Current fetches the "current" block for the requested fields. Numeric fields are
// returned; null or non-numeric ones are left out. A nil map means the response
// carried no current block at all.
func (c *OpenMeteoClient) Current(ctx context.Context, lat, lon float64, fields ...string) (map[string]float64, error) {
	params := coordParams(lat, lon)
	params.Set("current", strings.Join(fields, ","))

	var resp currentResponse
	if err := c.forecast.GetJSON(ctx, withQuery(c.forecastURL, params), &resp); err != nil {
		return nil, fmt.Errorf("current conditions: %w", err)
	}
	if resp.Current == nil {
		return nil, nil
	}
	out := make(map[string]float64, len(resp.Current))
	for k, raw := range resp.Current {
		if string(raw) == "null" {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}

type dailyResponse struct {
	Daily map[string]json.RawMessage `json:"daily"`
}

// Daily fetches a daily series of fields for the next days. A nil series means
// the response had no daily block.
func (c *OpenMeteoClient) Daily(ctx context.Context, lat, lon float64, days int, fields ...string) (*DailySeries, error) {
	params := coordParams(lat, lon)
	params.Set("daily", strings.Join(fields, ","))
	params.Set("forecast_days", strconv.Itoa(days))

	var resp dailyResponse
	if err := c.forecast.GetJSON(ctx, withQuery(c.forecastURL, params), &resp); err != nil {
		return nil, fmt.Errorf("daily forecast: %w", err)
	}
	if resp.Daily == nil {
		return nil, nil
	}

	series := &DailySeries{Values: make(map[string][]float64, len(fields))}
	if raw, ok := resp.Daily["time"]; ok {
		if err := json.Unmarshal(raw, &series.Time); err != nil {
			return nil, fmt.Errorf("%w: daily time: %v", ErrBadResponse, err)
		}
	}
	for _, f := range fields {
		raw, ok := resp.Daily[f]
		if !ok {
			continue
		}
		var vals []float64 // null entries decode as 0
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, fmt.Errorf("%w: daily %s: %v", ErrBadResponse, f, err)
		}
		series.Values[f] = vals
	}
	return series, nil
}

func coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("latitude", formatCoord(lat))
	params.Set("longitude", formatCoord(lon))
	return params
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func withQuery(base string, params url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
