package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent    = "krishimitra"
)

// NominatimClient geocodes through OpenStreetMap Nominatim, which requires a User-Agent.
type NominatimClient struct {
	upstream *Upstream
	baseURL  string
}

// NewNominatimClient builds a client. Empty baseURL uses the public endpoint.
func NewNominatimClient(baseURL string, opts Options) *NominatimClient {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &NominatimClient{
		upstream: NewUpstream("nominatim", opts),
		baseURL:  baseURL,
	}
}

// Upstream exposes the underlying upstream so callers can attach a breaker.
func (c *NominatimClient) Upstream() *Upstream { return c.upstream }

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Search resolves a free-text query to at most one place.
func (c *NominatimClient) Search(ctx context.Context, query string) ([]GeoMatch, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")

	var places []nominatimPlace
	if err := c.upstream.GetJSON(ctx, withQuery(c.baseURL, params), &places); err != nil {
		return nil, fmt.Errorf("nominatim %q: %w", query, err)
	}

	matches := make([]GeoMatch, 0, len(places))
	for _, p := range places {
		lat, err := strconv.ParseFloat(p.Lat, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: latitude %q", ErrBadResponse, p.Lat)
		}
		lon, err := strconv.ParseFloat(p.Lon, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: longitude %q", ErrBadResponse, p.Lon)
		}
		matches = append(matches, GeoMatch{Name: p.DisplayName, Latitude: lat, Longitude: lon})
	}
	return matches, nil
}
