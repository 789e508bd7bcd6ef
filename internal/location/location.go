// Package location resolves free-text place names to coordinates. Resolution
// never fails: every error degrades to the resolver's fallback point.
package location

import (
	"context"

	"go.uber.org/zap"

	"github.com/krishimitra/advisory-service/internal/client"
	"github.com/krishimitra/advisory-service/internal/models"
	"github.com/krishimitra/advisory-service/internal/observability"
)

// Fallback points, both in Delhi. The two geocoders historically used different precision.
var (
	OpenMeteoFallback = models.Coordinates{Latitude: 28.61, Longitude: 77.23, Fallback: true}
	NominatimFallback = models.Coordinates{Latitude: 28.6, Longitude: 77.2, Fallback: true}
)

// Resolver turns a place name into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, name string) models.Coordinates
}

// Searcher is the geocoding call a resolver delegates to.
type Searcher interface {
	Search(ctx context.Context, name string) ([]client.GeoMatch, error)
}

// GeocodingResolver resolves through a Searcher and falls back to a fixed point.
type GeocodingResolver struct {
	searcher Searcher
	fallback models.Coordinates
	name     string
	logger   *zap.Logger
}

// NewOpenMeteoResolver resolves through Open-Meteo geocoding with fallback (28.61, 77.23).
func NewOpenMeteoResolver(s Searcher, logger *zap.Logger) *GeocodingResolver {
	return newResolver("open_meteo", s, OpenMeteoFallback, logger)
}

// NewNominatimResolver resolves through Nominatim with fallback (28.6, 77.2).
func NewNominatimResolver(s Searcher, logger *zap.Logger) *GeocodingResolver {
	return newResolver("nominatim", s, NominatimFallback, logger)
}

func newResolver(name string, s Searcher, fallback models.Coordinates, logger *zap.Logger) *GeocodingResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeocodingResolver{searcher: s, fallback: fallback, name: name, logger: logger}
}

// Fallback returns the point used when resolution fails.
func (r *GeocodingResolver) Fallback() models.Coordinates {
	return r.fallback
}

// Resolve returns the first match for name, or the fallback point on any failure.
func (r *GeocodingResolver) Resolve(ctx context.Context, name string) models.Coordinates {
	logger := observability.LoggerFrom(ctx, r.logger).With(zap.String("geocoder", r.name), zap.String("location", name))
	logger.Debug("resolving location")

	matches, err := r.searcher.Search(ctx, name)
	switch {
	case err != nil:
		logger.Warn("location lookup failed, using default coordinates",
			zap.Error(err),
			zap.String("error_category", string(client.CategorizeError(err))),
		)
		return r.useFallback()
	case len(matches) == 0:
		logger.Warn("location not found, using default coordinates")
		return r.useFallback()
	}

	c := models.Coordinates{Latitude: matches[0].Latitude, Longitude: matches[0].Longitude}
	if !c.Valid() {
		logger.Warn("geocoder returned out-of-range coordinates, using default coordinates",
			zap.Float64("lat", c.Latitude), zap.Float64("lon", c.Longitude))
		return r.useFallback()
	}
	logger.Debug("found coordinates", zap.Float64("lat", c.Latitude), zap.Float64("lon", c.Longitude))
	return c
}

func (r *GeocodingResolver) useFallback() models.Coordinates {
	observability.RecordFallback(r.name, "geocode")
	return r.fallback
}
