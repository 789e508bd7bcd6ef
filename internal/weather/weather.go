// Package weather fetches current conditions, soil state and the weekly
// forecast for a point. Transforms are pure; Fetcher is the I/O boundary.
package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krishimitra/advisory-service/internal/client"
	"github.com/krishimitra/advisory-service/internal/models"
	"github.com/krishimitra/advisory-service/internal/observability"
)

var (
	ErrSoilUnavailable     = errors.New("soil data unavailable")
	ErrForecastUnavailable = errors.New("forecast unavailable")
)

// DefaultSoilTimeout bounds the soil request.
const DefaultSoilTimeout = 10 * time.Second

// Source is the forecast API surface the fetcher needs.
type Source interface {
	Current(ctx context.Context, lat, lon float64, fields ...string) (map[string]float64, error)
	Daily(ctx context.Context, lat, lon float64, days int, fields ...string) (*client.DailySeries, error)
}

// Fetcher reads environmental data for a point.
type Fetcher struct {
	source      Source
	soilTimeout time.Duration
	logger      *zap.Logger
}

// NewFetcher builds a Fetcher. soilTimeout <= 0 uses DefaultSoilTimeout.
func NewFetcher(source Source, soilTimeout time.Duration, logger *zap.Logger) *Fetcher {
	if soilTimeout <= 0 {
		soilTimeout = DefaultSoilTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{source: source, soilTimeout: soilTimeout, logger: logger}
}

// Weather returns current air temperature, humidity and soil moisture (one decimal).
// Missing fields take defaults and a failed request yields DefaultReading; it never errors.
func (f *Fetcher) Weather(ctx context.Context, c models.Coordinates) models.WeatherReading {
	logger := observability.LoggerFrom(ctx, f.logger).With(zap.Float64("lat", c.Latitude), zap.Float64("lon", c.Longitude))
	logger.Debug("fetching live weather")

	current, err := f.source.Current(ctx, c.Latitude, c.Longitude, FieldTemperature, FieldHumidity, FieldSoilMoisture)
	if err != nil {
		logger.Warn("weather fetch failed, using defaults",
			zap.Error(err),
			zap.String("error_category", string(client.CategorizeError(err))),
		)
		observability.RecordFallback("weather", "weather_defaults")
		return DefaultReading()
	}

	r := WeatherFromCurrent(current)
	logger.Debug("weather data",
		zap.Float64("temperature", r.Temperature),
		zap.Float64("humidity", r.Humidity),
		zap.Float64("moisture", r.Moisture),
	)
	return r
}

// Soil returns current soil temperature and moisture (two decimals). Failures
// wrap ErrSoilUnavailable.
func (f *Fetcher) Soil(ctx context.Context, c models.Coordinates) (models.SoilReading, error) {
	logger := observability.LoggerFrom(ctx, f.logger).With(zap.Float64("lat", c.Latitude), zap.Float64("lon", c.Longitude))
	logger.Debug("fetching soil data")

	ctx, cancel := context.WithTimeout(ctx, f.soilTimeout)
	defer cancel()

	current, err := f.source.Current(ctx, c.Latitude, c.Longitude, FieldSoilTemperature, FieldSoilMoisture)
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) {
			return models.SoilReading{}, fmt.Errorf("%w: HTTP Error %d: %s", ErrSoilUnavailable, se.StatusCode, se.Body)
		}
		return models.SoilReading{}, fmt.Errorf("%w: %w", ErrSoilUnavailable, err)
	}

	soil, err := SoilFromCurrent(current)
	if err != nil {
		return models.SoilReading{}, err
	}
	logger.Debug("soil data",
		zap.Float64("soil_temperature", soil.Temperature),
		zap.Float64("soil_moisture", soil.Moisture),
	)
	return soil, nil
}

// Reading combines Weather and Soil. Soil failures are returned; weather never fails.
func (f *Fetcher) Reading(ctx context.Context, c models.Coordinates) (models.EnvironmentalReading, error) {
	w := f.Weather(ctx, c)
	s, err := f.Soil(ctx, c)
	if err != nil {
		return models.EnvironmentalReading{}, err
	}
	return models.EnvironmentalReading{
		Temperature:     w.Temperature,
		Humidity:        w.Humidity,
		SoilMoisture:    s.Moisture,
		SoilTemperature: s.Temperature,
	}, nil
}

// Forecast returns the next ForecastDays days. Failures wrap ErrForecastUnavailable.
func (f *Fetcher) Forecast(ctx context.Context, c models.Coordinates) ([]models.ForecastDay, error) {
	logger := observability.LoggerFrom(ctx, f.logger).With(zap.Float64("lat", c.Latitude), zap.Float64("lon", c.Longitude))

	series, err := f.source.Daily(ctx, c.Latitude, c.Longitude, ForecastDays,
		FieldDailyTempMax, FieldDailyTempMin, FieldDailyRain, FieldDailyHumidityMax)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForecastUnavailable, err)
	}
	days, err := ForecastFromDaily(series)
	if err != nil {
		return nil, err
	}

	for _, d := range days {
		logger.Debug("forecast day",
			zap.String("day", d.Date.Format(dateLayout)),
			zap.Float64("rain_mm", d.Rainfall),
			zap.Float64("temperature", round(d.Temperature, 1)),
			zap.Float64("humidity", d.Humidity),
		)
	}
	summary := Summarize(days)
	logger.Info(summary.String(), zap.Bool("dry", summary.Dry), zap.Float64("total_rain_mm", summary.TotalRainfall))
	return days, nil
}
