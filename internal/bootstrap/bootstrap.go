// Package bootstrap wires a Config into a ready advisory.Service. The HTTP
// service and the CLI share it.
package bootstrap

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/krishimitra/advisory-service/internal/advisory"
	"github.com/krishimitra/advisory-service/internal/circuitbreaker"
	"github.com/krishimitra/advisory-service/internal/client"
	"github.com/krishimitra/advisory-service/internal/config"
	"github.com/krishimitra/advisory-service/internal/llm"
	"github.com/krishimitra/advisory-service/internal/location"
	"github.com/krishimitra/advisory-service/internal/observability"
	"github.com/krishimitra/advisory-service/internal/vision"
	"github.com/krishimitra/advisory-service/internal/weather"
)

// Options overrides pieces of the wiring, mainly for tests.
type Options struct {
	// Transport replaces the instrumented default for every outbound client.
	Transport http.RoundTripper
}

// NewAdvisor builds every client from cfg, guards each upstream with its own
// circuit breaker and returns the advisory service.
func NewAdvisor(cfg *config.Config, logger *zap.Logger, opts Options) (*advisory.Service, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	upstreamOpts := client.Options{
		Timeout:        cfg.UpstreamTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Transport:      opts.Transport,
	}

	meteo := client.NewOpenMeteoClient(cfg.GeocodingURL, cfg.ForecastURL, upstreamOpts)
	meteo.Geocoding().SetCircuitBreaker(newBreaker(cfg, meteo.Geocoding().Name(), logger))
	meteo.Forecast().SetCircuitBreaker(newBreaker(cfg, meteo.Forecast().Name(), logger))

	nominatimOpts := upstreamOpts
	nominatimOpts.UserAgent = cfg.NominatimUserAgent
	nominatim := client.NewNominatimClient(cfg.NominatimURL, nominatimOpts)
	nominatim.Upstream().SetCircuitBreaker(newBreaker(cfg, nominatim.Upstream().Name(), logger))

	groq, err := llm.NewGroqClient(llm.Config{
		APIKey:         cfg.GroqAPIKey,
		BaseURL:        cfg.LLMBaseURL,
		Model:          cfg.LLMModel,
		Timeout:        cfg.LLMTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Transport:      opts.Transport,
	}, logger)
	if err != nil {
		return nil, err
	}
	groq.SetCircuitBreaker(newBreaker(cfg, "groq", logger))

	visionOpts := upstreamOpts
	visionOpts.Timeout = cfg.VisionTimeout
	classifier := vision.NewHFClassifier(cfg.VisionURL, cfg.VisionModel, cfg.HFAPIToken, visionOpts, logger)
	classifier.Upstream().SetCircuitBreaker(newBreaker(cfg, classifier.Upstream().Name(), logger))

	return advisory.New(advisory.Deps{
		Geocoder:    location.NewOpenMeteoResolver(meteo, logger),
		CityLocator: location.NewNominatimResolver(nominatim, logger),
		Environment: weather.NewFetcher(meteo, cfg.SoilTimeout, logger),
		LLM:         groq,
		Classifier:  classifier,
		Logger:      logger,
	})
}

func newBreaker(cfg *config.Config, component string, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitFailureThreshold,
		SuccessThreshold: cfg.CircuitSuccessThreshold,
		Timeout:          cfg.CircuitTimeout,
		Component:        component,
		IsFailure:        countsAgainstBreaker,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
			observability.SetCircuitBreakerStateGauge(component, observability.CircuitBreakerStateValue(int(to)))
			logger.Warn("circuit breaker state change",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	observability.SetCircuitBreakerStateGauge(component, 0)
	return cb
}

// countsAgainstBreaker ignores answers that say nothing about upstream health:
// a place that does not exist, a caller that gave up.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, client.ErrNotFound) {
		return false
	}
	var se *client.StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}
