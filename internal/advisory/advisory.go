// Package advisory runs the five advisory pipelines. Each run resolves a
// location, gathers environmental data, prompts the LLM and decodes its reply.
package advisory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/krishimitra/advisory-service/internal/llm"
	"github.com/krishimitra/advisory-service/internal/location"
	"github.com/krishimitra/advisory-service/internal/models"
	"github.com/krishimitra/advisory-service/internal/observability"
	"github.com/krishimitra/advisory-service/internal/prompt"
	"github.com/krishimitra/advisory-service/internal/traffic"
	"github.com/krishimitra/advisory-service/internal/vision"
	"github.com/krishimitra/advisory-service/internal/weather"
)

// Pipeline names, used as metric and log labels.
const (
	PipelineCrop       = "crop"
	PipelineSoil       = "soil"
	PipelineDisease    = "disease"
	PipelineIrrigation = "irrigation"
	PipelineQnA        = "qna"
)

// Pipelines lists every pipeline name.
var Pipelines = []string{PipelineCrop, PipelineSoil, PipelineDisease, PipelineIrrigation, PipelineQnA}

// Fallback phrases.
const (
	TrendFallback      = "Lagbhag dry aur thoda mixed mausam rehne wala hai."
	IrrigationFallback = "Subah jaldi irrigation karein aur heavy rain ke din paani band rakhein."
	QnAFallback        = "Sorry, kuch technical dikkat ho gayi. Kripya fir se try karein."
	RemedyTextSummary  = "Remedy suggestion generated."
)

type irrigationReply struct {
	Advice *string `json:"advice"`
}

var (
	cropStage = structuredStage[models.CropRecommendation]{
		pipeline: PipelineCrop,
		params:   Params{Temperature: 0.6},
		accept:   func(r models.CropRecommendation) bool { return len(r.Crops) > 0 },
	}
	soilStage = structuredStage[models.FertilizerAdvice]{
		pipeline: PipelineSoil,
		params:   Params{Temperature: 0.5},
		accept:   func(r models.FertilizerAdvice) bool { return strings.TrimSpace(r.Fertilizer) != "" },
	}
	remedyStage = structuredStage[models.RemedyDetail]{
		pipeline: PipelineDisease,
		params:   Params{Temperature: 0.6, MaxTokens: 300},
		policy:   Policy{OnMissingJSON: WrapText},
		wrap: func(text string) models.RemedyDetail {
			return models.RemedyDetail{Remedy: models.RemedyText(strings.TrimSpace(text)), Summary: RemedyTextSummary}
		},
		accept: func(r models.RemedyDetail) bool { return strings.TrimSpace(r.Remedy.String()) != "" },
	}
	adviceStage = structuredStage[irrigationReply]{
		pipeline: PipelineIrrigation,
		params:   Params{Temperature: 0.6, MaxTokens: 300},
		policy:   Policy{LLMFallback: IrrigationFallback, OnMissingJSON: WrapText, OnInvalidJSON: UseFallback},
		lenient:  true,
		wrap:     func(text string) irrigationReply { return irrigationReply{Advice: &text} },
		accept:   func(r irrigationReply) bool { return r.Advice != nil },
	}
	trendStage = textStage{
		pipeline: PipelineIrrigation,
		params:   Params{Temperature: 0.4, MaxTokens: 150},
		fallback: TrendFallback,
	}
	qnaStage = textStage{
		pipeline: PipelineQnA,
		params:   Params{Temperature: 0, TopP: float32Ptr(0), MaxTokens: 400},
		fallback: QnAFallback,
	}
)

// EnvironmentSource supplies weather and soil data for a point.
type EnvironmentSource interface {
	Reading(ctx context.Context, c models.Coordinates) (models.EnvironmentalReading, error)
	Forecast(ctx context.Context, c models.Coordinates) ([]models.ForecastDay, error)
}

// Deps are the collaborators a Service needs. Classifier may be nil when
// leaf analysis is not offered.
type Deps struct {
	Geocoder    location.Resolver // crop and soil
	CityLocator location.Resolver // irrigation
	Environment EnvironmentSource
	LLM         llm.Completer
	Classifier  vision.Classifier
	Logger      *zap.Logger
}

// Service runs the advisory pipelines. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	geocoder    location.Resolver
	cityLocator location.Resolver
	env         EnvironmentSource
	llm         llm.Completer
	classifier  vision.Classifier
	logger      *zap.Logger
}

// New validates deps and builds a Service.
func New(d Deps) (*Service, error) {
	switch {
	case d.Geocoder == nil:
		return nil, errors.New("advisory: geocoder is required")
	case d.Environment == nil:
		return nil, errors.New("advisory: environment source is required")
	case d.LLM == nil:
		return nil, errors.New("advisory: LLM client is required")
	}
	if d.CityLocator == nil {
		d.CityLocator = d.Geocoder
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		geocoder:    d.Geocoder,
		cityLocator: d.CityLocator,
		env:         d.Environment,
		llm:         d.LLM,
		classifier:  d.Classifier,
		logger:      d.Logger,
	}, nil
}

// RecommendCrop suggests three crops for a location and season.
func (s *Service) RecommendCrop(ctx context.Context, in models.CropInput) (result models.CropRecommendation, err error) {
	in = in.WithDefaults()
	ctx, done := s.begin(ctx, PipelineCrop, attribute.String("location", in.Location), attribute.String("season", in.Season))
	defer func() { done(err) }()

	coords := s.geocoder.Resolve(ctx, in.Location)
	reading, err := s.env.Reading(ctx, coords)
	if err != nil {
		return models.CropRecommendation{}, fmt.Errorf("%s: %w", PipelineCrop, err)
	}
	p, err := prompt.Crop(in, coords, reading)
	if err != nil {
		return models.CropRecommendation{}, err
	}
	return cropStage.run(ctx, s, p)
}

// AnalyzeSoil recommends a fertilizer for a crop at a location.
func (s *Service) AnalyzeSoil(ctx context.Context, in models.SoilInput) (result models.FertilizerAdvice, err error) {
	in = in.WithDefaults()
	ctx, done := s.begin(ctx, PipelineSoil, attribute.String("location", in.Location), attribute.String("crop", in.Crop))
	defer func() { done(err) }()

	coords := s.geocoder.Resolve(ctx, in.Location)
	reading, err := s.env.Reading(ctx, coords)
	if err != nil {
		return models.FertilizerAdvice{}, fmt.Errorf("%s: %w", PipelineSoil, err)
	}
	p, err := prompt.Soil(in, coords, reading)
	if err != nil {
		return models.FertilizerAdvice{}, err
	}
	return soilStage.run(ctx, s, p)
}

// AnalyzeLeaf classifies the leaf image at imagePath and suggests a remedy.
func (s *Service) AnalyzeLeaf(ctx context.Context, imagePath string) (result models.DiseaseRemedy, err error) {
	ctx, done := s.begin(ctx, PipelineDisease, attribute.String("image", imagePath))
	defer func() { done(err) }()

	if s.classifier == nil {
		return models.DiseaseRemedy{}, fmt.Errorf("%s: %w: not configured", PipelineDisease, ErrClassifierUnavailable)
	}
	pred, err := s.classifier.Classify(ctx, imagePath)
	if err != nil {
		return models.DiseaseRemedy{}, classifierError(err)
	}
	return s.remedyFor(ctx, pred)
}

// AnalyzeLeafImage is AnalyzeLeaf for an image already in memory.
func (s *Service) AnalyzeLeafImage(ctx context.Context, image []byte) (result models.DiseaseRemedy, err error) {
	ctx, done := s.begin(ctx, PipelineDisease, attribute.Int("image_bytes", len(image)))
	defer func() { done(err) }()

	if s.classifier == nil {
		return models.DiseaseRemedy{}, fmt.Errorf("%s: %w: not configured", PipelineDisease, ErrClassifierUnavailable)
	}
	pred, err := s.classifier.ClassifyBytes(ctx, image)
	if err != nil {
		return models.DiseaseRemedy{}, classifierError(err)
	}
	return s.remedyFor(ctx, pred)
}

func (s *Service) remedyFor(ctx context.Context, pred models.Prediction) (models.DiseaseRemedy, error) {
	observability.LoggerFrom(ctx, s.logger).Info("detected disease",
		zap.String("disease", pred.Label), zap.Float64("confidence", pred.Confidence))

	detail, err := s.GenerateRemedy(ctx, pred.Label, vision.CropHint(pred.Label))
	if err != nil {
		return models.DiseaseRemedy{}, err
	}
	return models.DiseaseRemedy{
		Disease:    pred.Label,
		Remedy:     detail.Remedy,
		Summary:    detail.Summary,
		Confidence: pred.Confidence,
	}, nil
}

func classifierError(err error) error {
	if errors.Is(err, ErrImageNotFound) {
		return fmt.Errorf("%s: %w", PipelineDisease, err)
	}
	return fmt.Errorf("%s: %w: %w", PipelineDisease, ErrClassifierUnavailable, err)
}

// GenerateRemedy asks for a remedy for disease on cropHint. A reply without
// JSON is returned as remedy text.
func (s *Service) GenerateRemedy(ctx context.Context, disease, cropHint string) (models.RemedyDetail, error) {
	if strings.TrimSpace(disease) == "" {
		return models.RemedyDetail{}, fmt.Errorf("%w: disease is required", ErrInvalidInput)
	}
	observability.LoggerFrom(ctx, s.logger).Debug("generating remedy", zap.String("disease", disease), zap.String("crop", cropHint))
	p, err := prompt.Remedy(disease, cropHint)
	if err != nil {
		return models.RemedyDetail{}, err
	}
	return remedyStage.run(ctx, s, p)
}

// AnalyzeIrrigation summarizes the coming week and gives irrigation advice.
// Only a missing forecast is fatal; LLM trouble degrades to fallback phrases.
func (s *Service) AnalyzeIrrigation(ctx context.Context, in models.IrrigationInput) (result models.IrrigationAdvice, err error) {
	in = in.WithDefaults()
	ctx, done := s.begin(ctx, PipelineIrrigation,
		attribute.String("city", in.City), attribute.String("crop", in.Crop), attribute.String("soil_type", in.SoilType))
	defer func() { done(err) }()

	coords := s.cityLocator.Resolve(ctx, in.City)
	days, err := s.env.Forecast(ctx, coords)
	if err != nil {
		return models.IrrigationAdvice{}, fmt.Errorf("%s: %w", PipelineIrrigation, err)
	}

	trend := s.PredictWeatherTrend(ctx, days)
	p, err := prompt.Irrigation(in, trend)
	if err != nil {
		return models.IrrigationAdvice{}, err
	}
	reply, err := adviceStage.run(ctx, s, p)
	if err != nil {
		return models.IrrigationAdvice{}, err
	}
	return models.IrrigationAdvice{
		WeatherTrend:     trend,
		IrrigationAdvice: strings.ReplaceAll(*reply.Advice, ". ", ".\n"),
	}, nil
}

// PredictWeatherTrend summarizes a forecast in one or two lines. It never fails.
func (s *Service) PredictWeatherTrend(ctx context.Context, days []models.ForecastDay) string {
	p, err := prompt.Trend(weather.TrendInput(days))
	if err != nil {
		s.fallback(ctx, PipelineIrrigation, "llm_phrase", err)
		return TrendFallback
	}
	return trendStage.run(ctx, s, p)
}

// Answer replies to a free-form farming question. LLM failures return a
// fallback apology rather than an error.
func (s *Service) Answer(ctx context.Context, query string) (result string, err error) {
	ctx, done := s.begin(ctx, PipelineQnA)
	defer func() { done(err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	p, err := prompt.Question(query)
	if err != nil {
		return "", err
	}
	return qnaStage.run(ctx, s, p), nil
}

// begin opens the pipeline span and returns the func that records the outcome.
func (s *Service) begin(ctx context.Context, pipeline string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := observability.Tracer().Start(ctx, "advisory."+pipeline, trace.WithAttributes(attrs...))
	logger := observability.LoggerFrom(ctx, s.logger).With(zap.String("pipeline", pipeline))
	logger.Debug("pipeline started")

	return ctx, func(err error) {
		observability.RecordAdvisory(pipeline, err)
		if !errors.Is(err, ErrInvalidInput) {
			traffic.RecordOutcome(pipeline, err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("pipeline failed", zap.Error(err))
		} else {
			logger.Debug("pipeline finished")
		}
		span.End()
	}
}
