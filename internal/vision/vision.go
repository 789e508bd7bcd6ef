// Package vision classifies leaf photographs with a hosted pre-trained model.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/krishimitra/advisory-service/internal/client"
	"github.com/krishimitra/advisory-service/internal/models"
)

const (
	DefaultModel    = "linkanjarad/mobilenet_v2_1.0_224-plant-disease-identification"
	DefaultEndpoint = "https://api-inference.huggingface.co/models"

	// UnknownDisease labels a prediction the model could not name.
	UnknownDisease = "Unknown Disease"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrNoPrediction  = errors.New("classifier returned no prediction")
)

// Classifier predicts the disease shown in a leaf image.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) (models.Prediction, error)
	ClassifyBytes(ctx context.Context, image []byte) (models.Prediction, error)
}

// HFClassifier posts images to a Hugging Face style inference endpoint.
type HFClassifier struct {
	upstream *client.Upstream
	url      string
	token    string
	logger   *zap.Logger
}

// NewHFClassifier builds a classifier for model at endpoint. Empty values use
// the defaults; token is optional.
func NewHFClassifier(endpoint, model, token string, opts client.Options, logger *zap.Logger) *HFClassifier {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HFClassifier{
		upstream: client.NewUpstream("vision", opts),
		url:      strings.TrimRight(endpoint, "/") + "/" + model,
		token:    token,
		logger:   logger,
	}
}

// Upstream exposes the underlying upstream so callers can attach a breaker.
func (c *HFClassifier) Upstream() *client.Upstream { return c.upstream }

// Classify reads imagePath and classifies it.
func (c *HFClassifier) Classify(ctx context.Context, imagePath string) (models.Prediction, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Prediction{}, fmt.Errorf("%w: %s", ErrImageNotFound, imagePath)
		}
		return models.Prediction{}, fmt.Errorf("read image: %w", err)
	}
	c.logger.Debug("processing image", zap.String("path", imagePath), zap.Int("bytes", len(data)))
	return c.ClassifyBytes(ctx, data)
}

type scoredLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ClassifyBytes classifies an in-memory image.
func (c *HFClassifier) ClassifyBytes(ctx context.Context, image []byte) (models.Prediction, error) {
	if len(image) == 0 {
		return models.Prediction{}, fmt.Errorf("%w: empty image", ErrImageNotFound)
	}
	contentType := http.DetectContentType(image)

	var scores []scoredLabel
	err := c.upstream.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(image))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	}, &scores)
	if err != nil {
		return models.Prediction{}, fmt.Errorf("classify image: %w", err)
	}

	p, err := top(scores)
	if err != nil {
		return models.Prediction{}, err
	}
	c.logger.Debug("detected disease", zap.String("disease", p.Label), zap.Float64("confidence", p.Confidence))
	return p, nil
}

// top picks the highest-scoring label, rounding the confidence to two decimals.
func top(scores []scoredLabel) (models.Prediction, error) {
	if len(scores) == 0 {
		return models.Prediction{}, ErrNoPrediction
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	label := strings.TrimSpace(best.Label)
	if label == "" {
		label = UnknownDisease
	}
	return models.Prediction{Label: label, Confidence: math.Round(best.Score*100) / 100}, nil
}

// CropHint derives the crop from a disease label: the first word of a
// multi-word label, otherwise "General".
func CropHint(label string) string {
	fields := strings.Fields(label)
	if !strings.Contains(label, " ") || len(fields) == 0 {
		return models.DefaultCrop
	}
	return fields[0]
}
