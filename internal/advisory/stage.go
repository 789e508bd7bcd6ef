package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/krishimitra/advisory-service/internal/extract"
	"github.com/krishimitra/advisory-service/internal/llm"
	"github.com/krishimitra/advisory-service/internal/models"
	"github.com/krishimitra/advisory-service/internal/observability"
)

// JSONAction is what a stage does when the model reply cannot be decoded.
type JSONAction int

const (
	// Fail returns the extraction error.
	Fail JSONAction = iota
	// WrapText builds the result from the raw reply text.
	WrapText
	// UseFallback builds the result from the policy's fallback phrase.
	UseFallback
)

// Policy makes each pipeline's failure handling explicit.
type Policy struct {
	// LLMFallback replaces the reply when the LLM call fails. Empty makes the failure fatal.
	LLMFallback   string
	OnMissingJSON JSONAction
	OnInvalidJSON JSONAction
}

// Params are the completion parameters of one stage.
type Params struct {
	Temperature float32
	TopP        *float32
	MaxTokens   int
}

func float32Ptr(v float32) *float32 { return &v }

// structuredStage asks for a JSON reply and decodes it into T.
type structuredStage[T any] struct {
	pipeline string
	params   Params
	policy   Policy
	lenient  bool
	// wrap builds T from plain text for WrapText and UseFallback.
	wrap func(text string) T
	// accept rejects decoded values that lack required fields; they are handled as missing JSON.
	accept func(T) bool
}

func (st structuredStage[T]) run(ctx context.Context, s *Service, p models.PromptPair) (T, error) {
	var zero T
	text, err := s.complete(ctx, st.pipeline, st.params, p)
	if err != nil {
		if st.policy.LLMFallback == "" {
			return zero, fmt.Errorf("%s: %w: %w", st.pipeline, ErrLLMUnavailable, err)
		}
		s.fallback(ctx, st.pipeline, "llm_phrase", err)
		return st.wrap(st.policy.LLMFallback), nil
	}

	out, err := st.decode(text)
	if err == nil {
		return out, nil
	}

	action := st.policy.OnInvalidJSON
	if errors.Is(err, ErrNoJSON) {
		action = st.policy.OnMissingJSON
	}
	switch action {
	case WrapText:
		s.fallback(ctx, st.pipeline, "wrapped_text", err)
		return st.wrap(text), nil
	case UseFallback:
		s.fallback(ctx, st.pipeline, "llm_phrase", err)
		return st.wrap(st.policy.LLMFallback), nil
	default:
		observability.LoggerFrom(ctx, s.logger).Error("model reply not usable",
			zap.String("pipeline", st.pipeline), zap.Error(err), zap.String("text", text))
		return zero, fmt.Errorf("%s: %w", st.pipeline, err)
	}
}

// decode returns the first candidate object that unmarshals into T and passes
// accept. Objects that decode but are rejected count as missing JSON, so a
// stray {} in the prose never stands in for the answer.
func (st structuredStage[T]) decode(text string) (T, error) {
	var zero T
	var opts []extract.Option
	if st.lenient {
		opts = append(opts, extract.Lenient())
	}
	cands, err := extract.Candidates(text, opts...)
	if err != nil {
		return zero, err
	}

	var decodeErr error
	rejected := false
	for _, raw := range cands {
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			if decodeErr == nil {
				decodeErr = err
			}
			continue
		}
		if st.accept != nil && !st.accept(out) {
			rejected = true
			continue
		}
		return out, nil
	}
	if rejected {
		return zero, fmt.Errorf("%w: no object with the expected fields", ErrNoJSON)
	}
	return zero, fmt.Errorf("%w: %v", ErrInvalidJSON, decodeErr)
}

// textStage returns the reply as plain text.
type textStage struct {
	pipeline string
	params   Params
	fallback string
}

func (st textStage) run(ctx context.Context, s *Service, p models.PromptPair) string {
	text, err := s.complete(ctx, st.pipeline, st.params, p)
	if err != nil {
		s.fallback(ctx, st.pipeline, "llm_phrase", err)
		return st.fallback
	}
	return text
}

func (s *Service) complete(ctx context.Context, pipeline string, params Params, p models.PromptPair) (string, error) {
	return s.llm.Complete(ctx, llm.Request{
		Pipeline:    pipeline,
		Prompt:      p,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
	})
}

func (s *Service) fallback(ctx context.Context, pipeline, kind string, cause error) {
	observability.RecordFallback(pipeline, kind)
	observability.LoggerFrom(ctx, s.logger).Warn("using fallback",
		zap.String("pipeline", pipeline), zap.String("kind", kind), zap.Error(cause))
}
