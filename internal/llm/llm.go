// Package llm sends composed prompts to a hosted chat-completion model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/krishimitra/advisory-service/internal/circuitbreaker"
	"github.com/krishimitra/advisory-service/internal/client"
	"github.com/krishimitra/advisory-service/internal/models"
	"github.com/krishimitra/advisory-service/internal/observability"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
)

var (
	ErrMissingAPIKey = errors.New("missing LLM API key")
	ErrEmptyResponse = errors.New("completion has no choices")
)

// Request is one chat completion.
type Request struct {
	Pipeline    string // metrics and log label
	Prompt      models.PromptPair
	Model       string // empty uses the client default
	Temperature float32
	TopP        *float32 // nil leaves the provider default
	MaxTokens   int      // 0 leaves the provider default
}

// Completer returns the text of the first completion choice.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config configures a GroqClient. Zero values fall back to defaults.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Transport      http.RoundTripper
}

// GroqClient talks to Groq's OpenAI-compatible endpoint.
type GroqClient struct {
	api            *openai.Client
	model          string
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewGroqClient builds a client. The API key is required.
func NewGroqClient(cfg Config, logger *zap.Logger) (*GroqClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	if cfg.Transport == nil {
		cfg.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Transport: cfg.Transport, Timeout: cfg.Timeout}

	return &GroqClient{
		api:            openai.NewClientWithConfig(apiCfg),
		model:          cfg.Model,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		logger:         logger,
	}, nil
}

// SetCircuitBreaker guards every completion with cb.
func (c *GroqClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Complete sends req and returns the first choice's content, trimmed.
func (c *GroqClient) Complete(ctx context.Context, req Request) (string, error) {
	chatReq := c.chatRequest(req)

	var text string
	call := func() error {
		var err error
		text, err = c.completeWithRetry(ctx, req.Pipeline, chatReq)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	observability.LoggerFrom(ctx, c.logger).Debug("completion received", zap.String("pipeline", req.Pipeline), zap.String("text", text))
	return text, nil
}

func (c *GroqClient) chatRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt.User},
		},
		Temperature: nonZero(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.TopP != nil {
		chatReq.TopP = nonZero(*req.TopP)
	}
	return chatReq
}

// nonZero keeps an explicit 0 on the wire: the request struct omits zero floats.
func nonZero(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

func (c *GroqClient) completeWithRetry(ctx context.Context, pipeline string, chatReq openai.ChatCompletionRequest) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBaseDelay
	bo.MaxInterval = c.retryMaxDelay
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retryAttempts-1)), ctx)

	var text string
	op := func() error {
		var err error
		text, err = c.completeOnce(ctx, pipeline, chatReq)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		observability.UpstreamRetriesTotal.WithLabelValues("groq").Inc()
		observability.LoggerFrom(ctx, c.logger).Warn("retrying chat completion",
			zap.String("pipeline", pipeline), zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return text, nil
}

func (c *GroqClient) completeOnce(ctx context.Context, pipeline string, chatReq openai.ChatCompletionRequest) (string, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		err = classify(err)
		observability.RecordLLMCall(pipeline, string(client.CategorizeError(err)), time.Since(start))
		return "", err
	}
	if len(resp.Choices) == 0 {
		observability.RecordLLMCall(pipeline, "empty", time.Since(start))
		return "", ErrEmptyResponse
	}
	observability.RecordLLMCall(pipeline, "success", time.Since(start))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify maps provider errors onto the shared upstream taxonomy.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 {
		return err
	}
	return &client.StatusError{Upstream: "groq", StatusCode: status, Body: truncate(err.Error(), 200)}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *client.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	switch client.CategorizeError(err) {
	case client.ErrorCategoryTimeout, client.ErrorCategoryNetwork:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
