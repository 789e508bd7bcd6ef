package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/krishimitra/advisory-service/internal/circuitbreaker"
	"github.com/krishimitra/advisory-service/internal/observability"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrBadResponse     = errors.New("malformed upstream response")
)

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 4 << 20

// StatusError is a non-2xx upstream answer. It unwraps to the matching sentinel.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       string // first 200 bytes
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Upstream, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrUpstreamFailure
	}
}

// Options configures an Upstream. Zero values fall back to defaults.
type Options struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	UserAgent      string
	Transport      http.RoundTripper
}

// Upstream is a JSON-over-HTTP dependency with per-attempt timeout, bounded
// exponential retry and an optional circuit breaker.
type Upstream struct {
	name           string
	client         *http.Client
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	userAgent      string
	breaker        *circuitbreaker.CircuitBreaker
}

// NewUpstream builds an Upstream labelled name in metrics and errors.
func NewUpstream(name string, opts Options) *Upstream {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = opts.RetryBaseDelay
	}
	transport := opts.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Upstream{
		name:           name,
		client:         &http.Client{Transport: transport},
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		userAgent:      opts.UserAgent,
	}
}

// Name returns the metrics label of the upstream.
func (u *Upstream) Name() string {
	return u.name
}

// SetCircuitBreaker guards every call with cb. Nil disables the breaker.
func (u *Upstream) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	u.breaker = cb
}

// RequestFunc builds a fresh request for each attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// GetJSON issues a GET to rawURL and decodes the JSON body into out.
func (u *Upstream) GetJSON(ctx context.Context, rawURL string, out interface{}) error {
	return u.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	}, out)
}

// Do runs build under retry and breaker and decodes the JSON body into out.
func (u *Upstream) Do(ctx context.Context, build RequestFunc, out interface{}) error {
	if u.breaker == nil {
		return u.doWithRetry(ctx, build, out)
	}
	return u.breaker.Call(ctx, func() error {
		return u.doWithRetry(ctx, build, out)
	})
}

func (u *Upstream) doWithRetry(ctx context.Context, build RequestFunc, out interface{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.retryBaseDelay
	bo.MaxInterval = u.retryMaxDelay
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(u.retryAttempts-1)), ctx)
	op := func() error {
		err := u.callOnce(ctx, build, out)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(error, time.Duration) {
		observability.UpstreamRetriesTotal.WithLabelValues(u.name).Inc()
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("%s: %w", u.name, err)
	}
	return nil
}

func (u *Upstream) callOnce(ctx context.Context, build RequestFunc, out interface{}) error {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := build(reqCtx)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if u.userAgent != "" {
		req.Header.Set("User-Agent", u.userAgent)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		observability.RecordUpstreamCall(u.name, "error", time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	observability.RecordUpstreamCall(u.name, statusLabel(resp.StatusCode), time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Upstream: u.name, StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrBadResponse, err)
	}
	return nil
}

// isRetryable reports whether another attempt may succeed: rate limits, 5xx and timeouts.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	if errors.Is(err, ErrBadResponse) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || CategorizeError(err) == ErrorCategoryNetwork
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
