package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/krishimitra/advisory-service/internal/advisory"
	"github.com/krishimitra/advisory-service/internal/lifecycle"
	"github.com/krishimitra/advisory-service/internal/models"
	"github.com/krishimitra/advisory-service/internal/observability"
	"github.com/krishimitra/advisory-service/internal/traffic"
	"github.com/krishimitra/advisory-service/internal/validation"
)

// DefaultMaxUploadBytes bounds a leaf image upload when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// Advisor is the pipeline surface the handlers need. *advisory.Service satisfies it.
type Advisor interface {
	RecommendCrop(ctx context.Context, in models.CropInput) (models.CropRecommendation, error)
	AnalyzeSoil(ctx context.Context, in models.SoilInput) (models.FertilizerAdvice, error)
	AnalyzeLeafImage(ctx context.Context, image []byte) (models.DiseaseRemedy, error)
	AnalyzeIrrigation(ctx context.Context, in models.IrrigationInput) (models.IrrigationAdvice, error)
	Answer(ctx context.Context, query string) (string, error)
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	RateLimitBurst       int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	advisor          Advisor
	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	maxUploadBytes   int64
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. maxUploadBytes <= 0 uses DefaultMaxUploadBytes.
func NewHandler(
	advisor Advisor,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
	maxUploadBytes int64,
) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		advisor:        advisor,
		healthConfig:   healthConfig,
		logger:         logger,
		rateLimiter:    rateLimiter,
		maxUploadBytes: maxUploadBytes,
	}
}

// PostCrop handles POST /advisory/crop.
func (h *Handler) PostCrop(w http.ResponseWriter, r *http.Request) {
	var in models.CropInput
	if !decodeBody(w, r, &in) {
		return
	}
	in, err := validation.CropInput(in)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", validation.Describe(err))
		return
	}
	result, err := h.advisor.RecommendCrop(r.Context(), in)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostSoil handles POST /advisory/soil.
func (h *Handler) PostSoil(w http.ResponseWriter, r *http.Request) {
	var in models.SoilInput
	if !decodeBody(w, r, &in) {
		return
	}
	in, err := validation.SoilInput(in)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", validation.Describe(err))
		return
	}
	result, err := h.advisor.AnalyzeSoil(r.Context(), in)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostIrrigation handles POST /advisory/irrigation.
func (h *Handler) PostIrrigation(w http.ResponseWriter, r *http.Request) {
	var in models.IrrigationInput
	if !decodeBody(w, r, &in) {
		return
	}
	in, err := validation.IrrigationInput(in)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", validation.Describe(err))
		return
	}
	result, err := h.advisor.AnalyzeIrrigation(r.Context(), in)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostDisease handles POST /advisory/disease with a multipart "image" field.
func (h *Handler) PostDisease(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, _, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE",
				"image exceeds "+strconv.FormatInt(h.maxUploadBytes, 10)+" bytes")
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "multipart field \"image\" is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "could not read image")
		return
	}
	if len(image) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "image is empty")
		return
	}
	result, err := h.advisor.AnalyzeLeafImage(r.Context(), image)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type qnaRequest struct {
	Query string `json:"query"`
}

type qnaResponse struct {
	Answer string `json:"answer"`
}

// PostQnA handles POST /advisory/qna.
func (h *Handler) PostQnA(w http.ResponseWriter, r *http.Request) {
	var req qnaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	query, err := validation.Query(req.Query)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", validation.Describe(err))
		return
	}
	answer, err := h.advisor.Answer(r.Context(), query)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qnaResponse{Answer: answer})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":        result.status,
		"service":       observability.ServiceName,
		"version":       observability.Version,
		"checks":        result.checks,
		"uptimeSeconds": int64(lifecycle.Uptime().Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	checks := make(map[string]string, len(advisory.Pipelines))
	for _, p := range advisory.Pipelines {
		checks[p] = "healthy"
	}

	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}

	if h.healthConfig.RateLimitRPS > 0 && h.healthConfig.OverloadWindow > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold", checks}
		}
	}

	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		var breached []string
		for _, p := range traffic.Pipelines() {
			errs, total := traffic.PipelineErrorRate(p, h.healthConfig.DegradedWindow)
			if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
				checks[p] = "unhealthy"
				breached = append(breached, p)
			}
		}
		if len(breached) > 0 {
			sort.Strings(breached)
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach:" + breached[0], checks}
		}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v zero so
// pipeline defaults apply. Writes a 400 and returns false on malformed JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := observability.CorrelationID(r.Context())
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// pipelineErrorStatus maps a pipeline error to an HTTP status, error code and public message.
func pipelineErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, advisory.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", "invalid input"
	case errors.Is(err, advisory.ErrImageNotFound):
		return http.StatusNotFound, "IMAGE_NOT_FOUND", "image not found"
	case errors.Is(err, advisory.ErrNoJSON), errors.Is(err, advisory.ErrInvalidJSON):
		return http.StatusBadGateway, "UNPARSEABLE_RESPONSE", "no valid JSON response"
	case errors.Is(err, advisory.ErrLLMUnavailable):
		return http.StatusServiceUnavailable, "LLM_UNAVAILABLE", "advisory model unavailable"
	case errors.Is(err, advisory.ErrSoilUnavailable), errors.Is(err, advisory.ErrForecastUnavailable):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "unable to fetch weather data"
	case errors.Is(err, advisory.ErrClassifierUnavailable):
		return http.StatusServiceUnavailable, "CLASSIFIER_UNAVAILABLE", "image classifier unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "TIMEOUT", "request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}

// writePipelineError writes the mapped error response and logs the cause at DEBUG.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := pipelineErrorStatus(err)
	writeError(w, r, status, code, message)
	observability.LoggerFrom(r.Context(), nil).Debug("pipeline error", zap.Error(err), zap.String("code", code))
}

// GetTestStatus handles GET /test. Returns current sliding-window state.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errs, _ := traffic.ErrorRate(window)

	perPipeline := make(map[string]map[string]int)
	for _, p := range traffic.Pipelines() {
		pe, pt := traffic.PipelineErrorRate(p, window)
		perPipeline[p] = map[string]int{"errors": pe, "total": pt}
	}

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		overloadThreshold := 0
		if h.healthConfig.RateLimitRPS > 0 {
			overloadThreshold = int(float64(h.healthConfig.RateLimitRPS) *
				h.healthConfig.OverloadWindow.Seconds() *
				float64(h.healthConfig.OverloadThresholdPct) / 100)
		}
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold"] = overloadThreshold
		cfg["overload_window_seconds"] = h.healthConfig.OverloadWindow.Seconds()
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests_in_window":  traffic.RequestCount(window),
		"denied_requests_in_window": traffic.DenialCount(window),
		"errors_in_window":          errs,
		"pipelines":                 perPipeline,
		"window_length":             window.String(),
		"config":                    cfg,
	})
}

// PostTestAction handles POST /test/{action} for load, error, reset, shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true, "action": "reset", "message": "All simulated state cleared",
		})
	case "shutdown":
		lifecycle.SetShuttingDown(true)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true, "action": "shutdown", "message": "Shutting-down flag set",
		})
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

type testActionBody struct {
	Count    int    `json:"count"`
	Pipeline string `json:"pipeline"`
}

// readTestActionBody reads the optional body of a /test action. Only known
// pipelines are accepted since each name gets its own traffic window.
func readTestActionBody(r *http.Request, defaultCount int) (testActionBody, error) {
	var body testActionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = defaultCount
	}
	if body.Pipeline == "" {
		body.Pipeline = advisory.PipelineQnA
	}
	for _, p := range advisory.Pipelines {
		if body.Pipeline == p {
			return body, nil
		}
	}
	return body, fmt.Errorf("unknown pipeline %q", body.Pipeline)
}

// postTestLoad simulates load by recording successful outcomes, respecting the
// rate limiter when configured.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	body, err := readTestActionBody(r, 10)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	var accepted, denied int
	for i := 0; i < body.Count; i++ {
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			traffic.RecordDenied()
			observability.RateLimitDeniedTotal.Inc()
			denied++
			continue
		}
		traffic.RecordOutcome(body.Pipeline, nil)
		accepted++
	}
	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    h.computeHealthStatus().status,
		"accepted": accepted,
		"denied":   denied,
	})
}

var errSimulated = errors.New("simulated failure")

// postTestError records failed outcomes for one pipeline.
func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	body, err := readTestActionBody(r, 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	for i := 0; i < body.Count; i++ {
		traffic.RecordOutcome(body.Pipeline, errSimulated)
	}
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errs, total := traffic.PipelineErrorRate(body.Pipeline, window)
	pct := 0
	if total > 0 {
		pct = errs * 100 / total
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"pipeline":       body.Pipeline,
		"message":        "Recorded " + strconv.Itoa(body.Count) + " errors",
		"state":          h.computeHealthStatus().status,
		"error_rate_pct": pct,
	})
}
