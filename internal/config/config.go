package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and env.
type Config struct {
	TestingMode bool

	ServerPort string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64

	GeocodingURL       string
	ForecastURL        string
	NominatimURL       string
	NominatimUserAgent string
	UpstreamTimeout    time.Duration
	SoilTimeout        time.Duration

	GroqAPIKey string
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration

	VisionURL     string
	VisionModel   string
	VisionTimeout time.Duration
	HFAPIToken    string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitFailureThreshold int
	CircuitSuccessThreshold int
	CircuitTimeout          time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	TracingEnabled bool
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port           string `yaml:"port"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Geocoding struct {
		URL                string `yaml:"url"`
		NominatimURL       string `yaml:"nominatim_url"`
		NominatimUserAgent string `yaml:"nominatim_user_agent"`
	} `yaml:"geocoding"`

	Weather struct {
		URL         string `yaml:"url"`
		Timeout     string `yaml:"timeout"`
		SoilTimeout string `yaml:"soil_timeout"`
	} `yaml:"weather_api"`

	LLM struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"llm"`

	Vision struct {
		URL     string `yaml:"url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"vision"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		CircuitFailureThreshold int    `yaml:"circuit_failure_threshold"`
		CircuitSuccessThreshold int    `yaml:"circuit_success_threshold"`
		CircuitTimeout          string `yaml:"circuit_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Tracing struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"tracing"`
}

type secretsFile struct {
	GroqAPIKey string `yaml:"groq_api_key"`
	HFAPIToken string `yaml:"hf_api_token"`
}

// Load reads configuration from {CONFIG_DIR}/{ENV_NAME}.yaml (defaults ./config and dev)
// and {CONFIG_DIR}/secrets.yaml. An optional .env in the working directory is loaded
// first; it never overrides variables already set. GROQ_API_KEY comes from env or the
// secrets file and is required.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = filepath.Join(cwd, "config")
	}

	configPath := filepath.Join(configDir, env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(configDir, "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TestingMode: false,
	}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.MaxUploadBytes = fc.Server.MaxUploadBytes
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}

	cfg.GroqAPIKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	if cfg.GroqAPIKey == "" {
		cfg.GroqAPIKey = strings.TrimSpace(sec.GroqAPIKey)
	}
	if cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY required (set env, .env or config/secrets.yaml groq_api_key)")
	}
	cfg.HFAPIToken = strings.TrimSpace(os.Getenv("HF_API_TOKEN"))
	if cfg.HFAPIToken == "" {
		cfg.HFAPIToken = strings.TrimSpace(sec.HFAPIToken)
	}

	cfg.GeocodingURL = orDefault(fc.Geocoding.URL, "https://geocoding-api.open-meteo.com/v1/search")
	cfg.NominatimURL = orDefault(fc.Geocoding.NominatimURL, "https://nominatim.openstreetmap.org/search")
	cfg.NominatimUserAgent = orDefault(fc.Geocoding.NominatimUserAgent, "krishimitra")
	cfg.ForecastURL = orDefault(fc.Weather.URL, "https://api.open-meteo.com/v1/forecast")
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Weather.Timeout, 5*time.Second)
	cfg.SoilTimeout = parseDuration(fc.Weather.SoilTimeout, 10*time.Second)

	cfg.LLMBaseURL = orDefault(fc.LLM.BaseURL, "https://api.groq.com/openai/v1")
	cfg.LLMModel = orDefault(fc.LLM.Model, "llama-3.3-70b-versatile")
	cfg.LLMTimeout = parseDurationOrZero(fc.LLM.Timeout, 30*time.Second)

	cfg.VisionURL = orDefault(fc.Vision.URL, "https://api-inference.huggingface.co/models")
	cfg.VisionModel = orDefault(fc.Vision.Model, "linkanjarad/mobilenet_v2_1.0_224-plant-disease-identification")
	cfg.VisionTimeout = parseDuration(fc.Vision.Timeout, 20*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 90*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	cfg.CircuitFailureThreshold = fc.Reliability.CircuitFailureThreshold
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = 5
	}
	cfg.CircuitSuccessThreshold = fc.Reliability.CircuitSuccessThreshold
	if cfg.CircuitSuccessThreshold <= 0 {
		cfg.CircuitSuccessThreshold = 2
	}
	cfg.CircuitTimeout = parseDuration(fc.Reliability.CircuitTimeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 20
	}

	cfg.TracingEnabled = fc.Tracing.Enabled
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("TRACING_ENABLED"))); v != "" {
		cfg.TracingEnabled = v == "true" || v == "1"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func orDefault(s, defaultVal string) string {
	if s = strings.TrimSpace(s); s == "" {
		return defaultVal
	}
	return s
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. Upstream and LLM timeouts must be positive.
// A request must outlive one LLM call plus one upstream call, so RequestTimeout is
// raised when it is shorter.
func validate(cfg *Config) error {
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.LLMTimeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if floor := cfg.LLMTimeout + cfg.UpstreamTimeout; cfg.RequestTimeout < floor {
		cfg.RequestTimeout = floor
	}
	if cfg.DegradedErrorPct > 100 || cfg.OverloadThresholdPct > 100 {
		return fmt.Errorf("lifecycle percentages must be between 1 and 100")
	}
	return nil
}
