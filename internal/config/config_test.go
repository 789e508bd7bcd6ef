package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  timeout: "5s"
llm:
  timeout: "30s"
request:
  timeout: "60s"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

// inTempProject chdirs into a fresh directory for the test and clears the env Load reads.
func inTempProject(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"GROQ_API_KEY", "HF_API_TOKEN", "ENV_NAME", "CONFIG_DIR", "TRACING_ENABLED"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no GROQ_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "GROQ_API_KEY") {
		t.Errorf("Load() error = %v, want message containing GROQ_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "groq_api_key: gsk-from-secrets\nhf_api_token: hf-from-secrets\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GroqAPIKey != "gsk-from-secrets" {
		t.Errorf("GroqAPIKey = %q, want key from secrets file", cfg.GroqAPIKey)
	}
	if cfg.HFAPIToken != "hf-from-secrets" {
		t.Errorf("HFAPIToken = %q, want token from secrets file", cfg.HFAPIToken)
	}
}

func TestLoad_SucceedsWithDotEnv(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GROQ_API_KEY=gsk-from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GroqAPIKey != "gsk-from-dotenv" {
		t.Errorf("GroqAPIKey = %q, want key from .env", cfg.GroqAPIKey)
	}
}

func TestLoad_EnvVarWinsOverSecrets(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "groq_api_key: gsk-from-secrets\n")
	t.Setenv("GROQ_API_KEY", "gsk-from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GroqAPIKey != "gsk-from-env" {
		t.Errorf("GroqAPIKey = %q, want key from env", cfg.GroqAPIKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, "server:\n  port: \"9090\"\n")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "9090"},
		{"GeocodingURL", cfg.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search"},
		{"ForecastURL", cfg.ForecastURL, "https://api.open-meteo.com/v1/forecast"},
		{"NominatimUserAgent", cfg.NominatimUserAgent, "krishimitra"},
		{"LLMBaseURL", cfg.LLMBaseURL, "https://api.groq.com/openai/v1"},
		{"LLMModel", cfg.LLMModel, "llama-3.3-70b-versatile"},
		{"VisionModel", cfg.VisionModel, "linkanjarad/mobilenet_v2_1.0_224-plant-disease-identification"},
		{"SoilTimeout", cfg.SoilTimeout, 10 * time.Second},
		{"UpstreamTimeout", cfg.UpstreamTimeout, 5 * time.Second},
		{"LLMTimeout", cfg.LLMTimeout, 30 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 90 * time.Second},
		{"RetryAttempts", cfg.RetryAttempts, 3},
		{"CircuitFailureThreshold", cfg.CircuitFailureThreshold, 5},
		{"MaxUploadBytes", cfg.MaxUploadBytes, int64(10 << 20)},
		{"TracingEnabled", cfg.TracingEnabled, false},
		{"TestingMode", cfg.TestingMode, false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_ConfigDirAndEnvName(t *testing.T) {
	inTempProject(t)
	other := t.TempDir()
	if err := os.WriteFile(filepath.Join(other, "prod.yaml"), []byte("testing_mode: true\ntracing:\n  enabled: true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_DIR", other)
	t.Setenv("ENV_NAME", "prod")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.TestingMode || !cfg.TracingEnabled {
		t.Errorf("TestingMode = %v, TracingEnabled = %v, want true, true", cfg.TestingMode, cfg.TracingEnabled)
	}

	t.Setenv("TRACING_ENABLED", "false")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TracingEnabled {
		t.Error("TRACING_ENABLED=false should override the file")
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	inTempProject(t)
	t.Setenv("ENV_NAME", "nonexistent")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, `
weather_api:
  timeout: "soon"
  soil_timeout: "-1s"
reliability:
  retry_base_delay: "fast"
`)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.UpstreamTimeout != 5*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 5s", cfg.UpstreamTimeout)
	}
	if cfg.SoilTimeout != 10*time.Second {
		t.Errorf("SoilTimeout = %v, want 10s", cfg.SoilTimeout)
	}
	if cfg.RetryBaseDelay != 200*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v, want 200ms", cfg.RetryBaseDelay)
	}
}

func TestLoad_ValidationFailsWhenUpstreamTimeoutZero(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, "weather_api:\n  timeout: \"0s\"\n")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "weather_api.timeout") {
		t.Errorf("Load() error = %v, want weather_api.timeout validation error", err)
	}
}

func TestLoad_RequestTimeoutRaised(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, "request:\n  timeout: \"5s\"\nllm:\n  timeout: \"20s\"\nweather_api:\n  timeout: \"3s\"\n")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 23*time.Second {
		t.Errorf("RequestTimeout = %v, want 23s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidPercent(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, "lifecycle:\n  degraded_error_pct: 150\n")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	if _, err := Load(); err == nil {
		t.Error("Load() expected error for degraded_error_pct > 100")
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "groq_api_key: [unclosed\n")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Errorf("Load() error = %v, want parse secrets file error", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, "server: [port\n")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file error", err)
	}
}

func TestLoad_RepoDevConfig(t *testing.T) {
	root := findProjectRoot(t)
	inTempProject(t)
	t.Setenv("CONFIG_DIR", filepath.Join(root, "config"))
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with repo config/dev.yaml error = %v", err)
	}
	if cfg.SoilTimeout != 10*time.Second {
		t.Errorf("SoilTimeout = %v, want 10s", cfg.SoilTimeout)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths we reviewed but chose not to test.
// Run with -v to see skip reasons. These gaps do not affect coverage targets.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("loadSecrets_read_error", func(t *testing.T) {
		t.Skip("read-error path (non-IsNotExist) requires simulated ReadFile failure; would need OS-specific tricks, not worth portability cost")
	})
	t.Run("dotenv_parse_error", func(t *testing.T) {
		t.Skip("godotenv accepts nearly any line; a reliably malformed .env is parser-version specific")
	})
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
