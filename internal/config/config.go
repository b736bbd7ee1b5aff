package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	LLM       LLMConfig       `yaml:"llm"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	GitHub    GitHubConfig    `yaml:"github"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Metrics endpoint path (default: /metrics)
}

type GatewayConfig struct {
	Port           int      `yaml:"port"`
	Bind           string   `yaml:"bind"`
	AllowedOrigins []string `yaml:"allowedOrigins"` // exact origins, or ^...$ patterns
}

type LLMConfig struct {
	BaseURL        string   `yaml:"baseURL"`        // OpenAI-compatible chat completions endpoint
	APIKey         string   `yaml:"apiKey"`         // overridden by REPOSTALKER_LLM_API_KEY / LOVABLE_API_KEY
	Model          string   `yaml:"model"`          // default model
	AllowedModels  []string `yaml:"allowedModels"`  // models a client may request
	Temperature    *float64 `yaml:"temperature"`    // nil = provider default
	PRTemperature  *float64 `yaml:"prTemperature"`  // chat-with-pr only; nil falls back to temperature
	TimeoutSeconds int      `yaml:"timeoutSeconds"` // per LLM call
	MaxIterations  int      `yaml:"maxIterations"`  // LLM calls per user turn
}

type RateLimitConfig struct {
	PerClientPerMinute int    `yaml:"perClientPerMinute"` // <= 0 disables the scope
	GlobalPerHour      int    `yaml:"globalPerHour"`
	GlobalPerDay       int    `yaml:"globalPerDay"`
	FailOpen           bool   `yaml:"failOpen"` // admit requests when the counter store is down
	Store              string `yaml:"store"`    // memory | sqlite
	Path               string `yaml:"path"`     // sqlite database path
}

type GitHubConfig struct {
	BaseURL        string `yaml:"baseURL"` // empty = api.github.com
	Token          string `yaml:"token"`   // optional, raises the API quota
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
	Host    string `yaml:"host"`
}

// DefaultModels are the models offered by the front-end
var DefaultModels = []string{
	"google/gemini-2.5-flash",
	"google/gemini-2.5-flash-lite",
	"google/gemini-2.5-pro",
	"openai/gpt-5",
	"openai/gpt-5-mini",
	"openai/gpt-5-nano",
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Gateway: GatewayConfig{
			Port: 8787,
			Bind: "localhost",
			AllowedOrigins: []string{
				"http://localhost:5173",
				"http://localhost:3000",
				`^https://.*\.lovableproject\.com$`,
				`^https://.*\.lovable\.app$`,
			},
		},
		LLM: LLMConfig{
			BaseURL:        "https://ai.gateway.lovable.dev/v1",
			Model:          "google/gemini-2.5-flash",
			AllowedModels:  append([]string(nil), DefaultModels...),
			PRTemperature:  Float(0.7),
			TimeoutSeconds: 60,
			MaxIterations:  5,
		},
		RateLimit: RateLimitConfig{
			PerClientPerMinute: 10,
			GlobalPerHour:      50,
			GlobalPerDay:       2000,
			FailOpen:           false,
			Store:              "memory",
			Path:               filepath.Join(home, ".repostalker", "ratelimit.db"),
		},
		GitHub: GitHubConfig{
			TimeoutSeconds: 15,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Host:    "https://us.i.posthog.com",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Float returns a pointer to f for optional numeric settings
func Float(f float64) *float64 {
	return &f
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".repostalker")
}

// Path returns the config file location (REPOSTALKER_CONFIG wins)
func Path() string {
	if p := os.Getenv("REPOSTALKER_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(configDir(), "config.yaml")
}

// Load reads the config file, falling back to defaults when it does not exist,
// then applies environment overrides.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load for an explicit path
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays secrets from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REPOSTALKER_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("LOVABLE_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("POSTHOG_API_KEY"); v != "" {
		c.Telemetry.APIKey = v
		c.Telemetry.Enabled = true
	}
}

// ResolveModel returns requested when it is allowed, otherwise the default model
func (c *LLMConfig) ResolveModel(requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return c.Model
	}
	for _, m := range c.AllowedModels {
		if m == requested {
			return requested
		}
	}
	return c.Model
}

// ValidationResult holds the result of config validation
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

// Validate checks the configuration for required fields and common issues
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	// LLM credentials are checked per request too; the server still starts without them
	if c.LLM.APIKey == "" {
		result.Errors = append(result.Errors, "LLM authentication required: set llm.apiKey or LOVABLE_API_KEY")
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid llm.baseURL: %q", c.LLM.BaseURL))
		}
	}

	if c.LLM.Model == "" {
		result.Errors = append(result.Errors, "No default model: set llm.model")
	} else if len(c.LLM.AllowedModels) > 0 && !contains(c.LLM.AllowedModels, c.LLM.Model) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Default model '%s' is not in llm.allowedModels", c.LLM.Model))
	}

	if c.LLM.MaxIterations < 1 {
		result.Errors = append(result.Errors, "llm.maxIterations must be at least 1")
	} else if c.LLM.MaxIterations > 10 {
		result.Warnings = append(result.Warnings, "llm.maxIterations > 10 may cause excessive API calls")
	}

	temps := []struct {
		name  string
		value *float64
	}{
		{"llm.temperature", c.LLM.Temperature},
		{"llm.prTemperature", c.LLM.PRTemperature},
	}
	for _, t := range temps {
		if t.value != nil && (*t.value < 0 || *t.value > 2) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s must be between 0 and 2, got %g", t.name, *t.value))
		}
	}

	if c.LLM.TimeoutSeconds <= 0 {
		result.Warnings = append(result.Warnings, "llm.timeoutSeconds not set, LLM calls are bounded only by the request context")
	}

	switch c.RateLimit.Store {
	case "", "memory":
	case "sqlite":
		if c.RateLimit.Path == "" {
			result.Errors = append(result.Errors, "rateLimit.store is sqlite but rateLimit.path is empty")
		}
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("Unknown rateLimit.store '%s', supported: memory, sqlite", c.RateLimit.Store))
	}

	if c.RateLimit.PerClientPerMinute <= 0 && c.RateLimit.GlobalPerHour <= 0 && c.RateLimit.GlobalPerDay <= 0 {
		result.Warnings = append(result.Warnings, "All rate limits disabled - LLM spend is unbounded")
	}

	if c.RateLimit.FailOpen {
		result.Warnings = append(result.Warnings, "rateLimit.failOpen enabled - requests are admitted when the counter store is unavailable")
	}

	if c.Telemetry.Enabled && c.Telemetry.APIKey == "" {
		result.Warnings = append(result.Warnings, "Telemetry enabled but no API key: set telemetry.apiKey or POSTHOG_API_KEY")
	}

	if c.GitHub.Token == "" {
		result.Warnings = append(result.Warnings, "No GitHub token - PR tools are limited to 60 unauthenticated requests per hour")
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid gateway.port: %d", c.Gateway.Port))
	}

	return result
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func Save(cfg *Config) (string, error) {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}

	return path, nil
}
