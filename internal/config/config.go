package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/jellydator/validation"
	"github.com/joho/godotenv"

	appvalidation "github.com/CodeMonkeyCybersecurity/authzfuzz/internal/validation"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Security   SecurityConfig   `mapstructure:"security"`
	Target     TargetConfig     `mapstructure:"target"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Fuzzer     FuzzerConfig     `mapstructure:"fuzzer"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// BlockPrivateNetworks refuses replays to loopback and RFC 1918 addresses.
	BlockPrivateNetworks bool `mapstructure:"block_private_networks"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
}

// TargetConfig describes the system under test.
type TargetConfig struct {
	// BaseURL overrides scheme and host of recorded URLs when set.
	BaseURL string `mapstructure:"base_url"`
	// BasePath is stripped from request paths before template matching. When
	// empty, the API definition's server path is used.
	BasePath        string        `mapstructure:"base_path"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FollowRedirects bool          `mapstructure:"follow_redirects"`
	UserAgent       string        `mapstructure:"user_agent"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// ClassifierConfig configures the chat model used to infer permissions.
type ClassifierConfig struct {
	Provider        string        `mapstructure:"provider"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url"`
	AzureEndpoint   string        `mapstructure:"azure_endpoint"`
	AzureAPIKey     string        `mapstructure:"azure_api_key"`
	AzureDeployment string        `mapstructure:"azure_deployment"`
	AzureAPIVersion string        `mapstructure:"azure_api_version"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float32       `mapstructure:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxCostPerCall  float64       `mapstructure:"max_cost_per_call"`
}

type FuzzerConfig struct {
	DisabledCases []string `mapstructure:"disabled_cases"`
	CookieNames   []string `mapstructure:"cookie_names"`
	BodyFields    []string `mapstructure:"body_fields"`
	IncludeSafe   bool     `mapstructure:"include_safe"`
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Logger,
		validation.Field(&c.Logger.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Logger.Format, validation.Required, validation.In("console", "json")),
	); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	if err := validation.ValidateStruct(&c.Telemetry,
		validation.Field(&c.Telemetry.ServiceName, validation.When(c.Telemetry.Enabled, validation.Required)),
		validation.Field(&c.Telemetry.ExporterType, validation.When(c.Telemetry.Enabled, validation.Required, validation.In("otlp"))),
		validation.Field(&c.Telemetry.Endpoint, validation.When(c.Telemetry.Enabled, validation.Required)),
		validation.Field(&c.Telemetry.SampleRate, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	rl := &c.Security.RateLimit
	if err := validation.ValidateStruct(rl,
		validation.Field(&rl.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&rl.BurstSize, validation.Min(0)),
		validation.Field(&rl.MinDelay, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("security.rate_limit: %w", err)
	}

	if err := validation.ValidateStruct(&c.Target,
		validation.Field(&c.Target.BaseURL, appvalidation.AbsoluteURL),
		validation.Field(&c.Target.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Target.MaxBodyBytes, validation.Min(int64(0))),
	); err != nil {
		return fmt.Errorf("target: %w", err)
	}

	if err := validation.ValidateStruct(&c.Classifier,
		validation.Field(&c.Classifier.Provider, validation.In("openai", "azure")),
		validation.Field(&c.Classifier.MaxTokens, validation.Min(0)),
		validation.Field(&c.Classifier.Temperature, validation.Min(float32(0)), validation.Max(float32(2))),
		validation.Field(&c.Classifier.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	if err := validation.Validate(c.Fuzzer.DisabledCases,
		validation.Each(validation.In(
			string(types.TestCaseNoAuth),
			string(types.TestCaseSameRole),
			string(types.TestCaseDifferentRole),
		)),
	); err != nil {
		return fmt.Errorf("fuzzer.disabled_cases: %w", err)
	}

	return nil
}

// DefaultConfig documents the defaults also registered with viper in cmd/root.go.
func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "authzfuzz",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         5,
				MinDelay:          50 * time.Millisecond,
			},
		},
		Target: TargetConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "authzfuzz/1.0",
			MaxBodyBytes: 1 << 20,
		},
		Classifier: ClassifierConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   4000,
			Temperature: 0,
			Timeout:     120 * time.Second,
		},
	}
}

// LoadDotEnv searches for a .env file from the current directory up to the
// root and loads the first one found. Variables already set are kept.
func LoadDotEnv() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return ""
			}
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
