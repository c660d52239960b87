package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "authzfuzz", cfg.Telemetry.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.Target.Timeout)
	assert.Equal(t, "gpt-4o-mini", cfg.Classifier.Model)
	assert.False(t, cfg.Security.BlockPrivateNetworks)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logger.Level = "verbose" }, "logger"},
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, "logger"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "telemetry"},
		{"telemetry endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry"},
		{"negative rate", func(c *Config) { c.Security.RateLimit.RequestsPerSecond = -1 }, "security.rate_limit"},
		{"relative target", func(c *Config) { c.Target.BaseURL = "staging.clinic.test" }, "target"},
		{"zero timeout", func(c *Config) { c.Target.Timeout = 0 }, "target"},
		{"provider", func(c *Config) { c.Classifier.Provider = "anthropic" }, "classifier"},
		{"temperature", func(c *Config) { c.Classifier.Temperature = 3 }, "classifier"},
		{"test case", func(c *Config) { c.Fuzzer.DisabledCases = []string{"no_auth", "admin_only"} }, "fuzzer.disabled_cases"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target.BaseURL = "https://staging.clinic.test:8443"
	cfg.Classifier.Provider = "azure"
	cfg.Fuzzer.DisabledCases = []string{"same_role"}
	cfg.Telemetry.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("AUTHZFUZZ_DOTENV_PROBE=loaded\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("AUTHZFUZZ_DOTENV_PROBE")
	})

	path := LoadDotEnv()
	assert.Equal(t, ".env", filepath.Base(path))
	assert.Equal(t, "loaded", os.Getenv("AUTHZFUZZ_DOTENV_PROBE"))
}
