package cmd

// authzfuzz root command
//
// Commands:
//   principals   list principals discovered in a traffic corpus
//   policy       infer or show the permission matrix
//   check        run the violation oracle over recorded exchanges (no traffic)
//   fuzz         replay the corpus under substituted identities
//   scopefile    generate and validate replay scope files
//   config       print the effective configuration
//
// Configuration comes from flags, AUTHZFUZZ_* environment variables, an
// optional .env file and an optional config file (--config).

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/config"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/logger"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/telemetry"
)

var (
	cfg *config.Config
	log *logger.Logger
	tel telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "authzfuzz",
	Short: "Differential identity fuzzer for broken object level authorization",
	Long: `authzfuzz - IDOR/BOLA detection from recorded traffic

authzfuzz replays recorded API traffic under substituted identities and judges
each replay against a default-deny permission model:

  1. Principals are discovered from the corpus (bearer tokens, session
     cookies, login responses) or supplied in a principals file.
  2. The permission model is loaded from a CSV matrix or inferred by a chat
     model from the API definition, access patterns and object inventory.
  3. Every recorded request is replayed without credentials, as a peer of
     the same role, and as a member of a different role.
  4. A replay is vulnerable when the target returned 2xx for an action the
     model does not grant, or when a granted action was refused.

Only run fuzz against systems you are authorized to test.

Examples:
  authzfuzz principals --corpus traffic.json
  authzfuzz policy infer --openapi openapi.yaml --corpus traffic.json --objects objects.json
  authzfuzz check --openapi openapi.yaml --policy permissions.csv --corpus traffic.json
  authzfuzz fuzz --openapi openapi.yaml --corpus traffic.json --policy permissions.csv \
      --target https://staging.example.com --out findings.json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		tel, err = telemetry.New(cmd.Context(), cfg.Telemetry, logger.Version)
		if err != nil {
			log.Warnw("Telemetry disabled", "error", err)
			tel, _ = telemetry.New(cmd.Context(), config.TelemetryConfig{}, logger.Version)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tel != nil {
			if err := tel.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to flush telemetry: %v\n", err)
			}
		}
		if log != nil {
			// Sync on stdout/stderr returns EINVAL on Linux
			if err := log.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
				fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
			}
		}
	},
}

func Execute() error {
	return ExecuteContext(context.Background())
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")

	// Logging
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))

	// Replay pacing and safety
	rootCmd.PersistentFlags().Float64("rate-limit", 10, "replayed requests per second (0 disables the limit)")
	rootCmd.PersistentFlags().Int("rate-burst", 5, "rate limit burst size")
	rootCmd.PersistentFlags().Bool("block-private-networks", false, "refuse replays to loopback and private addresses")
	viper.BindPFlag("security.rate_limit.requests_per_second", rootCmd.PersistentFlags().Lookup("rate-limit"))
	viper.BindPFlag("security.rate_limit.burst_size", rootCmd.PersistentFlags().Lookup("rate-burst"))
	viper.BindPFlag("security.block_private_networks", rootCmd.PersistentFlags().Lookup("block-private-networks"))

	// Credentials are read from the environment only, never flags
	viper.BindEnv("classifier.api_key", "AUTHZFUZZ_CLASSIFIER_API_KEY", "OPENAI_API_KEY")
	viper.BindEnv("classifier.azure_api_key", "AUTHZFUZZ_CLASSIFIER_AZURE_API_KEY", "AZURE_OPENAI_API_KEY")
	viper.BindEnv("classifier.azure_endpoint", "AUTHZFUZZ_CLASSIFIER_AZURE_ENDPOINT", "AZURE_OPENAI_ENDPOINT")

	setDefaults(config.DefaultConfig())
}

// setDefaults registers every key with viper so AutomaticEnv can see it.
func setDefaults(d *config.Config) {
	viper.SetDefault("logger.level", d.Logger.Level)
	viper.SetDefault("logger.format", d.Logger.Format)
	viper.SetDefault("logger.output_paths", d.Logger.OutputPaths)

	viper.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	viper.SetDefault("telemetry.exporter_type", d.Telemetry.ExporterType)
	viper.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	viper.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	viper.SetDefault("security.rate_limit.requests_per_second", d.Security.RateLimit.RequestsPerSecond)
	viper.SetDefault("security.rate_limit.burst_size", d.Security.RateLimit.BurstSize)
	viper.SetDefault("security.rate_limit.min_delay", d.Security.RateLimit.MinDelay)
	viper.SetDefault("security.block_private_networks", d.Security.BlockPrivateNetworks)

	viper.SetDefault("target.base_url", d.Target.BaseURL)
	viper.SetDefault("target.base_path", d.Target.BasePath)
	viper.SetDefault("target.timeout", d.Target.Timeout)
	viper.SetDefault("target.follow_redirects", d.Target.FollowRedirects)
	viper.SetDefault("target.user_agent", d.Target.UserAgent)
	viper.SetDefault("target.max_body_bytes", d.Target.MaxBodyBytes)

	viper.SetDefault("classifier.provider", d.Classifier.Provider)
	viper.SetDefault("classifier.model", d.Classifier.Model)
	viper.SetDefault("classifier.base_url", d.Classifier.BaseURL)
	viper.SetDefault("classifier.azure_deployment", d.Classifier.AzureDeployment)
	viper.SetDefault("classifier.azure_api_version", d.Classifier.AzureAPIVersion)
	viper.SetDefault("classifier.max_tokens", d.Classifier.MaxTokens)
	viper.SetDefault("classifier.temperature", d.Classifier.Temperature)
	viper.SetDefault("classifier.timeout", d.Classifier.Timeout)
	viper.SetDefault("classifier.max_cost_per_call", d.Classifier.MaxCostPerCall)

	viper.SetDefault("fuzzer.disabled_cases", d.Fuzzer.DisabledCases)
	viper.SetDefault("fuzzer.cookie_names", d.Fuzzer.CookieNames)
	viper.SetDefault("fuzzer.body_fields", d.Fuzzer.BodyFields)
	viper.SetDefault("fuzzer.include_safe", d.Fuzzer.IncludeSafe)
}

func initConfig() error {
	config.LoadDotEnv()

	viper.SetEnvPrefix("AUTHZFUZZ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		path = os.Getenv("AUTHZFUZZ_CONFIG")
	}
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg.Validate()
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *logger.Logger {
	return log
}
