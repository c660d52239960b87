package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/validation"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/oracle"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/scanners/idor"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

var fuzzCmd = &cobra.Command{
	Use:   "fuzz",
	Short: "Replay the corpus under substituted identities",
	Long: `Replay every recorded request under identity substitutions and judge
each replay with the violation oracle:

  no_auth          credentials stripped
  same_role        another principal holding the original principal's role
  different_role   the first principal of the first other role

Requests are replayed one at a time in corpus order. Requests without a
resolvable principal or with a verb that has no CRUD mapping are reported as
skipped and never sent. Transport failures are recorded as synthetic 500
responses.

The permission model comes from --policy, or is inferred from --objects with
the configured chat model when no policy file is given.

Examples:
  authzfuzz fuzz --openapi openapi.yaml --corpus traffic.json --policy permissions.csv
  authzfuzz fuzz --openapi openapi.yaml --corpus traffic.json --objects objects.json \
      --target https://staging.example.com --scope staging.scope --out findings.csv --format csv
  authzfuzz fuzz ... --disable-case no_auth --rate-limit 2 --fail-on-vulnerable`,
	RunE: runFuzz,
}

func init() {
	rootCmd.AddCommand(fuzzCmd)

	fuzzCmd.Flags().String("openapi", "", "OpenAPI/Swagger definition (JSON or YAML)")
	fuzzCmd.Flags().String("corpus", "", "recorded traffic corpus (JSON)")
	fuzzCmd.Flags().String("policy", "", "permission matrix (CSV)")
	fuzzCmd.Flags().String("objects", "", "object inventory used to infer the policy when --policy is absent")
	fuzzCmd.Flags().String("principals", "", "principals file (YAML or JSON) merged over discovered ones")
	fuzzCmd.Flags().String("target", "", "replace scheme and host of recorded URLs (e.g. https://staging.example.com)")
	fuzzCmd.Flags().String("base-path", "", "API base path stripped before template matching (default from the definition)")
	fuzzCmd.Flags().String("scope", "", "scope file; replays to hosts outside it are skipped")
	fuzzCmd.Flags().StringSlice("disable-case", nil, "test cases to skip (no_auth, same_role, different_role)")
	fuzzCmd.Flags().Duration("request-timeout", 30*time.Second, "per-replay timeout")
	fuzzCmd.Flags().Bool("follow-redirects", false, "follow redirects on replays")
	addOutputFlags(fuzzCmd)
	fuzzCmd.MarkFlagRequired("openapi")
	fuzzCmd.MarkFlagRequired("corpus")

	viper.BindPFlag("target.base_url", fuzzCmd.Flags().Lookup("target"))
	viper.BindPFlag("target.base_path", fuzzCmd.Flags().Lookup("base-path"))
	viper.BindPFlag("target.timeout", fuzzCmd.Flags().Lookup("request-timeout"))
	viper.BindPFlag("target.follow_redirects", fuzzCmd.Flags().Lookup("follow-redirects"))
	viper.BindPFlag("fuzzer.disabled_cases", fuzzCmd.Flags().Lookup("disable-case"))
}

func dispatcherConfig() idor.DispatcherConfig {
	return idor.DispatcherConfig{
		Timeout:              cfg.Target.Timeout,
		BlockPrivateNetworks: cfg.Security.BlockPrivateNetworks,
		FollowRedirects:      cfg.Target.FollowRedirects,
		UserAgent:            cfg.Target.UserAgent,
		MaxBodyBytes:         cfg.Target.MaxBodyBytes,
		Tracing:              cfg.Telemetry.Enabled,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: cfg.Security.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Security.RateLimit.BurstSize,
			MinDelay:          cfg.Security.RateLimit.MinDelay,
		},
	}
}

func fuzzerConfig(scopePath string) (idor.Config, error) {
	fc := idor.Config{Target: cfg.Target.BaseURL}
	for _, c := range cfg.Fuzzer.DisabledCases {
		fc.DisabledCases = append(fc.DisabledCases, types.TestCase(c))
	}
	if scopePath != "" {
		scope, err := validation.LoadScopeFile(scopePath)
		if err != nil {
			return idor.Config{}, err
		}
		fc.Scope = scope
	}
	return fc, nil
}

func runFuzz(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	var paths inputPaths
	paths.OpenAPI, _ = cmd.Flags().GetString("openapi")
	paths.Corpus, _ = cmd.Flags().GetString("corpus")
	paths.Policy, _ = cmd.Flags().GetString("policy")
	paths.Objects, _ = cmd.Flags().GetString("objects")
	paths.Principals, _ = cmd.Flags().GetString("principals")
	scopePath, _ := cmd.Flags().GetString("scope")
	opts := outputOptionsFrom(cmd)

	if paths.Policy == "" && paths.Objects == "" {
		return errNoPolicySource
	}

	in, err := loadInputs(paths)
	if err != nil {
		return err
	}

	fuzzCfg, err := fuzzerConfig(scopePath)
	if err != nil {
		return err
	}

	extractor := newExtractor()
	model, err := resolveModel(ctx, in, extractor)
	if err != nil {
		return err
	}

	principals := in.knownPrincipals()
	if len(principals) == 0 {
		color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "No principals found: only no_auth replays will be generated")
	}

	o := oracle.New(newMatcher(in.definition), extractor, model, log.WithComponent("oracle"))
	dispatcher := idor.NewHTTPDispatcher(dispatcherConfig(), log.WithComponent("dispatcher").WithTarget(fuzzCfg.Target))
	defer dispatcher.Close()

	fuzzer := idor.NewFuzzer(fuzzCfg, o, extractor, principals, dispatcher, log.WithComponent("fuzzer"))

	log.Infow("Starting identity fuzzing",
		"entries", in.corpus.Len(),
		"rejected", len(in.corpus.Rejected),
		"principals", len(principals),
		"roles", fuzzer.Roles(),
		"target", fuzzCfg.Target,
	)

	ctx, span := log.StartOperation(ctx, "corpus.fuzz", "entries", in.corpus.Len())
	batch, runErr := fuzzer.FuzzCorpus(ctx, in.corpus)
	log.FinishOperation(ctx, span, "corpus.fuzz", start, runErr)
	tel.RecordRun("fuzz", time.Since(start), runErr == nil)

	if runErr != nil {
		color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "\nInterrupted: writing partial results")
	}

	recordBatch(ctx, batch)
	if err := emitReport(cmd, batch, "fuzz", opts); err != nil {
		return err
	}
	return runErr
}
