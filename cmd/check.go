package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/oracle"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/scanners/idor"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Judge recorded exchanges against the permission model (no traffic)",
	Long: `Run the violation oracle over the request/response pairs already in the
corpus. Nothing is sent to the target, so this is safe to run anywhere and
shows which recorded accesses already break the policy.

Examples:
  authzfuzz check --openapi openapi.yaml --policy permissions.csv --corpus traffic.json
  authzfuzz check --openapi openapi.yaml --policy permissions.csv --corpus traffic.json --format csv --out recorded.csv`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().String("openapi", "", "OpenAPI/Swagger definition (JSON or YAML)")
	checkCmd.Flags().String("policy", "", "permission matrix (CSV)")
	checkCmd.Flags().String("corpus", "", "recorded traffic corpus (JSON)")
	addOutputFlags(checkCmd)
	checkCmd.MarkFlagRequired("openapi")
	checkCmd.MarkFlagRequired("policy")
	checkCmd.MarkFlagRequired("corpus")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	openapiPath, _ := cmd.Flags().GetString("openapi")
	policyPath, _ := cmd.Flags().GetString("policy")
	corpusPath, _ := cmd.Flags().GetString("corpus")
	opts := outputOptionsFrom(cmd)

	in, err := loadInputs(inputPaths{OpenAPI: openapiPath, Policy: policyPath, Corpus: corpusPath})
	if err != nil {
		return err
	}

	o := oracle.New(newMatcher(in.definition), newExtractor(), in.model, log.WithComponent("oracle"))

	ctx, span := log.StartOperation(ctx, "corpus.check", "entries", in.corpus.Len())
	batch, err := idor.CheckCorpus(ctx, o, in.corpus, log.WithComponent("check"))
	log.FinishOperation(ctx, span, "corpus.check", start, err)
	tel.RecordRun("check", time.Since(start), err == nil)

	recordBatch(ctx, batch)
	if reportErr := emitReport(cmd, batch, "check", opts); reportErr != nil {
		return reportErr
	}
	return err
}
