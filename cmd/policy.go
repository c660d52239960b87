package cmd

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/cmd/internal/display"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/permission"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Infer or inspect the permission model",
	Long: `The permission model is a default-deny matrix of
(principal, object, action, allowed) rows stored as CSV.

Examples:
  authzfuzz policy infer --openapi openapi.yaml --corpus traffic.json --objects objects.json --out permissions.csv
  authzfuzz policy show --policy permissions.csv`,
}

var policyInferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Infer the permission matrix with a chat model",
	Long: `Send the API operations, the observed access patterns and the object
inventory to the configured chat model and save the permission matrix it
returns. Requires OPENAI_API_KEY (or the Azure OpenAI settings).

The reply is validated strictly: a malformed reply aborts without writing
anything.`,
	RunE: runPolicyInfer,
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a permission matrix",
	RunE:  runPolicyShow,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyInferCmd)
	policyCmd.AddCommand(policyShowCmd)

	policyInferCmd.Flags().String("openapi", "", "OpenAPI/Swagger definition (JSON or YAML)")
	policyInferCmd.Flags().String("corpus", "", "recorded traffic corpus (JSON)")
	policyInferCmd.Flags().String("objects", "", "object inventory (JSON or YAML)")
	policyInferCmd.Flags().String("out", "permissions.csv", "where to write the matrix (- for stdout)")
	policyInferCmd.MarkFlagRequired("openapi")
	policyInferCmd.MarkFlagRequired("corpus")
	policyInferCmd.MarkFlagRequired("objects")

	policyShowCmd.Flags().String("policy", "", "permission matrix (CSV)")
	policyShowCmd.MarkFlagRequired("policy")
}

func runPolicyInfer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	openapiPath, _ := cmd.Flags().GetString("openapi")
	corpusPath, _ := cmd.Flags().GetString("corpus")
	objectsPath, _ := cmd.Flags().GetString("objects")
	outPath, _ := cmd.Flags().GetString("out")

	in, err := loadInputs(inputPaths{OpenAPI: openapiPath, Corpus: corpusPath, Objects: objectsPath})
	if err != nil {
		return err
	}

	ctx, span := log.StartOperation(ctx, "policy.infer")
	model, err := inferModel(ctx, in, newExtractor())
	log.FinishOperation(ctx, span, "policy.infer", start, err)
	tel.RecordRun("policy_infer", time.Since(start), err == nil)
	if err != nil {
		return err
	}

	if outPath == "-" {
		return model.WriteCSV(cmd.OutOrStdout())
	}
	if err := model.SaveCSV(outPath); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "✓ Permission matrix saved: %s\n", outPath)
	color.New(color.FgWhite).Fprintf(out, "  Entries: %d | Principals: %d\n", model.Len(), len(model.Principals()))
	return nil
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	policyPath, _ := cmd.Flags().GetString("policy")

	model, err := permission.LoadCSV(policyPath)
	if err != nil {
		return err
	}
	display.PrintPolicy(cmd.OutOrStdout(), model.Entries())
	return nil
}
