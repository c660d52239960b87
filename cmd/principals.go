package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/cmd/internal/display"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

var principalsCmd = &cobra.Command{
	Use:   "principals",
	Short: "List principals discovered in a traffic corpus",
	Long: `Discover the principals the fuzzer can substitute.

Principals are read from bearer tokens carrying user_id and role claims,
session_token cookies set by responses, and login responses of the form
{"id": ..., "role": ..., "token": ...}. A principals file extends or
overrides what was discovered.

Examples:
  authzfuzz principals --corpus traffic.json
  authzfuzz principals --corpus traffic.json --save principals.yaml
  authzfuzz principals --corpus traffic.json --principals extra.yaml`,
	RunE: runPrincipals,
}

func init() {
	rootCmd.AddCommand(principalsCmd)

	principalsCmd.Flags().String("corpus", "", "recorded traffic corpus (JSON)")
	principalsCmd.Flags().String("principals", "", "principals file (YAML or JSON) merged over discovered ones")
	principalsCmd.Flags().String("save", "", "write the merged principals to a YAML file")
	principalsCmd.MarkFlagRequired("corpus")
}

func runPrincipals(cmd *cobra.Command, args []string) error {
	corpusPath, _ := cmd.Flags().GetString("corpus")
	principalsPath, _ := cmd.Flags().GetString("principals")
	savePath, _ := cmd.Flags().GetString("save")

	in, err := loadInputs(inputPaths{Corpus: corpusPath, Principals: principalsPath})
	if err != nil {
		return err
	}

	principals := in.knownPrincipals()
	log.Infow("Principals resolved",
		"corpus_entries", in.corpus.Len(),
		"explicit", len(in.principals),
		"total", len(principals),
	)

	out := cmd.OutOrStdout()
	display.PrintPrincipals(out, principals)

	if savePath != "" {
		if err := savePrincipals(savePath, principals); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(out, "\n✓ Principals saved: %s\n", savePath)
	}
	return nil
}

func savePrincipals(path string, principals []types.Principal) error {
	data, err := yaml.Marshal(struct {
		Principals []types.Principal `yaml:"principals"`
	}{principals})
	if err != nil {
		return fmt.Errorf("failed to encode principals: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write principals %s: %w", path, err)
	}
	return nil
}
