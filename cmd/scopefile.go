package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/cmd/internal/utils"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/validation"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/corpus"
)

var scopeFileCmd = &cobra.Command{
	Use:   "scopefile",
	Short: "Manage scope files restricting where replays may go",
	Long: `Scope files define which hosts the fuzzer is authorized to replay to.

A scope file contains:
- [in-scope] section: authorized hosts (domains, wildcards, IPs, ranges, URL prefixes)
- [out-of-scope] section: explicitly excluded hosts, which always win

Example scope file:
  [in-scope]
  staging.example.com
  *.sandbox.example.com
  10.20.0.0/16

  [out-of-scope]
  payments.staging.example.com

Usage:
  authzfuzz scopefile generate staging.scope staging.example.com
  authzfuzz scopefile generate staging.scope --corpus traffic.json
  authzfuzz fuzz --scope staging.scope ...`,
}

var scopeFileGenerateCmd = &cobra.Command{
	Use:   "generate [output-file] [hosts...]",
	Short: "Generate a scope file from hosts or from the hosts in a corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile := args[0]
		hosts := args[1:]

		if corpusPath, _ := cmd.Flags().GetString("corpus"); corpusPath != "" {
			c, err := corpus.Load(corpusPath)
			if err != nil {
				return err
			}
			hosts = append(hosts, corpusHosts(c)...)
		}
		hosts = utils.UniqueStrings(hosts)
		if len(hosts) == 0 {
			return fmt.Errorf("no hosts given: pass hosts or --corpus")
		}

		if _, err := os.Stat(outputFile); err == nil {
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			if !overwrite {
				return fmt.Errorf("file %s already exists (use --overwrite to replace)", outputFile)
			}
		}

		if err := validation.GenerateScopeFile(outputFile, hosts); err != nil {
			return fmt.Errorf("failed to generate scope file: %w", err)
		}

		out := cmd.OutOrStdout()
		color.New(color.FgGreen).Fprintf(out, "✓ Scope file generated: %s\n", outputFile)
		fmt.Fprintf(out, "  Hosts: %d\n", len(hosts))
		fmt.Fprintf(out, "\nReview the file, then use:\n")
		fmt.Fprintf(out, "  authzfuzz fuzz --scope %s ...\n", outputFile)
		return nil
	},
}

var scopeFileValidateCmd = &cobra.Command{
	Use:   "validate [scope-file] [url]",
	Short: "Check whether a URL or host is in scope",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := validation.LoadScopeFile(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if scope.IsInScope(args[1]) {
			color.New(color.FgGreen).Fprintf(out, "✓ %s is IN SCOPE\n", args[1])
		} else {
			color.New(color.FgRed).Fprintf(out, "✗ %s is OUT OF SCOPE\n", args[1])
		}
		return nil
	},
}

// corpusHosts lists request hosts in corpus order.
func corpusHosts(c *corpus.Corpus) []string {
	hosts := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		if u, err := url.Parse(e.Request.URL); err == nil {
			hosts = append(hosts, u.Hostname())
		}
	}
	return hosts
}

func init() {
	rootCmd.AddCommand(scopeFileCmd)
	scopeFileCmd.AddCommand(scopeFileGenerateCmd)
	scopeFileCmd.AddCommand(scopeFileValidateCmd)

	scopeFileGenerateCmd.Flags().Bool("overwrite", false, "overwrite an existing scope file")
	scopeFileGenerateCmd.Flags().String("corpus", "", "add every host seen in this corpus")
}
