// Package display provides the colored terminal output shared by authzfuzz
// commands. Machine-readable results go through pkg/report; this package is
// only for humans.
package display

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/cmd/internal/utils"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/scanners/idor"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// ColorVerdict returns a colorized verdict with an icon
func ColorVerdict(status types.VerdictStatus) string {
	switch status {
	case types.VerdictVulnerable:
		return color.New(color.FgRed, color.Bold).Sprint("✗ vulnerable")
	case types.VerdictIndeterminate:
		return color.New(color.FgYellow).Sprint("? indeterminate")
	case types.VerdictSafe:
		return color.New(color.FgGreen).Sprint("✓ safe")
	default:
		return string(status)
	}
}

// ColorSeverity returns a colorized severity string
func ColorSeverity(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint("CRITICAL")
	case types.SeverityHigh:
		return color.New(color.FgRed).Sprint("HIGH")
	case types.SeverityMedium:
		return color.New(color.FgYellow).Sprint("MEDIUM")
	case types.SeverityLow:
		return color.New(color.FgCyan).Sprint("LOW")
	default:
		return string(severity)
	}
}

var severityOrder = map[types.Severity]int{
	types.SeverityCritical: 0,
	types.SeverityHigh:     1,
	types.SeverityMedium:   2,
	types.SeverityLow:      3,
}

// PrintSummary writes the run counters.
func PrintSummary(w io.Writer, s idor.Summary) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "\nRun %s\n", s.RunID)
	fmt.Fprintf(w, "  Corpus entries: %d (fuzzed %d, skipped %d)\n", s.Entries, s.Fuzzed, s.Skipped)
	fmt.Fprintf(w, "  Verdicts:       %d\n", s.Replays)
	fmt.Fprintf(w, "    %-24s %d\n", ColorVerdict(types.VerdictVulnerable), s.Vulnerable)
	fmt.Fprintf(w, "    %-24s %d\n", ColorVerdict(types.VerdictIndeterminate), s.Indeterminate)
	fmt.Fprintf(w, "    %-24s %d\n", ColorVerdict(types.VerdictSafe), s.Safe)
	if s.Synthetic > 0 {
		color.New(color.FgYellow).Fprintf(w, "  Transport failures: %d\n", s.Synthetic)
	}
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Duration:       %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
}

// PrintTopFindings lists up to limit vulnerable results, most severe first.
func PrintTopFindings(w io.Writer, results []types.VulnerabilityResult, limit int) {
	vulnerable := make([]types.VulnerabilityResult, 0, len(results))
	for _, r := range results {
		if r.Verdict.Vulnerable() {
			vulnerable = append(vulnerable, r)
		}
	}
	if len(vulnerable) == 0 {
		color.New(color.FgGreen).Fprintln(w, "\nNo authorization violations detected")
		return
	}

	sort.SliceStable(vulnerable, func(i, j int) bool {
		return severityOrder[vulnerable[i].Verdict.Severity] < severityOrder[vulnerable[j].Verdict.Severity]
	})

	color.New(color.FgRed, color.Bold).Fprintf(w, "\nAuthorization violations (%d)\n", len(vulnerable))
	for _, r := range vulnerable[:utils.Min(limit, len(vulnerable))] {
		method, target := "", ""
		if r.Request != nil {
			method, target = r.Request.Method, r.Request.URL
		}
		fmt.Fprintf(w, "\n%s %s %s\n", ColorSeverity(r.Verdict.Severity), method, target)
		fmt.Fprintf(w, "  Case: %s | Substitute: %s | Status: %d\n", r.TestCase, substituteLabel(r.Substitute), statusOf(r))
		fmt.Fprintf(w, "  %s\n", truncate(r.Verdict.Explanation, 150))
	}
	if len(vulnerable) > limit {
		fmt.Fprintf(w, "\n  ... and %d more (see the full report)\n", len(vulnerable)-limit)
	}
}

// PrintSkipped lists corpus entries that produced no replay.
func PrintSkipped(w io.Writer, skipped []idor.Skip, limit int) {
	if len(skipped) == 0 {
		return
	}
	color.New(color.FgYellow).Fprintf(w, "\nSkipped entries (%d)\n", len(skipped))
	for _, s := range skipped[:utils.Min(limit, len(skipped))] {
		fmt.Fprintf(w, "  %-8s %s %s: %s\n", s.ID, s.Method, truncate(s.URL, 80), s.Reason)
	}
	if len(skipped) > limit {
		fmt.Fprintf(w, "  ... and %d more\n", len(skipped)-limit)
	}
}

// PrintPrincipals lists principals grouped by role in first-appearance order.
func PrintPrincipals(w io.Writer, principals []types.Principal) {
	if len(principals) == 0 {
		color.New(color.FgYellow).Fprintln(w, "No principals found")
		return
	}

	var roles []string
	byRole := make(map[string][]types.Principal)
	for _, p := range principals {
		if _, ok := byRole[p.Role]; !ok {
			roles = append(roles, p.Role)
		}
		byRole[p.Role] = append(byRole[p.Role], p)
	}

	color.New(color.FgCyan, color.Bold).Fprintf(w, "Principals (%d in %d roles)\n", len(principals), len(roles))
	for _, role := range roles {
		color.New(color.Bold).Fprintf(w, "\n  %s\n", role)
		for _, p := range byRole[role] {
			fmt.Fprintf(w, "    %-20s %s\n", p.ID, truncate(p.Token, 40))
		}
	}
}

// PrintPolicy renders the permission matrix as a table.
func PrintPolicy(w io.Writer, entries []types.PermissionEntry) {
	if len(entries) == 0 {
		color.New(color.FgYellow).Fprintln(w, "Permission model is empty: every access is denied")
		return
	}
	fmt.Fprintf(w, "%-20s %-24s %-8s %s\n", "PRINCIPAL", "OBJECT", "ACTION", "ALLOWED")
	for _, e := range entries {
		allowed := color.New(color.FgRed).Sprint("no")
		if e.Allowed {
			allowed = color.New(color.FgGreen).Sprint("yes")
		}
		fmt.Fprintf(w, "%-20s %-24s %-8s %s\n", e.Principal, e.Object.String(), e.Action, allowed)
	}
}

func substituteLabel(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func statusOf(r types.VulnerabilityResult) int {
	if r.Response == nil {
		return 0
	}
	return r.Response.StatusCode
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
