package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/scanners/idor"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

func init() {
	color.NoColor = true
}

func vulnerable(sev types.Severity, url string) types.VulnerabilityResult {
	req, _ := types.NewRequest("GET", url, nil, types.Body{Kind: types.BodyNone})
	return types.VulnerabilityResult{
		TestCase:   types.TestCaseDifferentRole,
		Substitute: "bob",
		Request:    req,
		Response:   &types.Response{StatusCode: 200},
		Verdict: types.Verdict{
			Status:      types.VerdictVulnerable,
			Severity:    sev,
			Explanation: "bob may not read the object",
		},
	}
}

func TestPrintTopFindingsOrdersBySeverity(t *testing.T) {
	var buf bytes.Buffer
	results := []types.VulnerabilityResult{
		vulnerable(types.SeverityLow, "http://clinic.test/users/3"),
		vulnerable(types.SeverityCritical, "http://clinic.test/users/1"),
		{Verdict: types.Verdict{Status: types.VerdictSafe}},
		vulnerable(types.SeverityHigh, "http://clinic.test/users/2"),
	}

	PrintTopFindings(&buf, results, 2)
	out := buf.String()

	assert.Contains(t, out, "Authorization violations (3)")
	assert.Less(t, strings.Index(out, "CRITICAL"), strings.Index(out, "HIGH"))
	assert.NotContains(t, out, "users/3")
	assert.Contains(t, out, "and 1 more")
}

func TestPrintTopFindingsNone(t *testing.T) {
	var buf bytes.Buffer
	PrintTopFindings(&buf, nil, 10)
	assert.Contains(t, buf.String(), "No authorization violations detected")
}

func TestPrintSummaryAndSkipped(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, idor.Summary{RunID: "run-1", Entries: 4, Fuzzed: 3, Skipped: 1, Replays: 5, Vulnerable: 1, Synthetic: 2})
	PrintSkipped(&buf, []idor.Skip{{ID: "req-4", Method: "GET", URL: "http://clinic.test/", Reason: "no resolvable principal"}}, 10)

	out := buf.String()
	assert.Contains(t, out, "Run run-1")
	assert.Contains(t, out, "Transport failures: 2")
	assert.Contains(t, out, "req-4")
	assert.Contains(t, out, "no resolvable principal")
}

func TestPrintPrincipalsGroupsByRole(t *testing.T) {
	var buf bytes.Buffer
	PrintPrincipals(&buf, []types.Principal{
		{ID: "doctor", Role: "doctor", Token: "t1"},
		{ID: "bob", Role: "patient", Token: "t2"},
		{ID: "carol", Role: "doctor", Token: "t3"},
	})
	out := buf.String()

	assert.Contains(t, out, "3 in 2 roles")
	assert.Less(t, strings.Index(out, "carol"), strings.Index(out, "patient"))
}

func TestPrintPolicy(t *testing.T) {
	var buf bytes.Buffer
	PrintPolicy(&buf, []types.PermissionEntry{
		{Principal: "doctor", Object: types.ObjectRef{Type: "users", ID: "1"}, Action: types.ActionRead, Allowed: true},
	})
	assert.Contains(t, buf.String(), "users[1]")
	assert.Contains(t, buf.String(), "yes")

	buf.Reset()
	PrintPolicy(&buf, nil)
	assert.Contains(t, buf.String(), "every access is denied")
}
