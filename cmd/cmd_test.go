package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/identity"
)

const testDefinition = `{
  "openapi": "3.0.0",
  "info": {"title": "Clinic API", "version": "1.0.0"},
  "paths": {
    "/users/{id}": {
      "get": {"operationId": "getUser"}
    }
  }
}`

const testPolicy = `principal,object,action,allowed
doctor,users[1],read,true
`

func jwt(userID, role string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"user_id":%q,"role":%q}`, userID, role)))
	return header + "." + payload + ".sig"
}

func corpusEntry(id, token string, status int) map[string]any {
	headers := map[string]any{"Accept": "application/json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return map[string]any{
		"id":        id,
		"timestamp": "2025-02-16T02:05:54Z",
		"request": map[string]any{
			"url":     "http://clinic.test/users/1",
			"method":  "GET",
			"headers": headers,
			"body":    nil,
		},
		"response": map[string]any{
			"status":  status,
			"headers": map[string]any{"Content-Type": "application/json"},
			"body":    map[string]any{"id": 1},
		},
	}
}

type fixtures struct {
	dir     string
	openapi string
	corpus  string
	policy  string
}

// writeFixtures records a doctor and a patient both reading users[1], plus
// one anonymous request. Only the doctor is granted the read.
func writeFixtures(t *testing.T) fixtures {
	t.Helper()
	dir := t.TempDir()
	f := fixtures{
		dir:     dir,
		openapi: filepath.Join(dir, "openapi.json"),
		corpus:  filepath.Join(dir, "traffic.json"),
		policy:  filepath.Join(dir, "permissions.csv"),
	}

	traffic, err := json.Marshal(map[string]any{
		"requests": []any{
			corpusEntry("req-1", jwt("doctor", "doctor"), 200),
			corpusEntry("req-2", jwt("bob", "patient"), 200),
			corpusEntry("req-3", "", 401),
		},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.openapi, []byte(testDefinition), 0o600))
	require.NoError(t, os.WriteFile(f.corpus, traffic, 0o600))
	require.NoError(t, os.WriteFile(f.policy, []byte(testPolicy), 0o600))
	return f
}

// resetFlags returns every flag to its default so commands can run again.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append(args, "--log-level", "error"))

	err := ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func decodeReport(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

func summaryCount(t *testing.T, r map[string]any, key string) int {
	t.Helper()
	summary, ok := r["summary"].(map[string]any)
	require.True(t, ok, "report has no summary")
	return int(summary[key].(float64))
}

// brokenTarget lets any authenticated caller read any user.
func brokenTarget(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		claims, ok := identity.DecodeClaims(identity.BearerToken(c.GetHeader("Authorization")))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set("caller", identity.ClaimString(claims, identity.UserIDClaim))
		c.Next()
	})
	router.GET("/users/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "viewer": c.GetString("caller")})
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckFlagsRecordedViolation(t *testing.T) {
	f := writeFixtures(t)
	out := filepath.Join(f.dir, "recorded.json")

	stdout, _, err := executeCommand(t, "check",
		"--openapi", f.openapi,
		"--policy", f.policy,
		"--corpus", f.corpus,
		"--out", out,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Report saved")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	r := decodeReport(t, data)

	assert.Equal(t, "check", r["mode"])
	assert.Equal(t, 1, summaryCount(t, r, "vulnerable"))

	vulnerable := r["vulnerable"].([]any)
	require.Len(t, vulnerable, 1)
	finding := vulnerable[0].(map[string]any)
	assert.Equal(t, "req-2", finding["original_request_id"])
	assert.Equal(t, "bob", finding["verdict"].(map[string]any)["principal"])
}

func TestCheckReportOnStdout(t *testing.T) {
	f := writeFixtures(t)

	stdout, stderr, err := executeCommand(t, "check",
		"--openapi", f.openapi,
		"--policy", f.policy,
		"--corpus", f.corpus,
	)
	require.NoError(t, err)

	r := decodeReport(t, []byte(stdout))
	assert.Equal(t, 1, summaryCount(t, r, "vulnerable"))
	assert.NotEmpty(t, stderr)
}

func TestCheckFailOnVulnerable(t *testing.T) {
	f := writeFixtures(t)

	_, _, err := executeCommand(t, "check",
		"--openapi", f.openapi,
		"--policy", f.policy,
		"--corpus", f.corpus,
		"--out", filepath.Join(f.dir, "recorded.csv"),
		"--format", "csv",
		"--fail-on-vulnerable",
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, errVulnerable)
}

func TestCheckRejectsUnknownFormat(t *testing.T) {
	f := writeFixtures(t)

	_, _, err := executeCommand(t, "check",
		"--openapi", f.openapi,
		"--policy", f.policy,
		"--corpus", f.corpus,
		"--format", "html",
	)
	assert.Error(t, err)
}

func TestFuzzAgainstBrokenTarget(t *testing.T) {
	f := writeFixtures(t)
	srv := brokenTarget(t)
	out := filepath.Join(f.dir, "findings.json")

	_, _, err := executeCommand(t, "fuzz",
		"--openapi", f.openapi,
		"--policy", f.policy,
		"--corpus", f.corpus,
		"--target", srv.URL,
		"--rate-limit", "0",
		"--out", out,
	)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	r := decodeReport(t, data)

	assert.Equal(t, "fuzz", r["mode"])
	assert.Equal(t, 3, summaryCount(t, r, "entries"))
	assert.Equal(t, 1, summaryCount(t, r, "vulnerable"))
	assert.Equal(t, 1, summaryCount(t, r, "skipped"))

	vulnerable := r["vulnerable"].([]any)
	require.Len(t, vulnerable, 1)
	finding := vulnerable[0].(map[string]any)
	assert.Equal(t, "different_role", finding["test_case"])
	assert.Equal(t, "bob", finding["substitute_principal"])
	assert.Equal(t, "req-1", finding["original_request_id"])
	assert.True(t, strings.HasPrefix(finding["url"].(string), srv.URL))
}

func TestFuzzDisabledCase(t *testing.T) {
	f := writeFixtures(t)
	srv := brokenTarget(t)
	out := filepath.Join(f.dir, "findings.json")

	_, _, err := executeCommand(t, "fuzz",
		"--openapi", f.openapi,
		"--policy", f.policy,
		"--corpus", f.corpus,
		"--target", srv.URL,
		"--rate-limit", "0",
		"--disable-case", "different_role",
		"--out", out,
	)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	r := decodeReport(t, data)
	assert.Equal(t, 0, summaryCount(t, r, "vulnerable"))
}

func TestFuzzOutOfScopeTargetIsSkipped(t *testing.T) {
	f := writeFixtures(t)
	srv := brokenTarget(t)
	out := filepath.Join(f.dir, "findings.json")
	scope := filepath.Join(f.dir, "staging.scope")
	require.NoError(t, os.WriteFile(scope, []byte("[in-scope]\nstaging.clinic.test\n"), 0o600))

	_, _, err := executeCommand(t, "fuzz",
		"--openapi", f.openapi,
		"--policy", f.policy,
		"--corpus", f.corpus,
		"--target", srv.URL,
		"--scope", scope,
		"--rate-limit", "0",
		"--out", out,
	)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	r := decodeReport(t, data)
	assert.Equal(t, 0, summaryCount(t, r, "replays"))
	assert.Equal(t, 3, summaryCount(t, r, "skipped"))
}

func TestFuzzRequiresPolicySource(t *testing.T) {
	f := writeFixtures(t)

	_, _, err := executeCommand(t, "fuzz",
		"--openapi", f.openapi,
		"--corpus", f.corpus,
	)
	assert.ErrorIs(t, err, errNoPolicySource)
}

func TestPrincipalsSave(t *testing.T) {
	f := writeFixtures(t)
	save := filepath.Join(f.dir, "principals.yaml")

	stdout, _, err := executeCommand(t, "principals", "--corpus", f.corpus, "--save", save)
	require.NoError(t, err)
	assert.Contains(t, stdout, "doctor")
	assert.Contains(t, stdout, "patient")

	data, err := os.ReadFile(save)
	require.NoError(t, err)

	var saved struct {
		Principals []struct {
			ID   string `yaml:"id"`
			Role string `yaml:"role"`
		} `yaml:"principals"`
	}
	require.NoError(t, yaml.Unmarshal(data, &saved))
	require.Len(t, saved.Principals, 2)
	assert.Equal(t, "doctor", saved.Principals[0].ID)
	assert.Equal(t, "patient", saved.Principals[1].Role)
}

func TestScopeFileGenerateAndValidate(t *testing.T) {
	f := writeFixtures(t)
	scope := filepath.Join(f.dir, "clinic.scope")

	stdout, _, err := executeCommand(t, "scopefile", "generate", scope, "--corpus", f.corpus)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Hosts: 1")

	_, _, err = executeCommand(t, "scopefile", "generate", scope, "api.clinic.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	stdout, _, err = executeCommand(t, "scopefile", "validate", scope, "http://clinic.test/users/1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "IN SCOPE")

	stdout, _, err = executeCommand(t, "scopefile", "validate", scope, "http://billing.example.com/")
	require.NoError(t, err)
	assert.Contains(t, stdout, "OUT OF SCOPE")
}

func TestPolicyShow(t *testing.T) {
	f := writeFixtures(t)

	stdout, _, err := executeCommand(t, "policy", "show", "--policy", f.policy)
	require.NoError(t, err)
	assert.Contains(t, stdout, "users[1]")
}

func TestPolicyInferWithoutKey(t *testing.T) {
	f := writeFixtures(t)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("AUTHZFUZZ_CLASSIFIER_API_KEY", "")
	objects := filepath.Join(f.dir, "objects.json")
	require.NoError(t, os.WriteFile(objects, []byte(`{"users": [{"id": 1}, {"id": 2}]}`), 0o600))

	_, _, err := executeCommand(t, "policy", "infer",
		"--openapi", f.openapi,
		"--corpus", f.corpus,
		"--objects", objects,
		"--out", filepath.Join(f.dir, "inferred.csv"),
	)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(f.dir, "inferred.csv"))
}

func TestConfigShowMasksSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-abcdef")

	stdout, _, err := executeCommand(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "sk-t****cdef")
	assert.NotContains(t, stdout, "sk-test-abcdef")
	assert.Contains(t, stdout, "requests_per_second")
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "****"},
		{"12345678", "****"},
		{"sk-proj-0123456789", "sk-p****6789"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mask(tt.in))
	}
}

func TestLoadInputsErrors(t *testing.T) {
	f := writeFixtures(t)

	_, err := loadInputs(inputPaths{OpenAPI: f.openapi, Corpus: filepath.Join(f.dir, "missing.json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load corpus")

	in, err := loadInputs(inputPaths{OpenAPI: f.openapi, Corpus: f.corpus})
	require.NoError(t, err)
	_, err = resolveModel(context.Background(), in, identity.NewExtractor())
	assert.ErrorIs(t, err, errNoPolicySource)
}
