package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScope = `# Description: clinic staging
staging.clinic.test
*.sandbox.clinic.test
10.20.0.0/16
192.0.2.7
https://legacy.clinic.test/api
not a host

[out-of-scope]
billing.staging.clinic.test
`

func TestParseScope(t *testing.T) {
	scope, err := ParseScope(strings.NewReader(testScope))
	require.NoError(t, err)

	assert.Equal(t, "clinic staging", scope.Description)
	require.Len(t, scope.InScope, 5)
	require.Len(t, scope.OutOfScope, 1)

	types := make([]string, 0, len(scope.InScope))
	for _, e := range scope.InScope {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"domain", "wildcard", "ip_range", "ip", "url"}, types)
}

func TestIsInScope(t *testing.T) {
	scope, err := ParseScope(strings.NewReader(testScope))
	require.NoError(t, err)

	tests := []struct {
		target string
		want   bool
	}{
		{"https://staging.clinic.test/users/1", true},
		{"https://api.staging.clinic.test:8443/users/1", true},
		{"https://billing.staging.clinic.test/invoices", false},
		{"https://eu.sandbox.clinic.test/users", true},
		{"https://sandbox.clinic.test/users", false},
		{"http://10.20.3.4:8080/users/1", true},
		{"http://10.21.0.1/users/1", false},
		{"http://192.0.2.7/users", true},
		{"https://legacy.clinic.test/api/users", true},
		{"https://legacy.clinic.test/admin", false},
		{"https://clinic.test/users/1", false},
		{"staging.clinic.test", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, scope.IsInScope(tt.target))
		})
	}
}

func TestGenerateAndLoadScopeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scope.txt")
	require.NoError(t, GenerateScopeFile(path, []string{"staging.clinic.test", "10.0.0.5"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[out-of-scope]")

	scope, err := LoadScopeFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Hosts authorized for identity replay", scope.Description)
	assert.Len(t, scope.InScope, 2)
	assert.Empty(t, scope.OutOfScope)
	assert.True(t, scope.IsInScope("http://10.0.0.5/users/1"))
	assert.False(t, scope.IsInScope("http://10.0.0.6/users/1"))

	_, err = LoadScopeFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
