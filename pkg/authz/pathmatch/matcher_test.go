package pathmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

func testMatcher(opts ...Option) *Matcher {
	return New([]string{
		"/users",
		"/users/{id}",
		"/users/me",
		"/patients/{id}/records",
		"/{tenant}/settings",
		"/appointments/{appointment_id}/notes/{note_id}",
	}, opts...)
}

func TestMatch(t *testing.T) {
	m := testMatcher()

	tests := []struct {
		name     string
		path     string
		want     string
		wantFind bool
	}{
		{"exact fixed route", "/users", "/users", true},
		{"placeholder", "/users/42", "/users/{id}", true},
		{"exact string fast path", "/users/me", "/users/me", true},
		{"nested", "/patients/456/records", "/patients/{id}/records", true},
		{"trailing slash", "/users/42/", "/users/{id}", true},
		{"query string ignored", "/users/42?expand=true", "/users/{id}", true},
		{"leading placeholder", "/acme/settings", "/{tenant}/settings", true},
		{"too many segments", "/users/42/extra", "", false},
		{"too few segments", "/patients/456", "", false},
		{"unknown literal", "/orders/1", "", false},
		{"root", "/", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, ok := m.Match(tt.path)
			assert.Equal(t, tt.wantFind, ok)
			if tt.wantFind {
				require.NotNil(t, tmpl)
				assert.Equal(t, tt.want, tmpl.Pattern)
			} else {
				assert.Nil(t, tmpl)
			}
		})
	}
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name     string
		template string
		path     string
		want     types.ObjectRef
		wantOK   bool
	}{
		{"single placeholder", "/users/{id}", "/users/123", types.ObjectRef{Type: "users", ID: "123"}, true},
		{"first placeholder wins", "/appointments/{appointment_id}/notes/{note_id}", "/appointments/9/notes/3", types.ObjectRef{Type: "appointments", ID: "9"}, true},
		{"nested literal after placeholder", "/patients/{id}/records", "/patients/456/records", types.ObjectRef{Type: "patients", ID: "456"}, true},
		{"placeholder first", "/{tenant}/settings", "/acme/settings", types.ObjectRef{Type: UnknownResourceType, ID: "acme"}, true},
		{"collection endpoint", "/users", "/users", types.ObjectRef{Type: "users", ID: CollectionID}, true},
		{"nested collection", "/admin/reports", "/admin/reports", types.ObjectRef{Type: "reports", ID: CollectionID}, true},
		{"segment count mismatch", "/users/{id}", "/users/1/2", types.ObjectRef{}, false},
		{"root template", "/", "/", types.ObjectRef{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractObject(NewTemplate(tt.template), tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ExtractObject(nil, "/users/1")
	assert.False(t, ok)
}

func TestDeclarationOrderWins(t *testing.T) {
	m := New([]string{"/users/{id}", "/users/{name}"})
	tmpl, ok := m.Match("/users/alice")
	require.True(t, ok)
	assert.Equal(t, "/users/{id}", tmpl.Pattern)
}

func TestMismatchedSegmentCountsNeverResolve(t *testing.T) {
	templates := []string{"/a/{x}", "/a/{x}/b", "/a/b/c/{d}"}
	paths := []string{"/a", "/a/1/b/2", "/a/b/c", "/a/b/c/d/e"}

	for _, tmpl := range templates {
		for _, p := range paths {
			tpl := NewTemplate(tmpl)
			if len(tpl.Segments) == len(splitPath(p)) {
				continue
			}
			_, ok := New([]string{tmpl}).Match(p)
			assert.False(t, ok, "%s should not match %s", tmpl, p)
			_, ok = ExtractObject(tpl, p)
			assert.False(t, ok, "%s should not extract from %s", tmpl, p)
		}
	}
}

func TestWithBasePath(t *testing.T) {
	m := testMatcher(WithBasePath("/api/"))

	tmpl, obj, res := m.Resolve("/api/users/7")
	assert.Equal(t, Resolved, res)
	require.NotNil(t, tmpl)
	assert.Equal(t, "/users/{id}", tmpl.Pattern)
	assert.Equal(t, types.ObjectRef{Type: "users", ID: "7"}, obj)

	// a path sharing only a prefix with the base path is not stripped
	_, _, res = m.Resolve("/apiv2/users/7")
	assert.Equal(t, NoTemplate, res)

	// paths without the base path still match
	_, _, res = m.Resolve("/users/7")
	assert.Equal(t, Resolved, res)
}

func TestResolve(t *testing.T) {
	m := New([]string{"/", "/users/{id}"})

	_, _, res := m.Resolve("/nowhere/1")
	assert.Equal(t, NoTemplate, res)

	tmpl, _, res := m.Resolve("/")
	assert.Equal(t, NoObjectResolved, res)
	require.NotNil(t, tmpl)
	assert.Equal(t, "/", tmpl.Pattern)
}
