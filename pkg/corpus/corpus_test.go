package corpus

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/identity"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/permission"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

func jwt(userID, role string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"user_id":%q,"role":%q}`, userID, role)))
	return header + "." + payload + ".sig"
}

func sampleCorpus() string {
	return fmt.Sprintf(`{
  "requests": [
    {
      "id": 1,
      "timestamp": "2025-02-16T02:05:54Z",
      "request": {"url": "http://clinic.test/api/login", "method": "post", "headers": {}, "body": "{\"username\": \"doc\"}"},
      "response": {"status": 200, "headers": {"set-cookie": ["theme=dark", "session_token=%s; Path=/; HttpOnly"]}, "body": {"ok": true}}
    },
    {
      "id": "req-2",
      "timestamp": 1739671554,
      "request": {"url": "http://clinic.test/api/users/1", "method": "GET", "headers": {"authorization": "Bearer %s"}, "body": null},
      "response": {"status": 200, "headers": {"content-type": "application/json"}, "body": "{\"id\": 1}"}
    },
    {
      "id": 3,
      "request": {"url": "http://clinic.test/api/login", "method": "POST", "headers": {}, "body": {"username": "pat"}},
      "response": {"status": 200, "headers": {}, "body": {"id": 7, "role": "patient", "token": "opaque-pat"}}
    },
    {
      "id": 4,
      "request": {"url": "http://clinic.test/api/users/2", "method": "GET", "headers": {"Authorization": "Bearer %s"}}
    },
    {"id": 5, "timestamp": "t5"},
    {"id": 6, "request": {"url": "/relative", "method": "GET"}},
    "not an entry"
  ]
}`, jwt("doctor", "doctor"), jwt("alice", "admin"), jwt("alice", "admin"))
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleCorpus()))
	require.NoError(t, err)

	require.Equal(t, 4, c.Len())
	assert.Len(t, c.Rejected, 3)

	first := c.Entries[0]
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2025-02-16T02:05:54Z", first.Timestamp)
	assert.Equal(t, "POST", first.Request.Method)
	assert.Equal(t, "/api/login", first.Request.Path)
	assert.Equal(t, "1", first.Request.ID)
	assert.Equal(t, types.BodyStructured, first.Request.Body.Kind)
	require.NotNil(t, first.Response)
	assert.Len(t, first.Response.Headers.Values("Set-Cookie"), 2)

	second := c.Entries[1]
	assert.Equal(t, "req-2", second.ID)
	assert.Equal(t, "1739671554", second.Timestamp)
	assert.Equal(t, types.BodyNone, second.Request.Body.Kind)
	assert.True(t, second.Response.Granted())
	assert.Equal(t, types.BodyStructured, second.Response.Body.Kind)

	assert.Nil(t, c.Entries[3].Response)

	assert.Equal(t, "5", c.Rejected[0].ID)
	assert.Equal(t, "t5", c.Rejected[0].Timestamp)
	assert.Contains(t, c.Rejected[0].Reason, "no request")
	assert.Equal(t, "6", c.Rejected[1].ID)
	assert.Contains(t, c.Rejected[1].Reason, "url")
	assert.Equal(t, "#6", c.Rejected[2].ID)
}

func TestParseBareArrayGeneratesIDs(t *testing.T) {
	c, err := Parse([]byte(`[{"request": {"url": "http://a.test/x", "method": "GET"}}]`))
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	assert.Len(t, c.Entries[0].ID, 36)
	assert.Equal(t, c.Entries[0].ID, c.Entries[0].Request.ID)
}

func TestParseInvalid(t *testing.T) {
	for name, data := range map[string]string{
		"empty":       "",
		"scalar":      `"requests"`,
		"broken json": `{"requests": [`,
		"no requests": `{"entries": []}`,
		"wrong type":  `{"requests": {}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidCorpus)
		})
	}
}

func TestDiscoverPrincipals(t *testing.T) {
	c, err := Parse([]byte(sampleCorpus()))
	require.NoError(t, err)

	principals := DiscoverPrincipals(c)
	require.Len(t, principals, 3)

	assert.Equal(t, "doctor", principals[0].ID)
	assert.Equal(t, "doctor", principals[0].Role)
	assert.Equal(t, jwt("doctor", "doctor"), principals[0].Token)

	assert.Equal(t, types.Principal{ID: "alice", Role: "admin", Token: jwt("alice", "admin")}, principals[1])
	assert.Equal(t, types.Principal{ID: "7", Role: "patient", Token: "opaque-pat"}, principals[2])
}

func TestAccessPatterns(t *testing.T) {
	c, err := Parse([]byte(sampleCorpus()))
	require.NoError(t, err)

	patterns := AccessPatterns(c, identity.NewExtractor())
	require.Len(t, patterns, 4)
	assert.Equal(t, permission.AccessPattern{Principal: "doc", Method: "POST", Path: "/api/login", Status: 200}, patterns[0])
	assert.Equal(t, permission.AccessPattern{Principal: "alice", Method: "GET", Path: "/api/users/1", Status: 200}, patterns[1])
	assert.Equal(t, 0, patterns[3].Status)
}

func TestParsePrincipals(t *testing.T) {
	yamlDoc := `
- id: alice
  role: admin
  token: Bearer abc
- id: bob
  role: patient
  token: def
`
	principals, err := ParsePrincipals([]byte(yamlDoc))
	require.NoError(t, err)
	require.Len(t, principals, 2)
	assert.Equal(t, "abc", principals[0].Token)

	wrapped, err := ParsePrincipals([]byte(`{"principals": [{"id": "carol", "role": "doctor", "token": "xyz"}]}`))
	require.NoError(t, err)
	require.Len(t, wrapped, 1)
	assert.Equal(t, "doctor", wrapped[0].Role)

	_, err = ParsePrincipals([]byte(`[{"id": "dave", "token": "t"}]`))
	assert.ErrorIs(t, err, ErrInvalidPrincipals)

	_, err = ParsePrincipals([]byte(`[unclosed`))
	assert.ErrorIs(t, err, ErrInvalidPrincipals)
}

func TestMergePrincipals(t *testing.T) {
	discovered := []types.Principal{
		{ID: "alice", Role: "admin", Token: "old"},
		{ID: "bob", Role: "patient", Token: "b"},
	}
	explicit := []types.Principal{
		{ID: "alice", Role: "admin", Token: "new"},
		{ID: "carol", Role: "doctor", Token: "c"},
	}

	merged := MergePrincipals(discovered, explicit)
	require.Len(t, merged, 3)
	assert.Equal(t, "new", merged[0].Token)
	assert.Equal(t, "bob", merged[1].ID)
	assert.Equal(t, "carol", merged[2].ID)
	assert.Equal(t, "old", discovered[0].Token)
}

func TestLoadInventory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "objects.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users": [{"id": 1, "name": "Alice"}], "appointments": []}`), 0o600))

	inv, err := LoadInventory(path)
	require.NoError(t, err)
	require.Contains(t, inv, "users")
	assert.Equal(t, "Alice", inv["users"][0]["name"])

	_, err = ParseInventory([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrInvalidInventory)

	_, err = ParseInventory([]byte(``))
	assert.ErrorIs(t, err, ErrInvalidInventory)

	_, err = LoadInventory(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network_log.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleCorpus()), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
}
