package apidef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonDefinition = `{
  "openapi": "3.0.0",
  "info": {"title": "Clinic API", "version": "1.2.0"},
  "servers": [{"url": "http://localhost:5000/api/"}],
  "paths": {
    "/users/{id}": {
      "get": {"operationId": "getUser", "summary": "Fetch a user"},
      "put": {"operationId": "updateUser", "summary": "Update a user"},
      "parameters": [{"name": "id", "in": "path"}]
    },
    "/users": {
      "get": {"operationId": "listUsers", "description": "List all users"}
    },
    "/appointments": {
      "post": {"operationId": "createAppointment"}
    }
  }
}`

const yamlDefinition = `
swagger: "2.0"
info:
  title: Legacy API
basePath: /v1/
paths:
  /patients/{id}/records:
    get:
      operationId: getRecords
  /patients:
    post:
      summary: Register a patient
    delete:
      summary: Remove all patients
`

func TestParseJSONKeepsDeclarationOrder(t *testing.T) {
	def, err := Parse([]byte(jsonDefinition))
	require.NoError(t, err)

	assert.Equal(t, "Clinic API", def.Title)
	assert.Equal(t, "1.2.0", def.Version)
	assert.Equal(t, "/api", def.BasePath)
	assert.Equal(t, []string{"http://localhost:5000/api/"}, def.Servers)
	assert.Equal(t, []string{"/users/{id}", "/users", "/appointments"}, def.Templates())

	require.Len(t, def.Operations, 4)
	assert.Equal(t, Operation{Path: "/users/{id}", Method: "GET", OperationID: "getUser", Summary: "Fetch a user"}, def.Operations[0])
	assert.Equal(t, "PUT", def.Operations[1].Method)
	assert.Equal(t, "List all users", def.Operations[2].Description)
	assert.Equal(t, "POST", def.Operations[3].Method)
}

func TestParseYAML(t *testing.T) {
	def, err := Parse([]byte(yamlDefinition))
	require.NoError(t, err)

	assert.Equal(t, "/v1", def.BasePath)
	assert.Equal(t, []string{"/patients/{id}/records", "/patients"}, def.Paths)
	require.Len(t, def.Operations, 3)
	assert.Equal(t, "DELETE", def.Operations[2].Method)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "{{{"},
		{"scalar document", "just a string"},
		{"missing paths", `{"openapi": "3.0.0"}`},
		{"paths not an object", `{"paths": ["/users"]}`},
		{"empty paths", `{"paths": {}}`},
		{"relative path", `{"paths": {"users": {"get": {}}}}`},
		{"path item not an object", `{"paths": {"/users": "get"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openapi.json")
	require.NoError(t, os.WriteFile(path, []byte(jsonDefinition), 0o600))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, def.Paths, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
