// Package apidef loads OpenAPI/Swagger definitions into the ordered list of
// path templates and operations used for matching and policy inference.
package apidef

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition is returned when a definition lacks required structure.
var ErrInvalidDefinition = errors.New("invalid API definition")

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// Operation is one declared (path, method) pair.
type Operation struct {
	Path        string `json:"path" yaml:"path"`
	Method      string `json:"method" yaml:"method"`
	OperationID string `json:"operation_id,omitempty" yaml:"operation_id,omitempty"`
	Summary     string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Definition is the parsed API definition. Paths keep declaration order.
type Definition struct {
	Title      string
	Version    string
	BasePath   string
	Servers    []string
	Paths      []string
	Operations []Operation
}

type specInfo struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

type specServer struct {
	URL string `yaml:"url"`
}

type specOperation struct {
	OperationID string `yaml:"operationId"`
	Summary     string `yaml:"summary"`
	Description string `yaml:"description"`
}

// Load reads and parses a JSON or YAML definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read API definition %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a definition. JSON is accepted as a YAML subset, which lets
// both formats go through the node API and keep path order.
func Parse(data []byte) (*Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not an object", ErrInvalidDefinition)
	}
	root := doc.Content[0]

	def := &Definition{}

	if info := lookup(root, "info"); info != nil {
		var si specInfo
		if err := info.Decode(&si); err == nil {
			def.Title = si.Title
			def.Version = si.Version
		}
	}

	if servers := lookup(root, "servers"); servers != nil {
		var ss []specServer
		if err := servers.Decode(&ss); err != nil {
			return nil, fmt.Errorf("%w: servers: %v", ErrInvalidDefinition, err)
		}
		for _, s := range ss {
			def.Servers = append(def.Servers, s.URL)
		}
		if len(ss) > 0 {
			def.BasePath = serverBasePath(ss[0].URL)
		}
	}
	// Swagger 2.0
	if bp := lookup(root, "basePath"); bp != nil && bp.Kind == yaml.ScalarNode && def.BasePath == "" {
		def.BasePath = strings.TrimRight(bp.Value, "/")
	}

	paths := lookup(root, "paths")
	if paths == nil {
		return nil, fmt.Errorf("%w: missing paths section", ErrInvalidDefinition)
	}
	if paths.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: paths must be an object", ErrInvalidDefinition)
	}

	for i := 0; i+1 < len(paths.Content); i += 2 {
		pattern := paths.Content[i].Value
		item := paths.Content[i+1]
		if !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("%w: path %q must start with /", ErrInvalidDefinition, pattern)
		}
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: path %q must map methods to operations", ErrInvalidDefinition, pattern)
		}
		def.Paths = append(def.Paths, pattern)

		for j := 0; j+1 < len(item.Content); j += 2 {
			method := strings.ToLower(item.Content[j].Value)
			if !httpMethods[method] {
				continue
			}
			var op specOperation
			if err := item.Content[j+1].Decode(&op); err != nil {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidDefinition, strings.ToUpper(method), pattern, err)
			}
			def.Operations = append(def.Operations, Operation{
				Path:        pattern,
				Method:      strings.ToUpper(method),
				OperationID: op.OperationID,
				Summary:     op.Summary,
				Description: op.Description,
			})
		}
	}

	if len(def.Paths) == 0 {
		return nil, fmt.Errorf("%w: no paths declared", ErrInvalidDefinition)
	}
	return def, nil
}

// Templates returns the declared path templates in declaration order.
func (d *Definition) Templates() []string {
	return append([]string(nil), d.Paths...)
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func serverBasePath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}
