// Package pathmatch maps concrete request paths onto declared API path
// templates and extracts the object reference they address.
package pathmatch

import (
	"strings"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

const (
	// UnknownResourceType is used when a placeholder has no preceding literal segment.
	UnknownResourceType = "unknown"
	// CollectionID is the synthetic instance id for list endpoints.
	CollectionID = "collection"
)

// Template is a declared route pattern such as /users/{id}.
type Template struct {
	Pattern  string
	Segments []string
}

// NewTemplate splits a pattern into its segments.
func NewTemplate(pattern string) *Template {
	return &Template{Pattern: pattern, Segments: splitPath(pattern)}
}

// Resolution names the step at which path resolution stopped.
type Resolution string

const (
	Resolved         Resolution = "resolved"
	NoTemplate       Resolution = "no_template"
	NoObjectResolved Resolution = "no_object"
)

// Matcher holds the templates of one API definition in declaration order.
// It is read-only after construction and safe for concurrent use.
type Matcher struct {
	templates []*Template
	basePath  string
}

type Option func(*Matcher)

// WithBasePath strips a server base path (e.g. /api) from concrete paths before matching.
func WithBasePath(prefix string) Option {
	return func(m *Matcher) {
		prefix = strings.TrimRight(prefix, "/")
		if prefix != "" && !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		m.basePath = prefix
	}
}

func New(patterns []string, opts ...Option) *Matcher {
	m := &Matcher{templates: make([]*Template, 0, len(patterns))}
	for _, p := range patterns {
		m.templates = append(m.templates, NewTemplate(p))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Templates returns the declared templates in declaration order.
func (m *Matcher) Templates() []*Template {
	return m.templates
}

// Match returns the first template the path satisfies.
// A false result means "indeterminate", not "safe".
func (m *Matcher) Match(path string) (*Template, bool) {
	path = m.normalize(path)

	for _, t := range m.templates {
		if t.Pattern == path {
			return t, true
		}
	}

	concrete := splitPath(path)
	for _, t := range m.templates {
		if segmentsMatch(t.Segments, concrete) {
			return t, true
		}
	}
	return nil, false
}

// ExtractObject derives the object reference addressed by path under template t.
func (m *Matcher) ExtractObject(t *Template, path string) (types.ObjectRef, bool) {
	return ExtractObject(t, m.normalize(path))
}

// Resolve matches the path and extracts its object in one step.
func (m *Matcher) Resolve(path string) (*Template, types.ObjectRef, Resolution) {
	t, ok := m.Match(path)
	if !ok {
		return nil, types.ObjectRef{}, NoTemplate
	}
	obj, ok := m.ExtractObject(t, path)
	if !ok {
		return t, types.ObjectRef{}, NoObjectResolved
	}
	return t, obj, Resolved
}

// ExtractObject walks template/path segment pairs. The first placeholder gives the
// instance id and the literal before it the resource type. Fixed routes fall back
// to the last literal segment with a synthetic collection id.
func ExtractObject(t *Template, path string) (types.ObjectRef, bool) {
	if t == nil {
		return types.ObjectRef{}, false
	}
	concrete := splitPath(path)
	if len(concrete) != len(t.Segments) {
		return types.ObjectRef{}, false
	}

	for i, seg := range t.Segments {
		if !isPlaceholder(seg) {
			continue
		}
		resource := UnknownResourceType
		if i > 0 && !isPlaceholder(t.Segments[i-1]) && t.Segments[i-1] != "" {
			resource = t.Segments[i-1]
		}
		if concrete[i] == "" {
			return types.ObjectRef{}, false
		}
		return types.ObjectRef{Type: resource, ID: concrete[i]}, true
	}

	for i := len(t.Segments) - 1; i >= 0; i-- {
		if t.Segments[i] != "" {
			return types.ObjectRef{Type: t.Segments[i], ID: CollectionID}, true
		}
	}
	return types.ObjectRef{}, false
}

func (m *Matcher) normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if m.basePath != "" && strings.HasPrefix(path, m.basePath) {
		rest := path[len(m.basePath):]
		if rest == "" || strings.HasPrefix(rest, "/") {
			path = rest
		}
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

func segmentsMatch(template, concrete []string) bool {
	if len(template) != len(concrete) {
		return false
	}
	for i, seg := range template {
		if isPlaceholder(seg) {
			if concrete[i] == "" {
				return false
			}
			continue
		}
		if seg != concrete[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return []string{}
	}
	return strings.Split(p, "/")
}

func isPlaceholder(seg string) bool {
	return len(seg) > 2 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}
