// Package permission holds the inferred access-control policy: a default-deny
// table of (principal, object, action) entries.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

var (
	// ErrConfiguration marks a fatal failure to construct the model.
	ErrConfiguration = errors.New("permission model configuration error")
	// ErrMalformedReply is returned when a classifier reply cannot be parsed.
	ErrMalformedReply = errors.New("malformed classifier reply")
)

// Classifier decides the policy for a context bundle and replies with a
// structured collection of permission records.
type Classifier interface {
	Classify(ctx context.Context, bundle Bundle) ([]byte, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, bundle Bundle) ([]byte, error)

func (f ClassifierFunc) Classify(ctx context.Context, bundle Bundle) ([]byte, error) {
	return f(ctx, bundle)
}

type key struct {
	principal string
	object    types.ObjectRef
	action    types.Action
}

// Model is read-only after construction.
type Model struct {
	index   map[key]bool
	order   []key
	entries map[key]types.PermissionEntry
}

// NewModel indexes entries; a later entry with the same key replaces an earlier one.
func NewModel(entries []types.PermissionEntry) *Model {
	m := &Model{
		index:   make(map[key]bool, len(entries)),
		entries: make(map[key]types.PermissionEntry, len(entries)),
	}
	for _, e := range entries {
		k := key{principal: e.Principal, object: e.Object, action: e.Action}
		if _, seen := m.index[k]; !seen {
			m.order = append(m.order, k)
		}
		m.index[k] = e.Allowed
		m.entries[k] = e
	}
	return m
}

// Build asks the classifier for a policy and indexes the reply.
// Any failure aborts construction; no partial model is returned.
func Build(ctx context.Context, classifier Classifier, bundle Bundle) (*Model, error) {
	if classifier == nil {
		return nil, fmt.Errorf("%w: no classifier configured", ErrConfiguration)
	}

	reply, err := classifier.Classify(ctx, bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: classification failed: %v", ErrConfiguration, err)
	}

	entries, err := ParseReply(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return NewModel(entries), nil
}

// Check reports whether principal may perform action on obj. Absent entries deny.
func (m *Model) Check(principal string, obj types.ObjectRef, action types.Action) bool {
	if m == nil {
		return false
	}
	return m.index[key{principal: principal, object: obj, action: action}]
}

// CheckMethod is Check with the action derived from an HTTP verb.
func (m *Model) CheckMethod(principal string, obj types.ObjectRef, method string) (bool, error) {
	action, err := types.ActionForMethod(method)
	if err != nil {
		return false, err
	}
	return m.Check(principal, obj, action), nil
}

// Entries returns the deduplicated entries in first-seen order.
func (m *Model) Entries() []types.PermissionEntry {
	out := make([]types.PermissionEntry, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.entries[k])
	}
	return out
}

func (m *Model) Len() int {
	return len(m.order)
}

// Principals returns the distinct principals named by the model, sorted.
func (m *Model) Principals() []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range m.order {
		if !seen[k.principal] {
			seen[k.principal] = true
			out = append(out, k.principal)
		}
	}
	sort.Strings(out)
	return out
}
