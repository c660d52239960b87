package ai

import (
	"context"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/permission"
)

const policySystemPrompt = "You are a security expert deriving the access-control policy of a web API. " +
	"Respond with a single JSON object only."

const policyPromptTemplate = `Based on the following application context, generate a permission matrix.

Respond with ONLY a JSON object of the form {"permissions": [...]}.
Each permission record must have exactly these fields:
  "principal": the user identifier as it appears in access_patterns
  "object":    a resource reference of the form type[id], e.g. users[1]; use type[collection] for list endpoints
  "action":    one of "create", "read", "update", "delete"
  "allowed":   true or false

Cover every principal, object and action you can infer. Resource types are the
path segments preceding a {placeholder} in the operations list.

Example:
{"permissions": [
  {"principal": "john", "object": "users[1]", "action": "read", "allowed": true},
  {"principal": "alice", "object": "users[1]", "action": "update", "allowed": false}
]}

Context:
%s
`

// PolicyClassifier asks a chat model to infer the permission matrix.
type PolicyClassifier struct {
	client *Client
}

func NewPolicyClassifier(client *Client) *PolicyClassifier {
	return &PolicyClassifier{client: client}
}

// Classify implements permission.Classifier. The reply is returned untouched;
// permission.ParseReply decides whether it is usable.
func (p *PolicyClassifier) Classify(ctx context.Context, bundle permission.Bundle) ([]byte, error) {
	if p.client == nil || !p.client.IsEnabled() {
		return nil, ErrNotEnabled
	}

	bundleJSON, err := bundle.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode classification context: %w", err)
	}

	content, err := p.client.GenerateJSON(ctx, policySystemPrompt, fmt.Sprintf(policyPromptTemplate, bundleJSON))
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

var _ permission.Classifier = (*PolicyClassifier)(nil)
