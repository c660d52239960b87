package corpus

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	validation "github.com/jellydator/validation"
	"gopkg.in/yaml.v3"

	appvalidation "github.com/CodeMonkeyCybersecurity/authzfuzz/internal/validation"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/identity"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/permission"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// ErrInvalidPrincipals is returned for unusable principals files.
var ErrInvalidPrincipals = errors.New("invalid principals file")

// SessionCookie is the response cookie carrying a login token.
const SessionCookie = "session_token"

// DiscoverPrincipals collects principals observed in the corpus, in discovery order.
// Sources: request bearer tokens carrying user_id and role claims, session cookies
// set by responses, and login response bodies of the form {id, role, token}.
// The first sighting of an id wins.
func DiscoverPrincipals(c *Corpus) []types.Principal {
	seen := make(map[string]bool)
	var out []types.Principal

	add := func(p types.Principal) {
		if p.ID == "" || p.Role == "" || p.Token == "" || seen[p.ID] {
			return
		}
		seen[p.ID] = true
		out = append(out, p)
	}

	for _, e := range c.Entries {
		if tok := identity.BearerToken(e.Request.Headers.Get("Authorization")); tok != "" {
			add(fromToken(tok))
		}

		if e.Response == nil {
			continue
		}

		for _, ck := range (&http.Response{Header: e.Response.Headers}).Cookies() {
			if ck.Name == SessionCookie && ck.Value != "" {
				add(fromToken(ck.Value))
			}
		}

		id, _ := e.Response.Body.Field("id")
		role, _ := e.Response.Body.Field("role")
		token, _ := e.Response.Body.Field("token")
		login := map[string]any{"id": id, "role": role, "token": token}
		add(types.Principal{
			ID:    identity.ClaimString(login, "id"),
			Role:  identity.ClaimString(login, "role"),
			Token: identity.ClaimString(login, "token"),
		})
	}
	return out
}

func fromToken(token string) types.Principal {
	claims, ok := identity.DecodeClaims(token)
	if !ok {
		return types.Principal{}
	}
	return types.Principal{
		ID:    identity.ClaimString(claims, identity.UserIDClaim),
		Role:  identity.ClaimString(claims, identity.RoleClaim),
		Token: token,
	}
}

type principalRecord struct {
	ID    string `yaml:"id"`
	Role  string `yaml:"role"`
	Token string `yaml:"token"`
}

func (p *principalRecord) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ID, validation.Required.Error("id is required"), appvalidation.NotBlank),
		validation.Field(&p.Role, validation.Required.Error("role is required"), appvalidation.NotBlank),
		validation.Field(&p.Token, validation.Required.Error("token is required"), appvalidation.NotBlank),
	)
}

// ParsePrincipals decodes a YAML or JSON list of {id, role, token}. A bare
// list or an object with a "principals" key are both accepted.
func ParsePrincipals(data []byte) ([]types.Principal, error) {
	var records []principalRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		var wrapper struct {
			Principals []principalRecord `yaml:"principals"`
		}
		if err2 := yaml.Unmarshal(data, &wrapper); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrincipals, err)
		}
		records = wrapper.Principals
	}

	out := make([]types.Principal, 0, len(records))
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, appvalidation.Wrap(ErrInvalidPrincipals, fmt.Errorf("principal %d: %w", i, err))
		}
		out = append(out, types.Principal{
			ID:    records[i].ID,
			Role:  records[i].Role,
			Token: identity.BearerToken(records[i].Token),
		})
	}
	return out, nil
}

// LoadPrincipals reads a principals file.
func LoadPrincipals(path string) ([]types.Principal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read principals %s: %w", path, err)
	}
	return ParsePrincipals(data)
}

// MergePrincipals overlays explicit principals onto discovered ones. An explicit
// entry replaces a discovered one with the same id in place; new ids are appended.
func MergePrincipals(discovered, explicit []types.Principal) []types.Principal {
	out := append([]types.Principal(nil), discovered...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.ID] = i
	}
	for _, p := range explicit {
		if i, ok := index[p.ID]; ok {
			out[i] = p
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

// AccessPatterns summarizes each entry as principal, method, path and status.
// Unresolvable principals are left empty; missing responses have status 0.
func AccessPatterns(c *Corpus, extractor *identity.Extractor) []permission.AccessPattern {
	out := make([]permission.AccessPattern, 0, len(c.Entries))
	for _, e := range c.Entries {
		principal, _, _ := extractor.ExtractPrincipal(e.Request)
		p := permission.AccessPattern{
			Principal: principal,
			Method:    e.Request.Method,
			Path:      e.Request.Path,
		}
		if e.Response != nil {
			p.Status = e.Response.StatusCode
		}
		out = append(out, p)
	}
	return out
}
