// pkg/scanners/idor/fuzzer.go
//
// Differential identity fuzzer for IDOR/BOLA detection.
//
// Every recorded request is replayed under substituted identities and each
// replay is judged by the violation oracle:
//   - no_auth:        credentials stripped
//   - same_role:      another principal holding the original principal's role
//   - different_role: the first principal of the first other role
//
// Variants without an eligible substitute are omitted. Requests are replayed
// strictly in corpus order, one variant at a time.
package idor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/identity"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/oracle"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

var (
	// ErrInvalidTarget is the skip reason when the target override cannot be applied.
	ErrInvalidTarget = errors.New("invalid replay target")
	// ErrOutOfScope is the skip reason for replays aimed at a host outside the scope file.
	ErrOutOfScope = errors.New("replay target out of scope")
)

// Logger interface for structured logging
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Evaluator judges one replayed exchange. *oracle.Oracle satisfies it.
type Evaluator interface {
	Evaluate(req *types.Request, resp *types.Response) (types.Verdict, error)
}

// Dispatcher sends a request to the target system. Implementations should turn
// transport failures into synthetic responses and only return an error when the
// context is done.
type Dispatcher interface {
	Do(ctx context.Context, req *types.Request) (*types.Response, error)
}

// ScopeChecker decides whether a replay URL may be contacted.
type ScopeChecker interface {
	IsInScope(target string) bool
}

// Config contains fuzzer configuration
type Config struct {
	// Target, when set, replaces the scheme and host of every corpus URL
	// (e.g. https://staging.clinic.test). Paths and queries are kept.
	Target string `mapstructure:"target"`

	// DisabledCases lists test cases that are not generated.
	DisabledCases []types.TestCase `mapstructure:"disabled_cases"`

	// Scope, when set, restricts replays to in-scope hosts.
	Scope ScopeChecker `mapstructure:"-"`
}

// Skip records a corpus entry that produced no replay at all.
type Skip struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp,omitempty"`
	Method    string `json:"method,omitempty"`
	URL       string `json:"url,omitempty"`
	Reason    string `json:"reason"`
}

// Fuzzer replays corpus requests under substituted identities.
type Fuzzer struct {
	config     Config
	oracle     Evaluator
	extractor  *identity.Extractor
	principals []types.Principal
	roles      []string
	byRole     map[string][]types.Principal
	dispatcher Dispatcher
	logger     Logger
}

// NewFuzzer creates a fuzzer over a fixed set of known principals. The
// principal slice order defines role-grouping order.
func NewFuzzer(cfg Config, evaluator Evaluator, extractor *identity.Extractor, principals []types.Principal, dispatcher Dispatcher, logger Logger) *Fuzzer {
	if logger == nil {
		logger = nopLogger{}
	}
	if extractor == nil {
		extractor = identity.NewExtractor()
	}

	f := &Fuzzer{
		config:     cfg,
		oracle:     evaluator,
		extractor:  extractor,
		principals: append([]types.Principal(nil), principals...),
		byRole:     make(map[string][]types.Principal),
		dispatcher: dispatcher,
		logger:     logger,
	}
	for _, p := range f.principals {
		if _, ok := f.byRole[p.Role]; !ok {
			f.roles = append(f.roles, p.Role)
		}
		f.byRole[p.Role] = append(f.byRole[p.Role], p)
	}
	return f
}

// Roles returns the role groups in first-appearance order.
func (f *Fuzzer) Roles() []string {
	return append([]string(nil), f.roles...)
}

type variant struct {
	testCase    types.TestCase
	description string
	substitute  string
	request     *types.Request
}

// FuzzRequest replays one corpus request under each eligible identity
// substitution. A non-nil Skip means no variant was dispatched. When ctx is
// cancelled mid-way the results gathered so far are returned.
func (f *Fuzzer) FuzzRequest(ctx context.Context, req *types.Request) ([]types.VulnerabilityResult, *Skip) {
	principalID, source, ok := f.extractor.ExtractPrincipal(req)
	if !ok {
		return nil, f.skip(req, oracle.DiagNoPrincipal)
	}

	if _, err := types.ActionForMethod(req.Method); err != nil {
		return nil, f.skip(req, err.Error())
	}

	base := req.Clone()
	if err := f.retarget(base); err != nil {
		return nil, f.skip(req, err.Error())
	}
	if f.config.Scope != nil && !f.config.Scope.IsInScope(base.URL) {
		return nil, f.skip(req, fmt.Sprintf("%s: %s", ErrOutOfScope, base.URL))
	}

	original := f.resolvePrincipal(principalID, f.extractor.CredentialToken(req))

	f.logger.Debugw("Fuzzing request",
		"request_id", req.ID,
		"method", req.Method,
		"path", req.Path,
		"principal", original.ID,
		"role", original.Role,
		"principal_source", source,
	)

	variants := f.variants(base, original)
	results := make([]types.VulnerabilityResult, 0, len(variants))

	for _, v := range variants {
		if ctx.Err() != nil {
			return results, nil
		}

		resp, err := f.dispatcher.Do(ctx, v.request)
		if err != nil {
			if ctx.Err() != nil {
				return results, nil
			}
			resp = types.SyntheticFailure(err)
		}

		verdict, err := f.oracle.Evaluate(v.request, resp)
		if err != nil {
			f.logger.Warnw("Oracle rejected replayed request",
				"request_id", req.ID,
				"test_case", v.testCase,
				"error", err,
			)
		}

		result := types.VulnerabilityResult{
			TestCase:          v.testCase,
			Description:       v.description,
			Substitute:        v.substitute,
			Request:           v.request,
			Response:          resp,
			IsVulnerable:      verdict.Vulnerable(),
			Verdict:           verdict,
			CorrelationID:     req.ID,
			OriginalTimestamp: req.Timestamp,
			CreatedAt:         time.Now().UTC(),
		}
		if result.IsVulnerable {
			result.Explanation = verdict.Explanation
		}
		results = append(results, result)
	}

	return results, nil
}

// variants builds the replay variants in their fixed order.
func (f *Fuzzer) variants(base *types.Request, original types.Principal) []variant {
	var out []variant

	if f.enabled(types.TestCaseNoAuth) {
		req := base.Clone()
		f.extractor.StripCredentials(req)
		out = append(out, variant{
			testCase:    types.TestCaseNoAuth,
			description: "Request replayed without credentials",
			request:     req,
		})
	}

	if f.enabled(types.TestCaseSameRole) {
		if sub, ok := f.sameRoleSubstitute(original); ok {
			out = append(out, f.substituted(base, types.TestCaseSameRole, sub,
				fmt.Sprintf("Request replayed as %s (same role %s as %s)", sub.ID, sub.Role, original.ID)))
		}
	}

	if f.enabled(types.TestCaseDifferentRole) {
		if sub, ok := f.differentRoleSubstitute(original); ok {
			out = append(out, f.substituted(base, types.TestCaseDifferentRole, sub,
				fmt.Sprintf("Request replayed as %s (role %s instead of %s)", sub.ID, sub.Role, roleLabel(original.Role))))
		}
	}

	return out
}

func (f *Fuzzer) substituted(base *types.Request, tc types.TestCase, sub types.Principal, description string) variant {
	req := base.Clone()
	f.extractor.ApplyCredential(req, sub.Token)
	return variant{
		testCase:    tc,
		description: description,
		substitute:  sub.ID,
		request:     req,
	}
}

// sameRoleSubstitute returns the first other principal sharing the original's
// role. An unknown role has no peers.
func (f *Fuzzer) sameRoleSubstitute(original types.Principal) (types.Principal, bool) {
	if original.Role == "" {
		return types.Principal{}, false
	}
	for _, p := range f.byRole[original.Role] {
		if p.ID != original.ID {
			return p, true
		}
	}
	return types.Principal{}, false
}

// differentRoleSubstitute returns the first principal of the first role, in
// grouping order, that differs from the original's role.
func (f *Fuzzer) differentRoleSubstitute(original types.Principal) (types.Principal, bool) {
	for _, role := range f.roles {
		if role == original.Role {
			continue
		}
		for _, p := range f.byRole[role] {
			if p.ID != original.ID {
				return p, true
			}
		}
	}
	return types.Principal{}, false
}

// resolvePrincipal maps the extracted identifier to a known principal, falling
// back to the credential token. Unknown principals keep an empty role.
func (f *Fuzzer) resolvePrincipal(id, token string) types.Principal {
	for _, p := range f.principals {
		if p.ID == id {
			return p
		}
	}
	if token != "" {
		for _, p := range f.principals {
			if p.Token == token {
				return p
			}
		}
	}
	return types.Principal{ID: id, Token: token}
}

// retarget rewrites scheme and host of the request URL when a target override is configured.
func (f *Fuzzer) retarget(req *types.Request) error {
	if f.config.Target == "" {
		return nil
	}
	target, err := url.Parse(f.config.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, f.config.Target)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	u.Scheme = target.Scheme
	u.Host = target.Host
	return req.SetURL(u.String())
}

func (f *Fuzzer) enabled(tc types.TestCase) bool {
	for _, d := range f.config.DisabledCases {
		if d == tc {
			return false
		}
	}
	return true
}

func (f *Fuzzer) skip(req *types.Request, reason string) *Skip {
	f.logger.Infow("Skipping request",
		"request_id", req.ID,
		"method", req.Method,
		"path", req.Path,
		"reason", reason,
	)
	return &Skip{
		ID:        req.ID,
		Timestamp: req.Timestamp,
		Method:    req.Method,
		URL:       req.URL,
		Reason:    reason,
	}
}

func roleLabel(role string) string {
	if role == "" {
		return "unknown"
	}
	return role
}

type nopLogger struct{}

func (nopLogger) Debugw(string, ...interface{}) {}
func (nopLogger) Infow(string, ...interface{})  {}
func (nopLogger) Warnw(string, ...interface{})  {}
func (nopLogger) Errorw(string, ...interface{}) {}
