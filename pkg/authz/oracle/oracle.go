// Package oracle decides whether a single request/response exchange violates
// the inferred access-control policy.
package oracle

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/identity"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/pathmatch"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/permission"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// Diagnostics attached to indeterminate verdicts.
const (
	DiagNoTemplate       = "no matching path template"
	DiagNoObject         = "no object reference"
	DiagNoPrincipal      = "no resolvable principal"
	DiagNoResponse       = "no response captured"
	DiagTransportFailure = "transport failure"
)

// Logger is the subset of the structured logger the oracle needs.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
}

// Oracle composes the path matcher, identity extractor and permission model.
// All three are read-only, so an Oracle is safe for concurrent use.
type Oracle struct {
	matcher   *pathmatch.Matcher
	extractor *identity.Extractor
	model     *permission.Model
	logger    Logger
}

func New(matcher *pathmatch.Matcher, extractor *identity.Extractor, model *permission.Model, logger Logger) *Oracle {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Oracle{
		matcher:   matcher,
		extractor: extractor,
		model:     model,
		logger:    logger,
	}
}

// Evaluate returns the verdict for one exchange. Unresolvable template, object
// or principal yields an indeterminate verdict, never a safe one. An HTTP verb
// without a CRUD mapping is a caller error and returns types.ErrUnsupportedMethod.
func (o *Oracle) Evaluate(req *types.Request, resp *types.Response) (types.Verdict, error) {
	tmpl, obj, res := o.matcher.Resolve(req.Path)
	switch res {
	case pathmatch.NoTemplate:
		return o.indeterminate(req, fmt.Sprintf("%s for %s %s", DiagNoTemplate, req.Method, req.Path), "", nil), nil
	case pathmatch.NoObjectResolved:
		return o.indeterminate(req, fmt.Sprintf("%s in %s (template %s)", DiagNoObject, req.Path, tmpl.Pattern), tmpl.Pattern, nil), nil
	}

	principal, _, ok := o.extractor.ExtractPrincipal(req)
	if !ok {
		return o.indeterminate(req, fmt.Sprintf("%s on %s %s", DiagNoPrincipal, req.Method, req.Path), tmpl.Pattern, &obj), nil
	}

	action, err := types.ActionForMethod(req.Method)
	if err != nil {
		return types.Verdict{
			Status:      types.VerdictIndeterminate,
			Principal:   principal,
			Object:      &obj,
			Template:    tmpl.Pattern,
			Explanation: fmt.Sprintf("cannot assess %s %s: %v", req.Method, req.Path, err),
		}, err
	}

	if resp == nil {
		return o.indeterminate(req, fmt.Sprintf("%s for %s %s", DiagNoResponse, req.Method, req.Path), tmpl.Pattern, &obj), nil
	}
	if resp.Synthetic {
		cause, _ := resp.Body.Field("error")
		return o.indeterminate(req, fmt.Sprintf("%s for %s %s: %v", DiagTransportFailure, req.Method, req.Path, cause), tmpl.Pattern, &obj), nil
	}

	allowed := o.model.Check(principal, obj, action)
	granted := resp.Granted()

	v := types.Verdict{
		Principal: principal,
		Object:    &obj,
		Action:    action,
		Template:  tmpl.Pattern,
	}

	switch {
	case granted && !allowed:
		v.Status = types.VerdictVulnerable
		v.FindingType = types.FindingUnauthorizedAccess
		v.Severity = unauthorizedSeverity(action)
		v.Explanation = fmt.Sprintf("%s accessed %s via %s (%s) without permission (status %d)",
			principal, obj, req.Method, action, resp.StatusCode)
	case !granted && allowed:
		v.Status = types.VerdictVulnerable
		v.FindingType = types.FindingDeniedDespitePermission
		v.Severity = types.SeverityLow
		v.Explanation = fmt.Sprintf("%s was denied %s (%s) on %s despite permission (status %d)",
			principal, req.Method, action, obj, resp.StatusCode)
	case granted:
		v.Status = types.VerdictSafe
		v.Explanation = fmt.Sprintf("%s is permitted to %s %s and was granted access (status %d)",
			principal, action, obj, resp.StatusCode)
	default:
		v.Status = types.VerdictSafe
		v.Explanation = fmt.Sprintf("%s is not permitted to %s %s and was denied (status %d)",
			principal, action, obj, resp.StatusCode)
	}

	if v.Vulnerable() {
		o.logger.Warnw("Authorization violation",
			"finding_type", v.FindingType,
			"principal", principal,
			"object", obj.String(),
			"action", action,
			"method", req.Method,
			"status", resp.StatusCode,
		)
	} else {
		o.logger.Debugw("Exchange consistent with policy",
			"principal", principal,
			"object", obj.String(),
			"action", action,
			"status", resp.StatusCode,
		)
	}

	return v, nil
}

// IsVulnerable reports the boolean verdict with its explanation.
// Indeterminate exchanges are not vulnerable.
func (o *Oracle) IsVulnerable(req *types.Request, resp *types.Response) (bool, string, error) {
	v, err := o.Evaluate(req, resp)
	return v.Vulnerable(), v.Explanation, err
}

// Explain always returns a descriptive string, including for exchanges that
// cannot be assessed.
func (o *Oracle) Explain(req *types.Request, resp *types.Response) string {
	v, _ := o.Evaluate(req, resp)
	return v.Explanation
}

func (o *Oracle) indeterminate(req *types.Request, diag, template string, obj *types.ObjectRef) types.Verdict {
	o.logger.Infow("Indeterminate verdict",
		"method", req.Method,
		"path", req.Path,
		"reason", diag,
	)
	return types.Verdict{
		Status:      types.VerdictIndeterminate,
		Object:      obj,
		Template:    template,
		Explanation: "indeterminate: " + diag,
	}
}

func unauthorizedSeverity(action types.Action) types.Severity {
	if action == types.ActionRead {
		return types.SeverityHigh
	}
	return types.SeverityCritical
}

type nopLogger struct{}

func (nopLogger) Debugw(string, ...interface{}) {}
func (nopLogger) Infow(string, ...interface{})  {}
func (nopLogger) Warnw(string, ...interface{})  {}
