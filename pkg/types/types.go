package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/twmb/murmur3"
)

// ErrUnsupportedMethod is returned when an HTTP verb has no CRUD action.
var ErrUnsupportedMethod = errors.New("unsupported HTTP method")

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Action is the CRUD operation a request performs on an object.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ActionForMethod maps an HTTP verb to its CRUD action.
func ActionForMethod(method string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodPost:
		return ActionCreate, nil
	case http.MethodGet:
		return ActionRead, nil
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate, nil
	case http.MethodDelete:
		return ActionDelete, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
}

// ParseAction accepts either a CRUD action name or an HTTP verb.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionCreate:
		return ActionCreate, nil
	case ActionRead:
		return ActionRead, nil
	case ActionUpdate:
		return ActionUpdate, nil
	case ActionDelete:
		return ActionDelete, nil
	}
	return ActionForMethod(s)
}

// Principal is an authenticated actor observed in traffic or supplied by the operator.
type Principal struct {
	ID    string `json:"id" yaml:"id"`
	Role  string `json:"role" yaml:"role"`
	Token string `json:"token" yaml:"token"`
}

// ObjectRef identifies the target of an action, e.g. users[123].
type ObjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (o ObjectRef) String() string {
	return o.Type + "[" + o.ID + "]"
}

// ParseObjectRef parses the "type[id]" form produced by ObjectRef.String.
func ParseObjectRef(s string) (ObjectRef, error) {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "[")
	if open <= 0 || !strings.HasSuffix(s, "]") || open == len(s)-2 {
		return ObjectRef{}, fmt.Errorf("invalid object reference %q: want type[id]", s)
	}
	return ObjectRef{Type: s[:open], ID: s[open+1 : len(s)-1]}, nil
}

// BodyKind tags the representation held by a Body.
type BodyKind string

const (
	BodyNone       BodyKind = "none"
	BodyRaw        BodyKind = "raw"
	BodyStructured BodyKind = "structured"
)

// Body is a request or response payload normalized at the boundary.
// Structured bodies are JSON objects; everything else is raw text.
type Body struct {
	Kind   BodyKind
	Raw    []byte
	Fields map[string]any
}

// NormalizeBody converts a decoded JSON value (object, string, null, ...) into a Body.
// Strings holding a JSON object are promoted to structured bodies.
func NormalizeBody(v any) Body {
	switch val := v.(type) {
	case nil:
		return Body{Kind: BodyNone}
	case map[string]any:
		return Body{Kind: BodyStructured, Fields: val}
	case string:
		return BodyFromBytes([]byte(val))
	case []byte:
		return BodyFromBytes(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return Body{Kind: BodyRaw, Raw: []byte(fmt.Sprint(val))}
		}
		return Body{Kind: BodyRaw, Raw: raw}
	}
}

// BodyFromBytes normalizes raw bytes, parsing them as a JSON object when possible.
func BodyFromBytes(b []byte) Body {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return Body{Kind: BodyNone}
	}
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			return Body{Kind: BodyStructured, Fields: fields}
		}
	}
	return Body{Kind: BodyRaw, Raw: append([]byte(nil), b...)}
}

// Bytes returns the wire representation of the body.
func (b Body) Bytes() []byte {
	switch b.Kind {
	case BodyStructured:
		out, err := json.Marshal(b.Fields)
		if err != nil {
			return nil
		}
		return out
	case BodyRaw:
		return b.Raw
	default:
		return nil
	}
}

// Field returns a top-level field of a structured body.
func (b Body) Field(name string) (any, bool) {
	if b.Kind != BodyStructured {
		return nil, false
	}
	v, ok := b.Fields[name]
	return v, ok
}

func (b Body) Clone() Body {
	out := Body{Kind: b.Kind}
	if b.Raw != nil {
		out.Raw = append([]byte(nil), b.Raw...)
	}
	if b.Fields != nil {
		out.Fields = cloneMap(b.Fields)
	}
	return out
}

func (b Body) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BodyStructured:
		return json.Marshal(b.Fields)
	case BodyRaw:
		return json.Marshal(string(b.Raw))
	default:
		return []byte("null"), nil
	}
}

func (b *Body) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = NormalizeBody(v)
	return nil
}

// Request is an immutable snapshot of an HTTP request taken from the corpus.
// Variants are produced with Clone and only differ in credential material.
type Request struct {
	ID        string      `json:"id,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Method    string      `json:"method"`
	URL       string      `json:"url"`
	Path      string      `json:"path"`
	Headers   http.Header `json:"headers"`
	Body      Body        `json:"body"`
}

// NewRequest builds a request and derives Path from the URL.
func NewRequest(method, rawURL string, headers map[string]string, body Body) (*Request, error) {
	req := &Request{
		Method:  strings.ToUpper(method),
		Headers: http.Header{},
		Body:    body,
	}
	for k, v := range headers {
		req.Headers.Set(k, v)
	}
	if err := req.SetURL(rawURL); err != nil {
		return nil, err
	}
	return req, nil
}

// SetURL replaces the URL and recomputes the URL-derived fields.
func (r *Request) SetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid request URL %q: %w", rawURL, err)
	}
	r.URL = rawURL
	r.Path = u.Path
	if r.Path == "" {
		r.Path = "/"
	}
	return nil
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	out := *r
	out.Headers = r.Headers.Clone()
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	out.Body = r.Body.Clone()
	return &out
}

// Response is an immutable snapshot paired with the request that produced it.
// Synthetic responses stand in for transport failures.
type Response struct {
	StatusCode int           `json:"status"`
	Headers    http.Header   `json:"headers"`
	Body       Body          `json:"body"`
	Synthetic  bool          `json:"synthetic,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}

// Granted reports whether the target system granted access (2xx).
func (r *Response) Granted() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fingerprint is a murmur3 hash of the response body, used to correlate identical responses.
func (r *Response) Fingerprint() string {
	return fmt.Sprintf("%08x", murmur3.Sum32(r.Body.Bytes()))
}

// SyntheticFailure builds the response recorded when dispatch fails.
func SyntheticFailure(err error) *Response {
	return &Response{
		StatusCode: http.StatusInternalServerError,
		Headers:    http.Header{},
		Body:       Body{Kind: BodyStructured, Fields: map[string]any{"error": err.Error()}},
		Synthetic:  true,
	}
}

// PermissionEntry is one row of the inferred access-control policy.
type PermissionEntry struct {
	Principal string    `json:"principal"`
	Object    ObjectRef `json:"object"`
	Action    Action    `json:"action"`
	Allowed   bool      `json:"allowed"`
}

type VerdictStatus string

const (
	VerdictVulnerable    VerdictStatus = "vulnerable"
	VerdictSafe          VerdictStatus = "safe"
	VerdictIndeterminate VerdictStatus = "indeterminate"
)

type FindingType string

const (
	FindingUnauthorizedAccess      FindingType = "unauthorized_access"
	FindingDeniedDespitePermission FindingType = "denied_despite_permission"
)

// Verdict is the oracle's decision for one request/response pair.
type Verdict struct {
	Status      VerdictStatus `json:"status"`
	FindingType FindingType   `json:"finding_type,omitempty"`
	Severity    Severity      `json:"severity,omitempty"`
	Principal   string        `json:"principal,omitempty"`
	Object      *ObjectRef    `json:"object,omitempty"`
	Action      Action        `json:"action,omitempty"`
	Template    string        `json:"template,omitempty"`
	Explanation string        `json:"explanation"`
}

func (v Verdict) Vulnerable() bool {
	return v.Status == VerdictVulnerable
}

// TestCase labels a fuzzing variant.
type TestCase string

const (
	TestCaseNoAuth        TestCase = "no_auth"
	TestCaseSameRole      TestCase = "same_role"
	TestCaseDifferentRole TestCase = "different_role"
	// TestCaseRecorded labels an offline check of a recorded exchange.
	TestCaseRecorded TestCase = "recorded"
)

// VulnerabilityResult is the write-once record of one fuzz attempt.
type VulnerabilityResult struct {
	TestCase          TestCase  `json:"test_case"`
	Description       string    `json:"description"`
	Substitute        string    `json:"substitute_principal,omitempty"`
	Request           *Request  `json:"request"`
	Response          *Response `json:"response"`
	IsVulnerable      bool      `json:"is_vulnerable"`
	Verdict           Verdict   `json:"verdict"`
	Explanation       string    `json:"vulnerability_explanation,omitempty"`
	CorrelationID     string    `json:"original_request_id"`
	OriginalTimestamp string    `json:"original_timestamp,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneMap(val)
		case []any:
			cp := make([]any, len(val))
			copy(cp, val)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
