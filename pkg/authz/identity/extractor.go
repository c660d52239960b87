// Package identity derives the acting principal from the credential material of a request.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// Source names the channel the principal was read from.
type Source string

const (
	SourceNone          Source = ""
	SourceAuthorization Source = "authorization"
	SourceCookie        Source = "cookie"
	SourceBody          Source = "body"
)

const (
	// UserIDClaim is the token claim holding the principal identifier.
	UserIDClaim = "user_id"
	// RoleClaim is the token claim holding the principal role.
	RoleClaim = "role"
)

var (
	DefaultCookieNames = []string{"session_token", "user"}
	DefaultBodyFields  = []string{"user_id", "user", "username", "id"}
)

// Extractor resolves principals in a fixed priority order:
// Authorization header, then named cookies, then structured body fields.
type Extractor struct {
	cookieNames []string
	bodyFields  []string
}

type Option func(*Extractor)

// WithCookieNames overrides the cookies consulted, in priority order.
func WithCookieNames(names ...string) Option {
	return func(e *Extractor) {
		e.cookieNames = append([]string(nil), names...)
	}
}

// WithBodyFields overrides the body fields consulted, in priority order.
func WithBodyFields(fields ...string) Option {
	return func(e *Extractor) {
		e.bodyFields = append([]string(nil), fields...)
	}
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		cookieNames: DefaultCookieNames,
		bodyFields:  DefaultBodyFields,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractPrincipal returns the principal id and the channel it came from.
// Undecodable sources are treated as absent.
func (e *Extractor) ExtractPrincipal(req *types.Request) (string, Source, bool) {
	if req == nil {
		return "", SourceNone, false
	}

	if token := BearerToken(req.Headers.Get("Authorization")); token != "" {
		if id := resolveToken(token); id != "" {
			return id, SourceAuthorization, true
		}
	}

	for _, name := range e.cookieNames {
		if value := cookieValue(req.Headers, name); value != "" {
			if id := resolveToken(value); id != "" {
				return id, SourceCookie, true
			}
		}
	}

	for _, field := range e.bodyFields {
		v, ok := req.Body.Field(field)
		if !ok {
			continue
		}
		if id := scalarString(v); id != "" {
			return id, SourceBody, true
		}
	}

	return "", SourceNone, false
}

// CredentialToken returns the raw token carried by the request, if any.
func (e *Extractor) CredentialToken(req *types.Request) string {
	if token := BearerToken(req.Headers.Get("Authorization")); token != "" {
		return token
	}
	for _, name := range e.cookieNames {
		if value := cookieValue(req.Headers, name); value != "" {
			return value
		}
	}
	return ""
}

// StripCredentials removes the Authorization header and the configured cookies.
func (e *Extractor) StripCredentials(req *types.Request) {
	req.Headers.Del("Authorization")
	e.rewriteCookies(req.Headers, func(string) (string, bool) { return "", false })
}

// ApplyCredential installs token as the request's credential. Bare tokens are
// normalized into the Bearer form; configured cookies already present are rewritten.
func (e *Extractor) ApplyCredential(req *types.Request, token string) {
	token = strings.TrimSpace(token)
	if t := BearerToken(token); t != "" {
		token = t
	}
	req.Headers.Set("Authorization", "Bearer "+token)
	e.rewriteCookies(req.Headers, func(string) (string, bool) { return token, true })
}

// rewriteCookies applies fn to the values of configured cookies; returning
// false drops the cookie. Other pairs are kept byte for byte, including ones
// net/http would refuse to parse.
func (e *Extractor) rewriteCookies(h http.Header, fn func(value string) (string, bool)) {
	lines := h.Values("Cookie")
	if len(lines) == 0 {
		return
	}
	var parts []string
	for _, line := range lines {
		for _, pair := range strings.Split(line, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, value, _ := strings.Cut(pair, "=")
			if e.isCredentialCookie(strings.TrimSpace(name)) {
				v, keep := fn(value)
				if !keep {
					continue
				}
				pair = strings.TrimSpace(name) + "=" + v
			}
			parts = append(parts, pair)
		}
	}
	if len(parts) == 0 {
		h.Del("Cookie")
		return
	}
	h.Set("Cookie", strings.Join(parts, "; "))
}

func (e *Extractor) isCredentialCookie(name string) bool {
	for _, n := range e.cookieNames {
		if n == name {
			return true
		}
	}
	return false
}

// BearerToken strips a case-insensitive "Bearer " prefix. A value without any
// scheme is accepted as a bare token; other schemes yield "".
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" || strings.EqualFold(header, "bearer") {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if strings.ContainsAny(header, " \t") {
		return ""
	}
	return header
}

// DecodeClaims decodes the payload segment of a JWT-like token. Signatures are
// not verified. It never panics and reports false for anything undecodable.
func DecodeClaims(token string) (map[string]any, bool) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return nil, false
	}

	payload := parts[1]
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}
	data, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}

	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil || claims == nil {
		return nil, false
	}
	return claims, true
}

// ClaimString returns a string or numeric claim as a string.
func ClaimString(claims map[string]any, name string) string {
	if claims == nil {
		return ""
	}
	return scalarString(claims[name])
}

func resolveToken(token string) string {
	if claims, ok := DecodeClaims(token); ok {
		if id := ClaimString(claims, UserIDClaim); id != "" {
			return id
		}
	}
	return token
}

func cookieValue(h http.Header, name string) string {
	if h.Get("Cookie") == "" {
		return ""
	}
	c, err := (&http.Request{Header: h}).Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
