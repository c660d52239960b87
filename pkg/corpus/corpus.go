// Package corpus loads recorded traffic and the auxiliary inputs derived from it:
// known principals, access-pattern summaries and the object inventory.
package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	appvalidation "github.com/CodeMonkeyCybersecurity/authzfuzz/internal/validation"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// ErrInvalidCorpus is returned when the corpus as a whole cannot be read.
var ErrInvalidCorpus = errors.New("invalid traffic corpus")

// Entry is one recorded exchange. Response is nil when none was captured.
type Entry struct {
	ID        string
	Timestamp string
	Request   *types.Request
	Response  *types.Response
}

// Rejection records a corpus entry that could not be turned into a request.
type Rejection struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp,omitempty"`
	Reason    string `json:"reason"`
}

// Corpus holds the usable entries in recorded order plus the rejected ones.
type Corpus struct {
	Entries  []Entry
	Rejected []Rejection
}

func (c *Corpus) Len() int {
	return len(c.Entries)
}

type rawCorpus struct {
	Requests []json.RawMessage `json:"requests"`
}

type rawEntry struct {
	ID        json.RawMessage `json:"id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Request   *rawRequest     `json:"request"`
	Response  *rawResponse    `json:"response"`
}

type rawRequest struct {
	URL     string         `json:"url"`
	Method  string         `json:"method"`
	Headers map[string]any `json:"headers"`
	Body    any            `json:"body"`
}

func (r *rawRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.URL, validation.Required.Error("url is required"), appvalidation.AbsoluteURL),
		validation.Field(&r.Method, validation.Required.Error("method is required"), appvalidation.NotBlank),
	)
}

type rawResponse struct {
	Status  int            `json:"status"`
	Headers map[string]any `json:"headers"`
	Body    any            `json:"body"`
}

// Load reads a corpus file.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes either {"requests": [...]} or a bare array of entries.
// Malformed entries are rejected individually; only an unreadable document fails.
func Parse(data []byte) (*Corpus, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidCorpus)
	}

	var items []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCorpus, err)
		}
	case '{':
		var rc rawCorpus
		if err := json.Unmarshal(data, &rc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCorpus, err)
		}
		if rc.Requests == nil {
			return nil, fmt.Errorf("%w: missing requests array", ErrInvalidCorpus)
		}
		items = rc.Requests
	default:
		return nil, fmt.Errorf("%w: expected a JSON object or array", ErrInvalidCorpus)
	}

	c := &Corpus{}
	for i, item := range items {
		entry, rej := parseEntry(item, i)
		if rej != nil {
			c.Rejected = append(c.Rejected, *rej)
			continue
		}
		c.Entries = append(c.Entries, entry)
	}
	return c, nil
}

func parseEntry(item json.RawMessage, index int) (Entry, *Rejection) {
	var raw rawEntry
	if err := json.Unmarshal(item, &raw); err != nil {
		return Entry{}, &Rejection{ID: fmt.Sprintf("#%d", index), Reason: err.Error()}
	}

	id := scalar(raw.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ts := scalar(raw.Timestamp)

	if raw.Request == nil {
		return Entry{}, &Rejection{ID: id, Timestamp: ts, Reason: "entry has no request"}
	}
	if err := raw.Request.Validate(); err != nil {
		return Entry{}, &Rejection{ID: id, Timestamp: ts, Reason: err.Error()}
	}

	req, err := types.NewRequest(raw.Request.Method, raw.Request.URL, headerMap(raw.Request.Headers), types.NormalizeBody(raw.Request.Body))
	if err != nil {
		return Entry{}, &Rejection{ID: id, Timestamp: ts, Reason: err.Error()}
	}
	req.ID = id
	req.Timestamp = ts

	entry := Entry{ID: id, Timestamp: ts, Request: req}
	if raw.Response != nil {
		entry.Response = &types.Response{
			StatusCode: raw.Response.Status,
			Headers:    responseHeader(raw.Response.Headers),
			Body:       types.NormalizeBody(raw.Response.Body),
		}
	}
	return entry, nil
}

// headerMap flattens recorded headers; list values are joined with ", ".
func headerMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[k] = strings.Join(parts, ", ")
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// responseHeader keeps list values (repeated Set-Cookie) as separate header lines.
func responseHeader(in map[string]any) http.Header {
	h := http.Header{}
	for k, v := range in {
		switch val := v.(type) {
		case []any:
			for _, p := range val {
				h.Add(k, fmt.Sprint(p))
			}
		case nil:
		default:
			h.Add(k, fmt.Sprint(val))
		}
	}
	return h
}

// scalar renders a JSON string or number as a string.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return string(raw)
}
