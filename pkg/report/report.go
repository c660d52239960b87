// Package report renders fuzzing and check results. Vulnerable findings,
// indeterminate verdicts and skipped entries are always kept in separate
// sections; safe results are only listed on request.
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/murmur3"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/scanners/idor"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// ErrUnsupportedFormat is returned for unknown output formats.
var ErrUnsupportedFormat = errors.New("unsupported report format")

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Finding is one reported replay or recorded exchange.
type Finding struct {
	ID                  string                     `json:"id"`
	CorrelationID       string                     `json:"original_request_id"`
	OriginalTimestamp   string                     `json:"original_timestamp,omitempty"`
	TestCase            types.TestCase             `json:"test_case"`
	Description         string                     `json:"description"`
	Substitute          string                     `json:"substitute_principal,omitempty"`
	Method              string                     `json:"method"`
	URL                 string                     `json:"url"`
	Status              int                        `json:"status"`
	Synthetic           bool                       `json:"synthetic_response,omitempty"`
	ResponseFingerprint string                     `json:"response_fingerprint,omitempty"`
	Verdict             types.Verdict              `json:"verdict"`
	CreatedAt           time.Time                  `json:"created_at"`
	Result              *types.VulnerabilityResult `json:"result,omitempty"`
}

// Report is the rendered outcome of one run.
type Report struct {
	RunID         string       `json:"run_id"`
	Mode          string       `json:"mode"`
	GeneratedAt   time.Time    `json:"generated_at"`
	Summary       idor.Summary `json:"summary"`
	Vulnerable    []Finding    `json:"vulnerable"`
	Indeterminate []Finding    `json:"indeterminate"`
	Safe          []Finding    `json:"safe,omitempty"`
	Skipped       []idor.Skip  `json:"skipped"`
}

// Options control what a report carries.
type Options struct {
	// Mode names the producing command, e.g. "fuzz" or "check".
	Mode string
	// IncludeSafe lists safe results in their own section.
	IncludeSafe bool
	// IncludeExchanges embeds the full request and response in JSON output.
	IncludeExchanges bool
}

// Build turns a batch into a report.
func Build(batch *idor.BatchResult, opts Options) *Report {
	r := &Report{
		RunID:         batch.Summary.RunID,
		Mode:          opts.Mode,
		GeneratedAt:   time.Now().UTC(),
		Summary:       batch.Summary,
		Vulnerable:    []Finding{},
		Indeterminate: []Finding{},
		Skipped:       append([]idor.Skip{}, batch.Skipped...),
	}

	for i := range batch.Results {
		res := &batch.Results[i]
		f := newFinding(res, opts.IncludeExchanges)
		switch res.Verdict.Status {
		case types.VerdictVulnerable:
			r.Vulnerable = append(r.Vulnerable, f)
		case types.VerdictIndeterminate:
			r.Indeterminate = append(r.Indeterminate, f)
		default:
			if opts.IncludeSafe {
				r.Safe = append(r.Safe, f)
			}
		}
	}
	return r
}

func newFinding(res *types.VulnerabilityResult, withExchange bool) Finding {
	f := Finding{
		ID:                FindingID(res),
		CorrelationID:     res.CorrelationID,
		OriginalTimestamp: res.OriginalTimestamp,
		TestCase:          res.TestCase,
		Description:       res.Description,
		Substitute:        res.Substitute,
		Verdict:           res.Verdict,
		CreatedAt:         res.CreatedAt,
	}
	if res.Request != nil {
		f.Method = res.Request.Method
		f.URL = res.Request.URL
	}
	if res.Response != nil {
		f.Status = res.Response.StatusCode
		f.Synthetic = res.Response.Synthetic
		f.ResponseFingerprint = res.Response.Fingerprint()
	}
	if withExchange {
		f.Result = res
	}
	return f
}

// FindingID is a stable murmur3 identifier for a result, so the same replay in
// two runs can be diffed.
func FindingID(res *types.VulnerabilityResult) string {
	h := murmur3.New64()
	parts := []string{res.CorrelationID, string(res.TestCase), res.Substitute}
	if res.Request != nil {
		parts = append(parts, res.Request.Method, res.Request.URL)
	}
	_, _ = h.Write([]byte(strings.Join(parts, "\x00")))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Write renders the report in the given format.
func Write(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatCSV:
		return WriteCSV(w, r)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// WriteJSON writes the nested report.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"section", "id", "original_request_id", "original_timestamp", "test_case",
	"substitute_principal", "method", "url", "status", "synthetic_response",
	"verdict", "finding_type", "severity", "principal", "object", "action",
	"template", "response_fingerprint", "explanation",
}

// WriteCSV writes one row per finding and per skipped entry, with a section
// column telling them apart.
func WriteCSV(w io.Writer, r *Report) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	sections := []struct {
		name     string
		findings []Finding
	}{
		{"vulnerable", r.Vulnerable},
		{"indeterminate", r.Indeterminate},
		{"safe", r.Safe},
	}
	for _, s := range sections {
		for _, f := range s.findings {
			if err := writer.Write(findingRecord(s.name, f)); err != nil {
				return fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
	}

	for _, s := range r.Skipped {
		record := make([]string, len(csvHeader))
		record[0] = "skipped"
		record[2] = s.ID
		record[3] = s.Timestamp
		record[6] = s.Method
		record[7] = s.URL
		record[len(record)-1] = s.Reason
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer flush failed: %w", err)
	}
	return nil
}

func findingRecord(section string, f Finding) []string {
	object := ""
	if f.Verdict.Object != nil {
		object = f.Verdict.Object.String()
	}
	return []string{
		section,
		f.ID,
		f.CorrelationID,
		f.OriginalTimestamp,
		string(f.TestCase),
		f.Substitute,
		f.Method,
		f.URL,
		strconv.Itoa(f.Status),
		strconv.FormatBool(f.Synthetic),
		string(f.Verdict.Status),
		string(f.Verdict.FindingType),
		string(f.Verdict.Severity),
		f.Verdict.Principal,
		object,
		string(f.Verdict.Action),
		f.Verdict.Template,
		f.ResponseFingerprint,
		f.Verdict.Explanation,
	}
}

// Save writes the report to path, or to stdout when path is empty or "-".
func Save(path string, r *Report, format Format) error {
	if path == "" || path == "-" {
		return Write(os.Stdout, r, format)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	if err := Write(file, r, format); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close report %s: %w", path, err)
	}
	return nil
}
