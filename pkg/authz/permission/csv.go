package permission

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

var csvHeader = []string{"principal", "object", "action", "allowed"}

// column aliases accepted when reading matrices written by other tools
var csvAliases = map[string]string{
	"user":   "principal",
	"method": "action",
	"value":  "allowed",
}

// WriteCSV writes the model as a principal,object,action,allowed matrix.
func (m *Model) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range m.Entries() {
		row := []string{e.Principal, e.Object.String(), string(e.Action), strconv.FormatBool(e.Allowed)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV loads a matrix written by WriteCSV. Rows are validated the same way
// as classifier replies; any bad row fails the load.
func ReadCSV(r io.Reader) (*Model, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty permission matrix", ErrConfiguration)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if alias, ok := csvAliases[name]; ok {
			name = alias
		}
		cols[name] = i
	}
	for _, want := range csvHeader {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("%w: permission matrix missing %q column", ErrConfiguration, want)
		}
	}

	var entries []types.PermissionEntry
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrConfiguration, line, err)
		}

		allowed, err := strconv.ParseBool(strings.TrimSpace(rec[cols["allowed"]]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: allowed must be a boolean", ErrConfiguration, line)
		}
		row := replyRow{
			Principal: principalName(rec[cols["principal"]]),
			Object:    strings.TrimSpace(rec[cols["object"]]),
			Action:    strings.TrimSpace(rec[cols["action"]]),
			Allowed:   &allowed,
		}
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrConfiguration, line, err)
		}

		obj, _ := types.ParseObjectRef(row.Object)
		action, _ := types.ParseAction(row.Action)
		entries = append(entries, types.PermissionEntry{
			Principal: strings.TrimSpace(string(row.Principal)),
			Object:    obj,
			Action:    action,
			Allowed:   allowed,
		})
	}

	return NewModel(entries), nil
}

// SaveCSV writes the model to path.
func (m *Model) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create permission matrix %s: %w", path, err)
	}
	if err := m.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write permission matrix %s: %w", path, err)
	}
	return f.Close()
}

// LoadCSV reads a model from path.
func LoadCSV(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open permission matrix %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}
