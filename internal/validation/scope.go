package validation

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// ScopeFile lists the hosts replays are authorized to reach.
type ScopeFile struct {
	InScope     []ScopeEntry
	OutOfScope  []ScopeEntry
	Description string
}

// ScopeEntry is a single domain, wildcard, IP, CIDR range or URL prefix.
type ScopeEntry struct {
	Value string
	Type  string // "domain", "wildcard", "ip", "ip_range", "url"
}

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// LoadScopeFile loads and parses a scope file
func LoadScopeFile(path string) (*ScopeFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scope file: %w", err)
	}
	defer file.Close()

	scope, err := ParseScope(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scope file %s: %w", path, err)
	}
	return scope, nil
}

// ParseScope reads the line-based scope format. Entries before any section
// header are in scope; unparseable lines are ignored.
func ParseScope(r io.Reader) (*ScopeFile, error) {
	scope := &ScopeFile{
		InScope:    []ScopeEntry{},
		OutOfScope: []ScopeEntry{},
	}

	scanner := bufio.NewScanner(r)
	inScopeSection := true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "# Description:") {
				scope.Description = strings.TrimSpace(strings.TrimPrefix(line, "# Description:"))
			}
			continue
		}

		switch strings.ToLower(line) {
		case "[in-scope]", "[inscope]":
			inScopeSection = true
			continue
		case "[out-of-scope]", "[outofscope]":
			inScopeSection = false
			continue
		}

		entry := parseScopeEntry(line)
		if entry == nil {
			continue
		}

		if inScopeSection {
			scope.InScope = append(scope.InScope, *entry)
		} else {
			scope.OutOfScope = append(scope.OutOfScope, *entry)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading scope: %w", err)
	}
	return scope, nil
}

func parseScopeEntry(line string) *ScopeEntry {
	if strings.Contains(line, "/") && !strings.Contains(line, "://") {
		if _, _, err := net.ParseCIDR(line); err == nil {
			return &ScopeEntry{Value: line, Type: "ip_range"}
		}
	}

	if net.ParseIP(line) != nil {
		return &ScopeEntry{Value: line, Type: "ip"}
	}

	if strings.HasPrefix(line, "*.") && isDomain(strings.TrimPrefix(line, "*.")) {
		return &ScopeEntry{Value: line, Type: "wildcard"}
	}

	if isDomain(line) {
		return &ScopeEntry{Value: line, Type: "domain"}
	}

	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		return &ScopeEntry{Value: line, Type: "url"}
	}

	return nil
}

// IsInScope reports whether a replay URL or bare host may be contacted.
// Out-of-scope entries win over in-scope ones.
func (sf *ScopeFile) IsInScope(target string) bool {
	host, rest := normalizeTarget(target)
	if host == "" {
		return false
	}
	if sf.matchesAnyEntry(host, rest, sf.OutOfScope) {
		return false
	}
	return sf.matchesAnyEntry(host, rest, sf.InScope)
}

// normalizeTarget returns the lowercased hostname and the host-plus-path form
// used for URL prefix entries.
func normalizeTarget(target string) (string, string) {
	target = strings.ToLower(strings.TrimSpace(target))
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", ""
	}
	return u.Hostname(), u.Host + u.Path
}

func (sf *ScopeFile) matchesAnyEntry(host, rest string, entries []ScopeEntry) bool {
	for _, entry := range entries {
		if matchesScopeEntry(host, rest, entry) {
			return true
		}
	}
	return false
}

func matchesScopeEntry(host, rest string, entry ScopeEntry) bool {
	entryValue := strings.ToLower(entry.Value)

	switch entry.Type {
	case "domain":
		return host == entryValue || strings.HasSuffix(host, "."+entryValue)

	case "wildcard":
		return strings.HasSuffix(host, strings.TrimPrefix(entryValue, "*"))

	case "ip":
		return host == entryValue

	case "ip_range":
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		_, ipNet, err := net.ParseCIDR(entry.Value)
		if err != nil {
			return false
		}
		return ipNet.Contains(ip)

	case "url":
		prefix := strings.TrimPrefix(strings.TrimPrefix(entryValue, "http://"), "https://")
		return strings.HasPrefix(rest, prefix)
	}

	return false
}

// GenerateScopeFile writes a scope file listing the given hosts as in scope.
func GenerateScopeFile(path string, hosts []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create scope file: %w", err)
	}

	w := bufio.NewWriter(file)
	fmt.Fprintln(w, "# authzfuzz scope file")
	fmt.Fprintln(w, "# Description: Hosts authorized for identity replay")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Format:")
	fmt.Fprintln(w, "#   - Exact domains: api.example.com")
	fmt.Fprintln(w, "#   - Wildcard domains: *.example.com")
	fmt.Fprintln(w, "#   - IP addresses: 192.168.1.1")
	fmt.Fprintln(w, "#   - IP ranges: 192.168.1.0/24")
	fmt.Fprintln(w, "#   - URL prefixes: https://api.example.com/v1")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "[in-scope]")
	for _, host := range hosts {
		fmt.Fprintln(w, host)
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "[out-of-scope]")
	fmt.Fprintln(w, "# Example: payments.example.com")

	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write scope file: %w", err)
	}
	return file.Close()
}

func isDomain(s string) bool {
	return domainRegex.MatchString(s)
}
