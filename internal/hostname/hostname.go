// Package hostname validates user supplied site names before they are
// written into the hosts file or resolved for firewall rules.
package hostname

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const maxLength = 253

// Labels are 1-63 alphanumerics with internal hyphens; the final label is
// alphabetic, which rules out bare IPv4 addresses.
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`)

// ValidationError describes why a single input was rejected.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid domain %q: %s", e.Input, e.Reason)
}

// Check returns nil when domain is a blockable hostname, or a
// *ValidationError naming the first rule it breaks.
func Check(domain string) error {
	trimmed := strings.TrimSpace(domain)
	switch {
	case trimmed == "":
		return &ValidationError{Input: domain, Reason: "empty"}
	case len(trimmed) > maxLength:
		return &ValidationError{Input: domain, Reason: fmt.Sprintf("longer than %d characters", maxLength)}
	case strings.Contains(trimmed, "://"):
		return &ValidationError{Input: domain, Reason: "contains a URL scheme"}
	case strings.ContainsAny(trimmed, "/?#"):
		return &ValidationError{Input: domain, Reason: "contains a path"}
	case strings.Contains(trimmed, "*"):
		return &ValidationError{Input: domain, Reason: "wildcards are not supported"}
	case net.ParseIP(trimmed) != nil:
		return &ValidationError{Input: domain, Reason: "IP addresses are not supported"}
	case !domainRegex.MatchString(trimmed):
		return &ValidationError{Input: domain, Reason: "not a valid hostname"}
	}
	return nil
}

// IsValid reports whether domain is a blockable hostname.
func IsValid(domain string) bool {
	return Check(domain) == nil
}

// Clean lowercases and trims a raw site entry.
func Clean(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ValidateAndClean normalizes raw, drops duplicates and partitions the
// result into valid and invalid entries. Both partitions keep the order in
// which entries first appeared.
func ValidateAndClean(raw []string) (valid, invalid []string) {
	valid = []string{}
	invalid = []string{}
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		d := Clean(r)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		if IsValid(d) {
			valid = append(valid, d)
		} else {
			invalid = append(invalid, d)
		}
	}
	return valid, invalid
}

// SplitList splits a comma separated --sites value, dropping blanks.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
