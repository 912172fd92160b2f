// Package hosts builds and strips the marked block of name overrides that
// blocksites owns inside the system hosts file.
package hosts

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/gajzzs/blocksites/internal/policy"
)

// DefaultMarker tags every line blocksites writes.
const DefaultMarker = "# BLOCKSITES"

const sinkAddress = "127.0.0.1"

// Generate renders the marked block for sites: a blank separator line, the
// START sentinel, one override per expanded hostname, one override per DoH
// hostname, and the END sentinel.
func Generate(sites []string, marker string) string {
	var b strings.Builder
	b.WriteString("\n" + marker + " START\n")
	for _, site := range sites {
		for _, domain := range policy.ExpandDomains(site) {
			writeEntry(&b, domain, marker)
		}
	}
	for _, domain := range policy.DoHDomains {
		writeEntry(&b, domain, marker)
	}
	b.WriteString(marker + " END\n")
	return b.String()
}

func writeEntry(b *strings.Builder, domain, marker string) {
	b.WriteString(sinkAddress)
	b.WriteByte(' ')
	b.WriteString(domain)
	b.WriteByte(' ')
	b.WriteString(marker)
	b.WriteByte('\n')
}

// Clean removes every line containing marker (case sensitive substring
// match). The separator newline that Generate puts in front of the START
// sentinel is removed with it, so Clean(base+Generate(...)) == base for any
// base, and text without the marker is returned unchanged. Lines kept after
// a block never get joined onto the line before it.
func Clean(content, marker string) string {
	if marker == "" || !strings.Contains(content, marker) {
		return content
	}

	start := marker + " START"
	out := make([]byte, 0, len(content))
	// index of a separator newline awaiting removal, or -1
	pending := -1
	rest := content
	for len(rest) > 0 {
		line := rest
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i+1], rest[i+1:]
		} else {
			rest = ""
		}

		text := strings.TrimSuffix(line, "\n")
		if !strings.Contains(text, marker) {
			if pending >= 0 {
				// only a blank separator line may go once content follows
				if pending == 0 || out[pending-1] == '\n' {
					out = out[:pending]
				}
				pending = -1
			}
			out = append(out, line...)
			continue
		}
		if strings.TrimSpace(text) == start && pending < 0 && len(out) > 0 && out[len(out)-1] == '\n' {
			pending = len(out) - 1
		}
	}
	if pending >= 0 {
		out = out[:pending]
	}
	return string(out)
}

// Apply strips any previous block from content and appends a fresh one.
func Apply(content string, sites []string, marker string) string {
	return Clean(content, marker) + Generate(sites, marker)
}

// Contains reports whether content carries a block for marker.
func Contains(content, marker string) bool {
	return strings.Contains(content, marker+" START")
}

// Hash is the content fingerprint stored as lastHostsHash.
func Hash(content string) uint64 {
	return xxhash.Sum64String(content)
}
