package firewall

import (
	"fmt"
	"net"
	"sort"

	"github.com/yl2chen/cidranger"

	"github.com/gajzzs/blocksites/internal/schema"
)

type Kind string

const (
	KindIP   Kind = "ip"
	KindCIDR Kind = "cidr"
	KindDoH  Kind = "doh"
)

// Match explains why an address is blocked. Site is empty for DoH entries,
// which apply to every block.
type Match struct {
	Site  string
	Entry string
	Kind  Kind
}

// rangerEntry holds every match for one network; the ranger keeps a single
// entry per network, so sites sharing an address share the entry.
type rangerEntry struct {
	network net.IPNet
	matches []Match
}

func (e *rangerEntry) Network() net.IPNet { return e.network }

// Matcher answers "is this address covered by the ruleset" for an IP cache.
type Matcher struct {
	ranger  cidranger.Ranger
	entries map[string]*rangerEntry
}

// NewMatcher indexes every valid entry of cache in a path-compressed trie.
func NewMatcher(cache *schema.IPCache) (*Matcher, error) {
	m := &Matcher{ranger: cidranger.NewPCTrieRanger(), entries: make(map[string]*rangerEntry)}
	if cache == nil {
		return m, nil
	}
	for site, ips := range cache.IPs {
		for _, ip := range ips {
			if err := m.insert(ip, Match{Site: site, Entry: ip, Kind: KindIP}); err != nil {
				return nil, err
			}
		}
	}
	for site, cidrs := range cache.CIDRs {
		for _, cidr := range cidrs {
			if err := m.insert(cidr, Match{Site: site, Entry: cidr, Kind: KindCIDR}); err != nil {
				return nil, err
			}
		}
	}
	for _, ip := range cache.DoHIPs {
		if err := m.insert(ip, Match{Entry: ip, Kind: KindDoH}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Matcher) insert(addr string, match Match) error {
	network, ok := parseNetwork(addr)
	if !ok {
		return nil
	}
	key := network.String()
	if e, ok := m.entries[key]; ok {
		for _, existing := range e.matches {
			if existing == match {
				return nil
			}
		}
		e.matches = append(e.matches, match)
		return nil
	}
	e := &rangerEntry{network: network, matches: []Match{match}}
	if err := m.ranger.Insert(e); err != nil {
		return fmt.Errorf("index %s: %w", addr, err)
	}
	m.entries[key] = e
	return nil
}

// Lookup returns every entry covering ip, ordered by site then entry.
func (m *Matcher) Lookup(ip string) ([]Match, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address %q", ip)
	}
	entries, err := m.ranger.ContainingNetworks(parsed)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ip, err)
	}
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		if re, ok := e.(*rangerEntry); ok {
			matches = append(matches, re.matches...)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Site != matches[j].Site {
			return matches[i].Site < matches[j].Site
		}
		return matches[i].Entry < matches[j].Entry
	})
	return matches, nil
}

// parseNetwork accepts a bare IP (as a host network) or a CIDR.
func parseNetwork(addr string) (net.IPNet, bool) {
	if _, network, err := net.ParseCIDR(addr); err == nil {
		return *network, true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return net.IPNet{}, false
	}
	if v4 := ip.To4(); v4 != nil {
		return net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, true
	}
	return net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, true
}
