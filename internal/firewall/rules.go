package firewall

import (
	"net"
	"sort"
	"strings"

	"github.com/gajzzs/blocksites/internal/schema"
)

// RulesHeader opens every generated ruleset.
const RulesHeader = "# BlockSites firewall rules"

// Rules renders the packet filter ruleset for cache: two drop rules per
// resolved IP and per CIDR, one port 443 rule per DoH IP. Addresses are
// deduplicated and sorted, so equal caches produce identical text.
// Entries that are not a valid address or network are skipped.
func Rules(cache *schema.IPCache) string {
	var b strings.Builder
	b.WriteString(RulesHeader + "\n")
	if cache == nil {
		return b.String()
	}

	for _, ip := range collect(cache.IPs, isIP) {
		writeBidirectional(&b, ip)
	}
	for _, cidr := range collect(cache.CIDRs, isCIDR) {
		writeBidirectional(&b, cidr)
	}
	for _, ip := range unique(cache.DoHIPs, isIP) {
		b.WriteString("block drop quick proto tcp from any to " + ip + " port 443\n")
	}
	return b.String()
}

func writeBidirectional(b *strings.Builder, addr string) {
	b.WriteString("block drop quick from any to " + addr + "\n")
	b.WriteString("block drop quick from " + addr + " to any\n")
}

func collect(bySite map[string][]string, valid func(string) bool) []string {
	var all []string
	for _, addrs := range bySite {
		all = append(all, addrs...)
	}
	return unique(all, valid)
}

func unique(addrs []string, valid func(string) bool) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if _, dup := seen[a]; dup || !valid(a) {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func isIP(s string) bool { return net.ParseIP(s) != nil }

func isCIDR(s string) bool {
	_, _, err := net.ParseCIDR(s)
	return err == nil
}
