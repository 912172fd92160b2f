// Package resolver looks up IPv4 addresses against a fixed upstream
// server, bypassing the local hosts file and system resolver so names that
// are already blocked still resolve to their real addresses.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"

	"github.com/gajzzs/blocksites/internal/log"
)

// Lookuper resolves a domain to its IPv4 addresses. Failures yield an
// empty slice, never an error.
type Lookuper interface {
	LookupA(ctx context.Context, domain string) []string
}

type Resolver struct {
	upstream string
	udp      *dns.Client
	tcp      *dns.Client
	cache    *lru.Cache[string, []string]
}

// New returns a Resolver querying upstream (ip:port). Completed answers,
// including empty ones, are memoized in an LRU of cacheSize entries.
func New(upstream string, timeout time.Duration, cacheSize int) (*Resolver, error) {
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolver cache: %w", err)
	}
	return &Resolver{
		upstream: upstream,
		udp:      &dns.Client{Net: "udp", Timeout: timeout, UDPSize: 4096},
		tcp:      &dns.Client{Net: "tcp", Timeout: timeout},
		cache:    cache,
	}, nil
}

func (r *Resolver) LookupA(ctx context.Context, domain string) []string {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if ips, ok := r.cache.Get(domain); ok {
		return ips
	}

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	req.RecursionDesired = true
	req.SetEdns0(4096, false)

	resp, _, err := r.udp.ExchangeContext(ctx, req, r.upstream)
	if err == nil && resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, req, r.upstream)
	}
	if err != nil {
		log.Debug(map[string]any{"domain": domain, "upstream": r.upstream, "error": err}, "lookup failed")
		return []string{}
	}

	ips := []string{}
	if resp.Rcode == dns.RcodeSuccess {
		ips = answerIPs(resp)
	} else {
		log.Debug(map[string]any{"domain": domain, "rcode": dns.RcodeToString[resp.Rcode]}, "lookup returned no answer")
	}
	r.cache.Add(domain, ips)
	return ips
}

// answerIPs collects every A record in the answer section. Upstream
// recursors return the whole CNAME chain, so records for the chain's
// targets count too.
func answerIPs(resp *dns.Msg) []string {
	seen := make(map[string]bool)
	ips := []string{}
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		ip := a.A.String()
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	sort.Strings(ips)
	return ips
}
