// Package firewall resolves the addresses behind the blocked sites and
// renders them as packet filter rules.
package firewall

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gajzzs/blocksites/internal/clock"
	"github.com/gajzzs/blocksites/internal/policy"
	"github.com/gajzzs/blocksites/internal/resolver"
	"github.com/gajzzs/blocksites/internal/schema"
)

// Generator builds the IP cache for a site list.
type Generator struct {
	resolver    resolver.Lookuper
	clock       clock.Clock
	concurrency int
}

func NewGenerator(r resolver.Lookuper, c clock.Clock, concurrency int) *Generator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Generator{resolver: r, clock: c, concurrency: concurrency}
}

// Build resolves every firewall domain of every site, one bounded task per
// (site, domain) pair, and merges the answers per site. Every site gets an
// entry in IPs even when nothing resolved. Only a cancelled context fails
// the build.
func (g *Generator) Build(ctx context.Context, sites []string) (*schema.IPCache, error) {
	var mu sync.Mutex
	resolved := make(map[string]map[string]struct{}, len(sites))
	for _, site := range sites {
		resolved[site] = make(map[string]struct{})
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for _, site := range sites {
		for _, domain := range policy.ExpandDomainsForFirewall(site) {
			site, domain := site, domain
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				ips := g.resolver.LookupA(ctx, domain)
				mu.Lock()
				for _, ip := range ips {
					resolved[site][ip] = struct{}{}
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	cache := &schema.IPCache{
		IPs:         make(map[string][]string, len(sites)),
		DoHIPs:      append([]string(nil), policy.DoHIPs...),
		LastUpdated: g.clock.Now().UTC(),
	}
	for site, set := range resolved {
		cache.IPs[site] = sortedKeys(set)
		if cidrs := policy.CIDRRanges(site); len(cidrs) > 0 {
			if cache.CIDRs == nil {
				cache.CIDRs = make(map[string][]string)
			}
			cache.CIDRs[site] = cidrs
		}
	}
	return cache, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
