//go:build linux
// +build linux

package platform

import (
	"context"
	"fmt"
	"syscall"

	"github.com/vishvananda/netlink"
	"go.uber.org/multierr"

	"github.com/gajzzs/blocksites/internal/log"
)

var flushCommands = [][]string{
	{"resolvectl", "flush-caches"},
}

// routeProtocol marks the blackhole routes owned by blocksites so Remove
// never touches routes installed by anyone else.
const routeProtocol = netlink.RouteProtocol(0xb5)

type routeTable interface {
	RouteReplace(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
	RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error)
}

// blackholeFilter drops traffic to blocked destinations with blackhole
// routes. Port scoped rules have no route equivalent and are skipped.
type blackholeFilter struct {
	table routeTable
}

func newPacketFilter(_ PFOptions, _ Runner) PacketFilter {
	return &blackholeFilter{table: &netlink.Handle{}}
}

func (f *blackholeFilter) Load(ctx context.Context, rules string) error {
	want := make(map[string]*netlink.Route)
	for _, dst := range RuleDestinations(rules) {
		network, ok := parseDestination(dst)
		if !ok {
			continue
		}
		want[network.String()] = &netlink.Route{
			Dst:      network,
			Type:     syscall.RTN_BLACKHOLE,
			Protocol: routeProtocol,
		}
	}

	existing, err := f.owned()
	if err != nil {
		return err
	}
	var errs error
	for i := range existing {
		r := existing[i]
		if r.Dst != nil {
			if _, keep := want[r.Dst.String()]; keep {
				continue
			}
		}
		errs = multierr.Append(errs, f.table.RouteDel(&r))
	}
	for _, r := range want {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := f.table.RouteReplace(r); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("blackhole %s: %w", r.Dst, err))
		}
	}
	log.Debug(map[string]any{"routes": len(want)}, "blackhole routes loaded")
	return errs
}

func (f *blackholeFilter) Remove(_ context.Context) error {
	existing, err := f.owned()
	if err != nil {
		return err
	}
	var errs error
	for i := range existing {
		errs = multierr.Append(errs, f.table.RouteDel(&existing[i]))
	}
	return errs
}

func (f *blackholeFilter) owned() ([]netlink.Route, error) {
	routes, err := f.table.RouteListFiltered(netlink.FAMILY_ALL,
		&netlink.Route{Protocol: routeProtocol}, netlink.RT_FILTER_PROTOCOL)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return routes, nil
}
