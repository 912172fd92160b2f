package platform

import (
	"context"
	"net"
	"strings"

	"go.uber.org/multierr"

	"github.com/gajzzs/blocksites/internal/log"
)

// PacketFilter installs and removes the blocking ruleset. Remove is
// idempotent: removing an absent ruleset succeeds.
type PacketFilter interface {
	Load(ctx context.Context, rules string) error
	Remove(ctx context.Context) error
}

// DNSFlusher drops the system resolver cache so hosts edits take effect.
type DNSFlusher interface {
	Flush(ctx context.Context) error
}

// PFOptions locates the pf anchor and the main pf.conf.
type PFOptions struct {
	AnchorName string
	AnchorPath string
	ConfPath   string
}

// NewPacketFilter returns the packet filter for the running OS.
func NewPacketFilter(opts PFOptions, runner Runner) PacketFilter {
	return newPacketFilter(opts, runner)
}

// NewDNSFlusher returns the cache flusher for the running OS.
func NewDNSFlusher(runner Runner) DNSFlusher {
	return &CommandFlusher{Runner: runner, Commands: flushCommands}
}

// CommandFlusher runs every command in order. One failing command does not
// stop the rest.
type CommandFlusher struct {
	Runner   Runner
	Commands [][]string
}

func (f *CommandFlusher) Flush(ctx context.Context) error {
	var err error
	for _, c := range f.Commands {
		if _, cerr := f.Runner.Run(ctx, c[0], c[1:]...); cerr != nil {
			err = multierr.Append(err, cerr)
			continue
		}
		log.Debug(map[string]any{"command": c[0]}, "dns cache flushed")
	}
	return err
}

// RuleDestinations extracts the addresses of the unscoped "to" rules of a
// ruleset, in order of appearance and without duplicates.
func RuleDestinations(rules string) []string {
	const prefix = "block drop quick from any to "
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(rules, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		dst := strings.TrimPrefix(line, prefix)
		if strings.ContainsAny(dst, " \t") || seen[dst] {
			continue
		}
		seen[dst] = true
		out = append(out, dst)
	}
	return out
}

func parseDestination(dst string) (*net.IPNet, bool) {
	if _, network, err := net.ParseCIDR(dst); err == nil {
		return network, true
	}
	ip := net.ParseIP(dst)
	if ip == nil {
		return nil, false
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, true
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, true
}
