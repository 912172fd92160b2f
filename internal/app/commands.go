package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gajzzs/blocksites/internal/firewall"
	"github.com/gajzzs/blocksites/internal/hostname"
	"github.com/gajzzs/blocksites/internal/policy"
	"github.com/gajzzs/blocksites/internal/privileged"
	"github.com/gajzzs/blocksites/internal/store"
)

// NewRootCommand assembles the blocksites CLI.
func NewRootCommand(d *Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "blocksites",
		Short:         "Block distracting websites for a fixed time",
		Long:          "BlockSites blocks websites through the hosts file and the packet filter until a timer expires.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		NewBlockCommand(d),
		NewStatusCommand(d),
		NewDomainsCommand(),
		NewCheckCommand(d),
		NewApplyCommand(d),
	)
	return root
}

func NewDomainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "domains [site]",
		Short: "List every hostname a site expands to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			site, err := cleanSite(args[0])
			if err != nil {
				return err
			}

			if policy.IsKnownPlatform(site) {
				fmt.Fprintf(out, "%s is a known platform: its app and CDN hosts are included.\n\n", site)
			}
			fmt.Fprintf(out, "Hosts file entries for %s:\n", site)
			for _, d := range policy.ExpandDomains(site) {
				fmt.Fprintf(out, "  %s\n", d)
			}
			fmt.Fprintln(out, "\nResolved for the packet filter:")
			for _, d := range policy.ExpandDomainsForFirewall(site) {
				fmt.Fprintf(out, "  %s\n", d)
			}
			if ranges := policy.CIDRRanges(site); len(ranges) > 0 {
				fmt.Fprintln(out, "\nAddress ranges:")
				for _, r := range ranges {
					fmt.Fprintf(out, "  %s\n", r)
				}
			}
			return nil
		},
	}
}

func NewCheckCommand(d *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "check [ip]",
		Short: "Show which blocked site an IP address belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cache, err := d.Store.LoadIPCache()
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(out, "No IP cache: no block has been applied.")
				return nil
			}
			if err != nil {
				return err
			}

			m, err := firewall.NewMatcher(cache)
			if err != nil {
				return err
			}
			matches, err := m.Lookup(args[0])
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Fprintf(out, "%s is not blocked\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "%s is blocked:\n", args[0])
			for _, match := range matches {
				switch match.Kind {
				case firewall.KindDoH:
					fmt.Fprintf(out, "  DNS-over-HTTPS resolver %s (port 443)\n", match.Entry)
				default:
					fmt.Fprintf(out, "  %s via %s %s\n", match.Site, match.Kind, match.Entry)
				}
			}
			return nil
		},
	}
}

// NewApplyCommand is the root-only helper the block command elevates into.
func NewApplyCommand(d *Deps) *cobra.Command {
	var requestPath string
	cmd := &cobra.Command{
		Use:    "apply",
		Short:  "Install a block from a request file (runs as root)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !d.IsRoot() {
				return errors.New("apply must run as root")
			}
			req, err := privileged.ReadRequest(requestPath)
			if err != nil {
				return err
			}
			return d.Engine.Apply(cmd.Context(), &req.Config, &req.IPCache)
		},
	}
	cmd.Flags().StringVar(&requestPath, "request", "", "path of the request file")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func cleanSite(raw string) (string, error) {
	if err := hostname.Check(raw); err != nil {
		return "", err
	}
	return hostname.Clean(raw), nil
}
