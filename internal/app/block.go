package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gajzzs/blocksites/internal/firewall"
	"github.com/gajzzs/blocksites/internal/hostname"
	"github.com/gajzzs/blocksites/internal/policy"
	"github.com/gajzzs/blocksites/internal/privileged"
	"github.com/gajzzs/blocksites/internal/schema"
	"github.com/gajzzs/blocksites/internal/timefmt"
)

func NewBlockCommand(d *Deps) *cobra.Command {
	var (
		sites   string
		hours   int
		minutes int
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "block [site...]",
		Short: "Block sites until the timer runs out",
		Long: "Blocks the given sites through the hosts file and the packet filter.\n" +
			"Once started a block cannot be lifted before it expires.",
		Example: "  blocksites block --sites x.com,reddit.com --hours 2\n  blocksites block youtube.com --minutes 45",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			valid, invalid := hostname.ValidateAndClean(append(hostname.SplitList(sites), args...))
			for _, in := range invalid {
				fmt.Fprintf(cmd.ErrOrStderr(), "Skipping %v\n", hostname.Check(in))
			}
			if len(valid) == 0 {
				return errors.New("no valid sites to block")
			}

			duration := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
			if duration <= 0 {
				return errors.New("block duration must be positive, use --hours and/or --minutes")
			}

			if existing, err := d.Store.LoadConfiguration(); err == nil && existing.Active(d.Clock.Now()) {
				return fmt.Errorf("a block is already active for another %s",
					timefmt.FormatDuration(existing.Remaining(d.Clock.Now())))
			}

			start := d.Clock.Now()
			cfg := schema.BlockConfiguration{Sites: valid, StartTime: start, EndTime: start.Add(duration)}

			fmt.Fprintln(out, "Sites to block:")
			for _, site := range valid {
				fmt.Fprintf(out, "  - %s (+%d subdomains)\n", site, policy.SubdomainCount(site))
			}
			fmt.Fprintf(out, "Duration: %s (until %s)\n", timefmt.FormatDurationShort(duration), cfg.EndTime.Local().Format("15:04"))

			if !yes {
				ok, err := d.Confirm("Start the block? It cannot be undone until it expires")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}

			fmt.Fprintln(out, "Resolving IP addresses...")
			cache, err := firewall.NewGenerator(d.Lookup, d.Clock, d.Config.ResolveConcurrency).Build(ctx, valid)
			if err != nil {
				return fmt.Errorf("resolve sites: %w", err)
			}

			req := &privileged.Request{Op: privileged.OpApply, Config: cfg, IPCache: *cache}
			err = d.Executor.Execute(ctx, req)
			if errors.Is(err, privileged.ErrDeclined) {
				fmt.Fprintln(out, "Cancelled: administrator authorization was declined.")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Blocking %d site(s) until %s.\n", len(valid), cfg.EndTime.Local().Format("15:04"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&sites, "sites", "s", "", "comma separated sites to block")
	cmd.Flags().IntVar(&hours, "hours", 0, "block duration hours")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 0, "block duration minutes")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
