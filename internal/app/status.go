package app

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gajzzs/blocksites/internal/store"
	"github.com/gajzzs/blocksites/internal/timefmt"
)

const progressWidth = 30

func NewStatusCommand(d *Deps) *cobra.Command {
	return &cobra.Command{
		Use:                   "status",
		Short:                 "Show the current block and time remaining",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := d.Store.LoadConfiguration()
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(out, "Status: Idle")
				fmt.Fprintln(out, "No sites are blocked.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read block configuration: %w", err)
			}

			now := d.Clock.Now()
			if !cfg.Active(now) {
				fmt.Fprintln(out, "Status: Expired")
				fmt.Fprintf(out, "The block ended at %s and will be removed on the next enforcer run.\n",
					cfg.EndTime.Local().Format("15:04"))
				return nil
			}

			fmt.Fprintln(out, "Status: Active")
			fmt.Fprintf(out, "Remaining: %s (until %s)\n",
				timefmt.FormatDuration(cfg.Remaining(now)), cfg.EndTime.Local().Format("Mon 15:04"))
			writeProgress(out, cfg.Progress(now))

			fmt.Fprintf(out, "\nBlocked sites (%d):\n", len(cfg.Sites))
			for _, site := range cfg.Sites {
				fmt.Fprintf(out, "  - %s\n", site)
			}

			if cache, err := d.Store.LoadIPCache(); err == nil {
				fmt.Fprintf(out, "\nFirewall rules: %d site(s), resolved %s\n",
					len(cache.Sites()), cache.LastUpdated.Local().Format("15:04"))
			}

			if registered, err := d.Scheduler.Registered(cmd.Context()); err == nil && !registered {
				fmt.Fprintln(out, "\nWARNING: the enforcer job is not registered")
			}
			return nil
		},
	}
}

func writeProgress(w io.Writer, p float64) {
	filled := int(p * progressWidth)
	fmt.Fprintf(w, "Progress:  [%s%s] %3.0f%%\n",
		strings.Repeat("#", filled), strings.Repeat("-", progressWidth-filled), p*100)
}
