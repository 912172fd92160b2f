package app

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/gajzzs/blocksites/internal/log"
	"github.com/gajzzs/blocksites/internal/scheduler"
)

// NewEnforcerCommand assembles the blocksites-enforcer binary. Without a
// subcommand it runs a single pass, which is what launchd invokes on every
// tick.
func NewEnforcerCommand(d *Deps) *cobra.Command {
	pass := func(cmd *cobra.Command, args []string) error {
		outcome := d.Engine.Pass(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", outcome)
		return nil
	}

	root := &cobra.Command{
		Use:           "blocksites-enforcer",
		Short:         "Keep the active BlockSites block in force",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          pass,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		&cobra.Command{
			Use:   "pass",
			Short: "Run one enforcement pass and exit",
			Args:  cobra.NoArgs,
			RunE:  pass,
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run enforcement passes until stopped (service mode)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				daemon := NewDaemon(d.Engine, d.Config.Interval)
				svc, err := service.New(daemon, scheduler.ServiceConfig(EnforcerJob(d.Config)))
				if err != nil {
					return fmt.Errorf("failed to create service: %w", err)
				}
				daemon.OnIdle = func() {
					if err := svc.Stop(); err != nil {
						log.Warn(map[string]any{"error": err}, "failed to stop enforcer service")
					}
				}
				return svc.Run()
			},
		},
	)
	return root
}
