// Author @gajzzs
package main

import (
	"fmt"
	"os"

	"github.com/gajzzs/blocksites/internal/app"
	"github.com/gajzzs/blocksites/internal/config"
	"github.com/gajzzs/blocksites/internal/log"
)

// Invoked by launchd every interval, or kept running by the service
// manager with "run". A pass never fails, so the exit code is only
// non-zero when the binary cannot start.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	deps, err := app.NewDeps(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "failed to initialise enforcer")
	}
	if err := app.NewEnforcerCommand(deps).Execute(); err != nil {
		log.Error(map[string]any{"error": err}, "enforcer failed")
		os.Exit(1)
	}
}
