package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/gajzzs/blocksites/internal/clock"
	"github.com/gajzzs/blocksites/internal/config"
	"github.com/gajzzs/blocksites/internal/enforcer"
	"github.com/gajzzs/blocksites/internal/log"
	"github.com/gajzzs/blocksites/internal/platform"
	"github.com/gajzzs/blocksites/internal/privileged"
	"github.com/gajzzs/blocksites/internal/resolver"
	"github.com/gajzzs/blocksites/internal/scheduler"
	"github.com/gajzzs/blocksites/internal/store"
)

// resolverCacheSize bounds the per-process memo of upstream answers.
const resolverCacheSize = 1024

// Deps carries the collaborators the commands need. Tests swap any field.
type Deps struct {
	Config    *config.AppConfig
	Clock     clock.Clock
	Store     *store.Store
	Lookup    resolver.Lookuper
	Executor  privileged.Executor
	Scheduler scheduler.Scheduler
	Engine    *enforcer.Engine
	// Confirm asks a yes/no question; false means the user declined.
	Confirm func(label string) (bool, error)
	// IsRoot gates the apply helper.
	IsRoot func() bool
}

// NewDeps wires the production collaborators for cfg.
func NewDeps(cfg *config.AppConfig) (*Deps, error) {
	runner := platform.ExecRunner{Timeout: cfg.CommandTimeout}

	lookup, err := resolver.New(cfg.Resolver, cfg.ResolveTimeout, resolverCacheSize)
	if err != nil {
		return nil, err
	}

	sched, err := NewScheduler(cfg, runner)
	if err != nil {
		return nil, err
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	st := store.New(cfg.StateDir)
	clk := clock.RealClock{}
	engine := enforcer.New(enforcer.Options{
		Store:     st,
		HostsPath: cfg.HostsPath,
		Marker:    cfg.Marker,
		Filter: platform.NewPacketFilter(platform.PFOptions{
			AnchorName: config.AnchorName,
			AnchorPath: cfg.AnchorPath,
			ConfPath:   cfg.PFConfPath,
		}, runner),
		Flusher:   platform.NewDNSFlusher(runner),
		Scheduler: sched,
		Clock:     clk,
		Logger:    log.GetLogger(),
	})

	return &Deps{
		Config: cfg,
		Clock:  clk,
		Store:  st,
		Lookup: lookup,
		// no timeout: the user may take a while at the password prompt
		Executor:  &privileged.CommandExecutor{Runner: platform.ExecRunner{}, Self: self, Env: privileged.RequestEnv()},
		Scheduler: sched,
		Engine:    engine,
		Confirm:   promptConfirm,
		IsRoot:    func() bool { return os.Geteuid() == 0 },
	}, nil
}

// EnforcerJob describes the recurring enforcer for cfg's backend.
func EnforcerJob(cfg *config.AppConfig) scheduler.Job {
	job := scheduler.Job{
		Label:           config.JobLabel,
		DisplayName:     "BlockSites Enforcer",
		Description:     "Keeps the active BlockSites block in force until it expires",
		Program:         cfg.EnforcerPath,
		IntervalSeconds: int(cfg.Interval.Seconds()),
		LogPath:         cfg.LogPath,
	}
	if cfg.Scheduler == "service" {
		job.Arguments = []string{"run"}
	}
	return job
}

// NewScheduler returns the registration backend selected by cfg.
func NewScheduler(cfg *config.AppConfig, runner platform.Runner) (scheduler.Scheduler, error) {
	job := EnforcerJob(cfg)
	switch cfg.Scheduler {
	case "launchd":
		return scheduler.NewLaunchd(job, cfg.PlistPath, runner), nil
	case "service":
		svc, err := scheduler.NewService(job, nil)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
	return nil, fmt.Errorf("unknown scheduler %q", cfg.Scheduler)
}

func promptConfirm(label string) (bool, error) {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	answer, err := p.Run()
	if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
}
