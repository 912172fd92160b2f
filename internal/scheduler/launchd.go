package scheduler

import (
	"context"
	"fmt"
	"os"

	"howett.net/plist"

	"github.com/gajzzs/blocksites/internal/log"
	"github.com/gajzzs/blocksites/internal/platform"
	"github.com/gajzzs/blocksites/internal/store"
)

const launchctl = "/bin/launchctl"

// launchdJob is the LaunchDaemon descriptor. Field order follows the keys
// launchd documents.
type launchdJob struct {
	Label             string   `plist:"Label"`
	ProgramArguments  []string `plist:"ProgramArguments"`
	StartInterval     int      `plist:"StartInterval,omitempty"`
	RunAtLoad         bool     `plist:"RunAtLoad"`
	StandardOutPath   string   `plist:"StandardOutPath,omitempty"`
	StandardErrorPath string   `plist:"StandardErrorPath,omitempty"`
}

// Launchd registers the job as a LaunchDaemon that launchd starts every
// StartInterval seconds.
type Launchd struct {
	job       Job
	plistPath string
	runner    platform.Runner
}

func NewLaunchd(job Job, plistPath string, runner platform.Runner) *Launchd {
	return &Launchd{job: job, plistPath: plistPath, runner: runner}
}

// Plist renders the descriptor.
func (l *Launchd) Plist() ([]byte, error) {
	desc := launchdJob{
		Label:             l.job.Label,
		ProgramArguments:  append([]string{l.job.Program}, l.job.Arguments...),
		StartInterval:     l.job.IntervalSeconds,
		RunAtLoad:         true,
		StandardOutPath:   l.job.LogPath,
		StandardErrorPath: l.job.LogPath,
	}
	data, err := plist.MarshalIndent(desc, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", l.plistPath, err)
	}
	return data, nil
}

// Register writes the plist and loads it. A job that is already loaded is
// unloaded first so launchd picks up the new descriptor.
func (l *Launchd) Register(ctx context.Context) error {
	data, err := l.Plist()
	if err != nil {
		return err
	}
	if registered, _ := l.Registered(ctx); registered {
		if _, err := l.runner.Run(ctx, launchctl, "unload", l.plistPath); err != nil {
			log.Debug(map[string]any{"error": err}, "launchctl unload before reload")
		}
	}
	if err := store.WriteFileAtomic(l.plistPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", l.plistPath, err)
	}
	if _, err := l.runner.Run(ctx, launchctl, "load", "-w", l.plistPath); err != nil {
		return fmt.Errorf("load %s: %w", l.job.Label, err)
	}
	return nil
}

// Unregister unloads the job and removes its plist.
func (l *Launchd) Unregister(ctx context.Context) error {
	if _, err := os.Stat(l.plistPath); os.IsNotExist(err) {
		return nil
	}
	// unload fails when the job is not loaded; the plist still has to go
	if _, err := l.runner.Run(ctx, launchctl, "unload", "-w", l.plistPath); err != nil {
		log.Warn(map[string]any{"label": l.job.Label, "error": err}, "launchctl unload failed")
	}
	if err := store.RemoveIfExists(l.plistPath); err != nil {
		return fmt.Errorf("remove %s: %w", l.plistPath, err)
	}
	return nil
}

// Registered reports whether the plist is installed.
func (l *Launchd) Registered(context.Context) (bool, error) {
	_, err := os.Stat(l.plistPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}
