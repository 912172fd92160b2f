package platform

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/gajzzs/blocksites/internal/log"
	"github.com/gajzzs/blocksites/internal/store"
)

const pfctl = "/sbin/pfctl"

// anchorComment tags the lines blocksites appends to pf.conf.
const anchorComment = "# BlockSites anchor"

// PF manages a pf anchor: the ruleset file plus the references in pf.conf
// that load it.
type PF struct {
	opts   PFOptions
	runner Runner
}

func NewPF(opts PFOptions, runner Runner) *PF {
	return &PF{opts: opts, runner: runner}
}

// AnchorLines are the pf.conf lines that load the anchor.
func AnchorLines(name, path string) []string {
	return []string{
		anchorComment,
		fmt.Sprintf("anchor %q", name),
		fmt.Sprintf("load anchor %q from %q", name, path),
	}
}

// AddAnchor appends the anchor lines to conf unless the anchor is already
// referenced.
func AddAnchor(conf, name, path string) string {
	if strings.Contains(conf, fmt.Sprintf("anchor %q", name)) {
		return conf
	}
	if conf != "" && !strings.HasSuffix(conf, "\n") {
		conf += "\n"
	}
	return conf + strings.Join(AnchorLines(name, path), "\n") + "\n"
}

// RemoveAnchor drops every line that AddAnchor may have added.
func RemoveAnchor(conf, name string) string {
	ref := fmt.Sprintf("anchor %q", name)
	lines := strings.Split(conf, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, anchorComment) || strings.Contains(line, ref) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Load writes rules to the anchor file, makes sure pf.conf loads it, then
// enables pf and reloads pf.conf.
func (p *PF) Load(ctx context.Context, rules string) error {
	if err := store.WriteFileAtomic(p.opts.AnchorPath, []byte(rules), 0644); err != nil {
		return fmt.Errorf("write anchor: %w", err)
	}
	if err := p.editConf(func(conf string) string {
		return AddAnchor(conf, p.opts.AnchorName, p.opts.AnchorPath)
	}); err != nil {
		return fmt.Errorf("add anchor to %s: %w", p.opts.ConfPath, err)
	}
	// pfctl -e fails when pf is already enabled
	if _, err := p.runner.Run(ctx, pfctl, "-e"); err != nil {
		log.Debug(map[string]any{"error": err}, "pfctl -e")
	}
	if _, err := p.runner.Run(ctx, pfctl, "-f", p.opts.ConfPath); err != nil {
		return fmt.Errorf("reload pf: %w", err)
	}
	return nil
}

// Remove deletes the anchor file and its pf.conf references and reloads.
// Every step runs even when an earlier one fails.
func (p *PF) Remove(ctx context.Context) error {
	err := store.RemoveIfExists(p.opts.AnchorPath)
	err = multierr.Append(err, p.editConf(func(conf string) string {
		return RemoveAnchor(conf, p.opts.AnchorName)
	}))
	if _, rerr := p.runner.Run(ctx, pfctl, "-f", p.opts.ConfPath); rerr != nil {
		err = multierr.Append(err, fmt.Errorf("reload pf: %w", rerr))
	}
	return err
}

func (p *PF) editConf(edit func(string) string) error {
	info, err := os.Stat(p.opts.ConfPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p.opts.ConfPath)
	if err != nil {
		return err
	}
	updated := edit(string(data))
	if updated == string(data) {
		return nil
	}
	return store.WriteFileAtomic(p.opts.ConfPath, []byte(updated), info.Mode().Perm())
}
