// Package enforcer keeps a configured block in force until it expires and
// then removes every trace of it.
//
// A pass is stateless apart from the documents in the store: it loads the
// configuration, reasserts the hosts block and the packet filter ruleset
// while the block is active, and tears everything down once it has
// expired. Collaborator failures during a pass are logged and swallowed so
// the remaining steps still run; the next pass retries.
package enforcer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/multierr"

	"github.com/gajzzs/blocksites/internal/clock"
	"github.com/gajzzs/blocksites/internal/firewall"
	"github.com/gajzzs/blocksites/internal/hosts"
	"github.com/gajzzs/blocksites/internal/log"
	"github.com/gajzzs/blocksites/internal/platform"
	"github.com/gajzzs/blocksites/internal/scheduler"
	"github.com/gajzzs/blocksites/internal/schema"
	"github.com/gajzzs/blocksites/internal/store"
)

// Outcome is what a pass found and did.
type Outcome string

const (
	// OutcomeIdle: no block configured.
	OutcomeIdle Outcome = "idle"
	// OutcomeActive: the block was reasserted.
	OutcomeActive Outcome = "active"
	// OutcomeExpired: the block was torn down.
	OutcomeExpired Outcome = "expired"
	// OutcomeSkipped: another pass or an apply holds the lock.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeUnreadable: the configuration exists but cannot be decoded.
	// It is left alone so a half written file never causes a teardown.
	OutcomeUnreadable Outcome = "unreadable"
)

// ErrActive is returned by Apply while an unexpired block exists.
var ErrActive = errors.New("a block is already active")

type Options struct {
	Store     *store.Store
	HostsPath string
	Marker    string
	Filter    platform.PacketFilter
	Flusher   platform.DNSFlusher
	Scheduler scheduler.Scheduler
	Clock     clock.Clock
	Logger    log.Logger
}

type Engine struct {
	store     *store.Store
	hostsPath string
	marker    string
	filter    platform.PacketFilter
	flusher   platform.DNSFlusher
	scheduler scheduler.Scheduler
	clock     clock.Clock
	log       log.Logger
}

func New(opts Options) *Engine {
	e := &Engine{
		store:     opts.Store,
		hostsPath: opts.HostsPath,
		marker:    opts.Marker,
		filter:    opts.Filter,
		flusher:   opts.Flusher,
		scheduler: opts.Scheduler,
		clock:     opts.Clock,
		log:       opts.Logger,
	}
	if e.marker == "" {
		e.marker = hosts.DefaultMarker
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.log == nil {
		e.log = log.GetLogger()
	}
	return e
}

// Pass runs one enforcement pass. It never fails: problems are logged.
func (e *Engine) Pass(ctx context.Context) Outcome {
	if !e.store.HasConfiguration() {
		return OutcomeIdle
	}

	lock, err := e.store.Lock()
	if errors.Is(err, store.ErrLocked) {
		e.log.Info(map[string]any{"error": err}, "enforcement pass skipped")
		return OutcomeSkipped
	}
	if err != nil {
		e.log.Warn(map[string]any{"step": "lock", "error": err}, "continuing without lock")
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.log.Warn(map[string]any{"step": "unlock", "error": err}, "release lock failed")
		}
	}()

	cfg, err := e.store.LoadConfiguration()
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeIdle
	}
	if err != nil {
		e.log.Error(map[string]any{"step": "load config", "error": err}, "configuration unreadable")
		return OutcomeUnreadable
	}

	now := e.clock.Now()
	if cfg.Active(now) {
		e.reapply(ctx, cfg)
		return OutcomeActive
	}

	e.log.Info(map[string]any{"end": cfg.EndTime, "sites": len(cfg.Sites)}, "block expired")
	if err := e.teardown(ctx); err != nil {
		e.log.Warn(map[string]any{"error": err}, "teardown incomplete")
	} else {
		e.log.Info(nil, "block removed")
	}
	return OutcomeExpired
}

// reapply rewrites the hosts file when it drifted from the block or on the
// first pass, and always reloads the packet filter from the IP cache.
func (e *Engine) reapply(ctx context.Context, cfg *schema.BlockConfiguration) {
	state, err := e.store.LoadState()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.log.Warn(map[string]any{"step": "load state", "error": err}, "treating as first run")
		state = schema.EnforcerState{}
	}

	next := state
	current, perm, err := e.readHosts()
	if err != nil {
		e.log.Warn(map[string]any{"step": "read hosts", "error": err}, "hosts file left untouched")
	} else {
		desired := hosts.Apply(current, cfg.Sites, e.marker)
		desiredHash := hosts.Hash(desired)
		drifted := hosts.Hash(current) != desiredHash
		if !state.FirstRunDone || desiredHash != state.LastHostsHash || drifted {
			if err := store.WriteFileAtomic(e.hostsPath, []byte(desired), perm); err != nil {
				e.log.Warn(map[string]any{"step": "write hosts", "error": err}, "hosts block not written")
			} else {
				e.log.Info(map[string]any{
					"sites":     len(cfg.Sites),
					"first_run": !state.FirstRunDone,
					"restored":  state.FirstRunDone && !hosts.Contains(current, e.marker),
				}, "hosts block written")
				e.flush(ctx)
			}
		}
		next = schema.EnforcerState{LastHostsHash: desiredHash, FirstRunDone: true}
	}

	if err := e.loadRules(ctx); err != nil {
		e.log.Warn(map[string]any{"step": "firewall", "error": err}, "packet filter not reloaded")
	}

	if next != state {
		if err := e.store.SaveState(next); err != nil {
			e.log.Warn(map[string]any{"step": "save state", "error": err}, "enforcer state not saved")
		}
	}
}

func (e *Engine) loadRules(ctx context.Context) error {
	cache, err := e.store.LoadIPCache()
	if err != nil {
		return fmt.Errorf("load ip cache: %w", err)
	}
	return e.filter.Load(ctx, firewall.Rules(cache))
}

func (e *Engine) flush(ctx context.Context) {
	if err := e.flusher.Flush(ctx); err != nil {
		e.log.Warn(map[string]any{"step": "flush dns", "error": err}, "dns cache not flushed")
	}
}

// readHosts returns the hosts content and mode. A missing file reads as
// empty so a deleted hosts file gets the block back.
func (e *Engine) readHosts() (string, fs.FileMode, error) {
	info, err := os.Stat(e.hostsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0644, nil
	}
	if err != nil {
		return "", 0, err
	}
	data, err := os.ReadFile(e.hostsPath)
	if err != nil {
		return "", 0, err
	}
	return string(data), info.Mode().Perm(), nil
}

// teardown removes the block from every layer and deregisters the job.
// The returned error aggregates the failures.
func (e *Engine) teardown(ctx context.Context) error {
	var errs error

	current, perm, err := e.readHosts()
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("read hosts: %w", err))
	} else if cleaned := hosts.Clean(current, e.marker); cleaned != current {
		if err := store.WriteFileAtomic(e.hostsPath, []byte(cleaned), perm); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("write hosts: %w", err))
		} else {
			e.flush(ctx)
		}
	}

	if err := e.filter.Remove(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("remove packet filter: %w", err))
	}
	// The configuration outlives a failed unregister so the next pass
	// retries the whole teardown.
	if err := e.scheduler.Unregister(ctx); err != nil {
		return multierr.Append(errs, fmt.Errorf("unregister job: %w", err))
	}
	if err := e.store.RemoveAll(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("remove state files: %w", err))
	}
	return errs
}
