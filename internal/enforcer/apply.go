package enforcer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/multierr"

	"github.com/gajzzs/blocksites/internal/firewall"
	"github.com/gajzzs/blocksites/internal/hosts"
	"github.com/gajzzs/blocksites/internal/schema"
	"github.com/gajzzs/blocksites/internal/store"
)

// Apply installs a new block. It must run as root.
//
// The hosts block and the job registration are essential: if either fails
// everything written so far is rolled back and the error returned. DNS
// flush and packet filter failures only degrade the block and are logged.
// Each step is idempotent, so a retried Apply converges.
func (e *Engine) Apply(ctx context.Context, cfg *schema.BlockConfiguration, cache *schema.IPCache) error {
	lock, err := e.store.Lock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Release()

	if existing, err := e.store.LoadConfiguration(); err == nil && existing.Active(e.clock.Now()) {
		return fmt.Errorf("%w until %s", ErrActive, existing.EndTime.Local().Format("15:04"))
	}

	if err := e.store.SaveConfiguration(cfg); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	if err := e.store.SaveIPCache(cache); err != nil {
		return e.rollback(fmt.Errorf("save ip cache: %w", err))
	}
	if err := e.store.BackupHosts(e.hostsPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return e.rollback(fmt.Errorf("back up hosts: %w", err))
	}

	current, perm, err := e.readHosts()
	if err != nil {
		return e.rollback(fmt.Errorf("read hosts: %w", err))
	}
	desired := hosts.Apply(current, cfg.Sites, e.marker)
	if err := store.WriteFileAtomic(e.hostsPath, []byte(desired), perm); err != nil {
		return e.rollback(fmt.Errorf("write hosts: %w", err))
	}
	e.flush(ctx)

	if err := e.filter.Load(ctx, firewall.Rules(cache)); err != nil {
		e.log.Warn(map[string]any{"step": "firewall", "error": err}, "packet filter not loaded, hosts block still applies")
	}

	if err := e.store.SaveState(schema.EnforcerState{LastHostsHash: hosts.Hash(desired), FirstRunDone: true}); err != nil {
		e.log.Warn(map[string]any{"step": "save state", "error": err}, "first enforcement pass will rewrite hosts")
	}

	if err := e.scheduler.Register(ctx); err != nil {
		err = fmt.Errorf("register enforcer: %w", err)
		if terr := e.teardown(ctx); terr != nil {
			err = multierr.Append(err, fmt.Errorf("rollback: %w", terr))
		}
		return err
	}

	e.log.Info(map[string]any{"sites": cfg.Sites, "end": cfg.EndTime}, "block applied")
	return nil
}

// rollback removes the documents written before the hosts file changed.
func (e *Engine) rollback(cause error) error {
	if err := e.store.RemoveAll(); err != nil {
		return multierr.Append(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}
