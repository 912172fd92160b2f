package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kardianos/service"

	"github.com/gajzzs/blocksites/internal/enforcer"
	"github.com/gajzzs/blocksites/internal/log"
)

// Daemon runs enforcement passes on a fixed interval for backends that
// keep a long-lived process instead of spawning one per tick.
type Daemon struct {
	engine   *enforcer.Engine
	interval time.Duration
	// OnIdle runs once the loop has ended because no block is left. It is
	// called after the loop has finished, so it may stop the service.
	OnIdle func()

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewDaemon(engine *enforcer.Engine, interval time.Duration) *Daemon {
	return &Daemon{engine: engine, interval: interval}
}

// Start implements service.Interface. It must not block.
func (d *Daemon) Start(service.Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	log.Info(map[string]any{"interval": d.interval.String()}, "enforcer daemon starting")
	go func(done chan struct{}) {
		idle := d.loop(ctx)
		close(done)
		if idle && d.OnIdle != nil {
			d.OnIdle()
		}
	}(d.done)
	return nil
}

// Stop implements service.Interface. The block stays in place.
func (d *Daemon) Stop(service.Service) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon not running")
	}
	d.running = false
	d.cancel()
	done := d.done
	d.mu.Unlock()

	<-done
	log.Info(nil, "enforcer daemon stopped")
	return nil
}

// loop runs passes until ctx ends or a pass finds nothing to enforce, and
// reports which of the two happened.
func (d *Daemon) loop(ctx context.Context) bool {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		outcome := d.engine.Pass(ctx)
		log.Debug(map[string]any{"outcome": outcome}, "enforcement pass")
		if outcome == enforcer.OutcomeIdle {
			log.Info(nil, "no block left, enforcer daemon exiting")
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
